package imagerender

import (
	"bytes"
	"encoding/binary"
	"math"
)

// readDPI extracts the horizontal resolution recorded in the file header.
// Values are rounded to whole dots per inch.
func readDPI(format string, data []byte) (int, bool) {
	var dpi float64
	switch format {
	case "png":
		dpi = pngDPI(data)
	case "jpeg":
		dpi = jfifDPI(data)
	case "bmp":
		dpi = bmpDPI(data)
	}
	if dpi < 1 {
		return 0, false
	}
	return int(math.Round(dpi)), true
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngDPI reads the pHYs chunk; only the metre unit carries a physical size.
func pngDPI(data []byte) float64 {
	if !bytes.HasPrefix(data, pngSignature) {
		return 0
	}
	p := len(pngSignature)
	for p+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[p:]))
		typ := string(data[p+4 : p+8])
		body := p + 8
		if n < 0 || body+n > len(data) {
			return 0
		}
		switch typ {
		case "pHYs":
			if n < 9 || data[body+8] != 1 {
				return 0
			}
			ppm := binary.BigEndian.Uint32(data[body:])
			return float64(ppm) * 0.0254
		case "IDAT", "IEND":
			return 0
		}
		p = body + n + 4
	}
	return 0
}

// jfifDPI reads the density fields of the JFIF APP0 segment.
func jfifDPI(data []byte) float64 {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0
	}
	p := 2
	for p+4 <= len(data) {
		if data[p] != 0xFF {
			return 0
		}
		marker := data[p+1]
		if marker == 0xDA || marker == 0xD9 {
			return 0
		}
		n := int(binary.BigEndian.Uint16(data[p+2:]))
		seg := p + 4
		if n < 2 || seg+n-2 > len(data) {
			return 0
		}
		if marker == 0xE0 && n >= 14 && bytes.Equal(data[seg:seg+5], []byte("JFIF\x00")) {
			units := data[seg+7]
			x := float64(binary.BigEndian.Uint16(data[seg+8:]))
			switch units {
			case 1:
				return x
			case 2:
				return x * 2.54
			default:
				return 0
			}
		}
		p = seg + n - 2
	}
	return 0
}

// bmpDPI reads biXPelsPerMeter from a BITMAPINFOHEADER or later.
func bmpDPI(data []byte) float64 {
	if len(data) < 42 || data[0] != 'B' || data[1] != 'M' {
		return 0
	}
	if binary.LittleEndian.Uint32(data[14:]) < 40 {
		return 0
	}
	ppm := int32(binary.LittleEndian.Uint32(data[38:]))
	if ppm <= 0 {
		return 0
	}
	return float64(ppm) / 39.3701
}
