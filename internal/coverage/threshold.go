package coverage

import (
	"image"
	"math"
)

// Thresholding parameters. Changing any of these changes measured coverage,
// so AlgorithmVersion must be bumped alongside.
const (
	BlockSize = 35
	Offset    = 10
	CropPct   = 2
	// DarkFloor marks any pixel at or below this gray level as ink even when
	// its neighbourhood is equally dark. Without it a uniformly dark page
	// measures as empty under pure local thresholding.
	DarkFloor = 32
)

// Measure returns the ink coverage percentage of img, rounded to 2 decimals.
func Measure(img *image.RGBA) float64 {
	gray, w, h := cropGray(img, CropPct)
	if w == 0 || h == 0 {
		return 0
	}
	mask := thresholdInv(gray, w, h, BlockSize, Offset, DarkFloor)
	mask = open2x2(mask, w, h)

	ink := 0
	for _, v := range mask {
		if v {
			ink++
		}
	}
	return round2(float64(ink) / float64(len(mask)) * 100)
}

// cropGray drops pct percent of each edge and converts to 8-bit luma using
// BT.601 weights in 14-bit fixed point.
func cropGray(img *image.RGBA, pct int) ([]uint8, int, int) {
	b := img.Bounds()
	W, H := b.Dx(), b.Dy()
	padW := W * pct / 100
	padH := H * pct / 100
	w, h := W-2*padW, H-2*padH
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[(y+padH)*img.Stride+padW*4:]
		for x := 0; x < w; x++ {
			r, g, bl := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			out[y*w+x] = uint8((r*4899 + g*9617 + bl*1868 + 8192) >> 14)
		}
	}
	return out, w, h
}

// gaussianKernel returns normalized taps for an odd ksize with the sigma
// derived from ksize the way the common imaging libraries do.
func gaussianKernel(ksize int) []float64 {
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	k := make([]float64, ksize)
	c := float64(ksize-1) / 2
	sum := 0.0
	for i := range k {
		d := float64(i) - c
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// thresholdInv compares each pixel with its Gaussian-weighted neighbourhood
// mean (replicated border). A pixel is foreground when it is at least c
// levels darker than that mean, or at most floor.
func thresholdInv(src []uint8, w, h, ksize, c, floor int) []bool {
	k := gaussianKernel(ksize)
	r := ksize / 2

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			s := 0.0
			for i, kv := range k {
				s += kv * float64(row[clamp(x+i-r, w)])
			}
			tmp[y*w+x] = s
		}
	}

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := 0.0
			for i, kv := range k {
				s += kv * tmp[clamp(y+i-r, h)*w+x]
			}
			mean := int(math.Round(s))
			if mean > 255 {
				mean = 255
			}
			v := int(src[y*w+x])
			mask[y*w+x] = v-mean <= -c || v <= floor
		}
	}
	return mask
}

// open2x2 erodes then dilates with a 2×2 square. Pixels outside the image
// do not take part in either pass.
func open2x2(m []bool, w, h int) []bool {
	er := make([]bool, len(m))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m[y*w+x]
			if v && x > 0 {
				v = m[y*w+x-1]
			}
			if v && y > 0 {
				v = m[(y-1)*w+x]
			}
			if v && x > 0 && y > 0 {
				v = m[(y-1)*w+x-1]
			}
			er[y*w+x] = v
		}
	}
	out := make([]bool, len(m))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := er[y*w+x]
			if !v && x+1 < w {
				v = er[y*w+x+1]
			}
			if !v && y+1 < h {
				v = er[(y+1)*w+x]
			}
			if !v && x+1 < w && y+1 < h {
				v = er[(y+1)*w+x+1]
			}
			out[y*w+x] = v
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
