package filetype

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// ErrUnsupportedFormat is returned for input that is neither a paged document
// nor a raster image.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Kind is the coarse document family used by analysis and preview.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// Info contains detected file type information.
type Info struct {
	Kind        Kind
	MIMEType    string
	Extension   string
	Description string
	// Sniffed is false when the kind came from the filename hint only.
	Sniffed bool
}

var rasterMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/tiff": ".tiff",
	"image/bmp":  ".bmp",
	"image/webp": ".webp",
}

var rasterExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// Detect classifies data using magic bytes first and the filename extension
// second. Content wins when both are present, so a PDF uploaded as
// "scan.png" is still treated as a PDF.
func Detect(data []byte, filename string) (Info, error) {
	mtype := mimetype.Detect(data)
	mimeType := mtype.String()
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	ext := strings.ToLower(filepath.Ext(filename))

	log.Debug().Str("mime", mimeType).Str("ext", ext).Str("file", filename).Msg("detected file type")

	switch {
	case mimeType == "application/pdf":
		return Info{Kind: KindPDF, MIMEType: mimeType, Extension: ".pdf", Description: "PDF document", Sniffed: true}, nil
	case rasterMIME[mimeType] != "":
		return Info{Kind: KindImage, MIMEType: mimeType, Extension: rasterMIME[mimeType], Description: "Image file", Sniffed: true}, nil
	}

	// Content is not a format we rasterize. If the name claims one, trust it
	// and let the decoder report a DecodeError for the mismatching bytes.
	if ext == ".pdf" {
		return Info{Kind: KindPDF, MIMEType: "application/pdf", Extension: ext, Description: "PDF document (by extension)"}, nil
	}
	if m, ok := rasterExt[ext]; ok {
		return Info{Kind: KindImage, MIMEType: m, Extension: ext, Description: "Image file (by extension)"}, nil
	}
	return Info{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, mimeType, describeExt(ext))
}

// IsUnsupported reports whether err is (or wraps) ErrUnsupportedFormat.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupportedFormat) }

func describeExt(ext string) string {
	if ext == "" {
		return "no extension"
	}
	return ext
}
