package imagerender

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultImageDPI is assumed for raster images without resolution metadata.
const DefaultImageDPI = 300

// DecodeError reports bytes that could not be parsed as their claimed format.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Page is the first page of a paged document rendered to an opaque raster.
type Page struct {
	Image     *image.RGBA
	PageCount int
	// Page size in PDF points (1/72 in).
	WidthPt  float64
	HeightPt float64
	DPI      int
}

// Raster is a decoded image file flattened onto white paper.
type Raster struct {
	Image  *image.RGBA
	Format string
	// DPI is DefaultImageDPI when the file carries no usable resolution.
	DPI    int
	HasDPI bool
}

// RenderFirstPage opens a PDF from memory and rasterizes page 0 at dpi.
func RenderFirstPage(data []byte, dpi int) (*Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, &DecodeError{Format: "pdf", Err: err}
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return nil, &DecodeError{Format: "pdf", Err: errors.New("document has no pages")}
	}

	img, err := doc.ImageDPI(0, float64(dpi))
	if err != nil {
		return nil, &DecodeError{Format: "pdf", Err: fmt.Errorf("render page 1: %w", err)}
	}

	bound, err := doc.Bound(0)
	if err != nil {
		return nil, &DecodeError{Format: "pdf", Err: fmt.Errorf("page 1 bounds: %w", err)}
	}
	w, h := pageSizePoints(data, bound)

	log.Debug().
		Int("pages", n).
		Int("width_px", img.Bounds().Dx()).
		Int("height_px", img.Bounds().Dy()).
		Float64("width_pt", w).
		Float64("height_pt", h).
		Int("dpi", dpi).
		Msg("rendered first page")

	return &Page{Image: flatten(img), PageCount: n, WidthPt: w, HeightPt: h, DPI: dpi}, nil
}

// pageSizePoints prefers pdfcpu's fractional page dimensions and falls back
// to MuPDF's integer bounds. MuPDF applies /Rotate and the crop box, so the
// pdfcpu value is only trusted when it agrees (possibly swapped) with it.
func pageSizePoints(data []byte, bound image.Rectangle) (float64, float64) {
	fw, fh := float64(bound.Dx()), float64(bound.Dy())

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil || len(dims) == 0 {
		if err != nil {
			log.Debug().Err(err).Msg("pdfcpu page dims unavailable; using MuPDF bounds")
		}
		return fw, fh
	}
	w, h := dims[0].Width, dims[0].Height
	switch {
	case near(w, fw) && near(h, fh):
		return w, h
	case near(h, fw) && near(w, fh):
		return h, w
	default:
		return fw, fh
	}
}

func near(a, b float64) bool { return math.Abs(a-b) <= 1.5 }

// DecodeImage decodes a raster image and reads its resolution metadata.
func DecodeImage(data []byte) (*Raster, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: "image", Err: err}
	}
	dpi, ok := readDPI(format, data)
	if !ok {
		dpi = DefaultImageDPI
	}
	log.Debug().
		Str("format", format).
		Int("width_px", img.Bounds().Dx()).
		Int("height_px", img.Bounds().Dy()).
		Int("dpi", dpi).
		Bool("dpi_from_metadata", ok).
		Msg("decoded raster image")
	return &Raster{Image: flatten(img), Format: format, DPI: dpi, HasDPI: ok}, nil
}

// flatten composites src over white paper into a zero-origin RGBA.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
