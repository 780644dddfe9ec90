// Package preview produces a single-page proof of a document's first page
// with crop marks and an identifying label.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/local/printquote/internal/coverage"
	"github.com/local/printquote/internal/filetype"
	"github.com/local/printquote/internal/imagerender"
)

const (
	DefaultDPI  = 150
	ContentType = "application/pdf"

	markMM      = 6.0
	markWidthPt = 0.5
	labelMM     = 10.0
	labelSizePt = 10.0
)

// Renderer builds preview PDFs. The zero value renders at DefaultDPI with
// the wall clock.
type Renderer struct {
	DPI int
	Now func() time.Time
}

// New returns a Renderer rasterizing at dpi.
func New(dpi int) *Renderer { return &Renderer{DPI: dpi} }

func (r *Renderer) dpi() int {
	if r == nil || r.DPI <= 0 {
		return DefaultDPI
	}
	return r.DPI
}

func (r *Renderer) now() time.Time {
	if r == nil || r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// Filename is the name a preview is stored under.
func Filename(orderID string) string { return "preview_" + orderID + ".pdf" }

// Label is the identifying line drawn on every preview.
func Label(orderID string, coveragePct float64, at time.Time) string {
	return fmt.Sprintf("Preview | orderId=%s | coverage=%s%% | %s",
		orderID, strconv.FormatFloat(coveragePct, 'f', -1, 64), at.UTC().Format("2006-01-02 15:04 UTC"))
}

// Render rasterizes the first page of data and returns a one-page PDF the
// size of the original page. It fails with the same errors as coverage
// analysis for unsupported or undecodable input.
func (r *Renderer) Render(data []byte, orderID string, a coverage.Analysis) ([]byte, error) {
	img, wPt, hPt, err := r.rasterize(data, a)
	if err != nil {
		return nil, err
	}
	if wPt <= 0 || hPt <= 0 {
		return nil, errors.New("preview: page has no physical size")
	}
	scale := float64(img.Bounds().Dx()) / wPt

	drawCropMarks(img, scale)
	drawLabel(img, scale, Label(orderID, a.CoveragePct, r.now()))

	var raster bytes.Buffer
	if err := png.Encode(&raster, img); err != nil {
		return nil, fmt.Errorf("encode preview raster: %w", err)
	}

	imp, err := api.Import(fmt.Sprintf("dim:%.2f %.2f, pos:c, sc:1.0", wPt, hPt), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("preview page setup: %w", err)
	}
	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, []io.Reader{&raster}, imp, nil); err != nil {
		return nil, fmt.Errorf("write preview pdf: %w", err)
	}

	log.Debug().
		Str("order_id", orderID).
		Float64("width_pt", wPt).
		Float64("height_pt", hPt).
		Int("bytes", out.Len()).
		Msg("preview rendered")
	return out.Bytes(), nil
}

// rasterize returns page 0 as an opaque raster plus the page size in points.
func (r *Renderer) rasterize(data []byte, a coverage.Analysis) (*image.RGBA, float64, float64, error) {
	info, err := filetype.Detect(data, hintName(a.Type))
	if err != nil {
		return nil, 0, 0, err
	}
	switch info.Kind {
	case filetype.KindPDF:
		p, err := imagerender.RenderFirstPage(data, r.dpi())
		if err != nil {
			return nil, 0, 0, err
		}
		return p.Image, p.WidthPt, p.HeightPt, nil
	case filetype.KindImage:
		raster, err := imagerender.DecodeImage(data)
		if err != nil {
			return nil, 0, 0, err
		}
		b := raster.Image.Bounds()
		if a.PageMM != nil && a.PageMM.W > 0 && a.PageMM.H > 0 {
			return raster.Image, a.PageMM.W / 25.4 * 72, a.PageMM.H / 25.4 * 72, nil
		}
		return raster.Image, float64(b.Dx()) / float64(raster.DPI) * 72, float64(b.Dy()) / float64(raster.DPI) * 72, nil
	}
	return nil, 0, 0, fmt.Errorf("%w: %s", filetype.ErrUnsupportedFormat, info.Kind)
}

func hintName(k filetype.Kind) string {
	switch k {
	case filetype.KindPDF:
		return "original.pdf"
	case filetype.KindImage:
		return "original.png"
	}
	return ""
}

func mmToPt(mm float64) float64 { return mm / 25.4 * 72 }

// drawCropMarks draws an L at each corner, m in from both edges.
func drawCropMarks(img *image.RGBA, scale float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	m := int(math.Round(mmToPt(markMM) * scale))
	t := int(math.Max(1, math.Round(markWidthPt*scale)))

	// top-left
	hline(img, 0, m, m, t)
	vline(img, m, 0, m, t)
	// top-right
	hline(img, w-m, w, m, t)
	vline(img, w-m, 0, m, t)
	// bottom-left
	hline(img, 0, m, h-m, t)
	vline(img, m, h-m, h, t)
	// bottom-right
	hline(img, w-m, w, h-m, t)
	vline(img, w-m, h-m, h, t)
}

func hline(img *image.RGBA, x0, x1, y, t int) {
	draw.Draw(img, image.Rect(x0, y-t/2, x1, y-t/2+t), image.Black, image.Point{}, draw.Src)
}

func vline(img *image.RGBA, x, y0, y1, t int) {
	draw.Draw(img, image.Rect(x-t/2, y0, x-t/2+t, y1), image.Black, image.Point{}, draw.Src)
}

// drawLabel writes text with its baseline labelMM above the bottom edge and
// labelMM in from the left, scaled to roughly labelSizePt.
func drawLabel(img *image.RGBA, scale float64, text string) {
	face := basicfont.Face7x13
	adv := font.MeasureString(face, text).Ceil()
	lineH := face.Height
	if adv == 0 {
		return
	}

	glyphs := image.NewRGBA(image.Rect(0, 0, adv, lineH))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	k := labelSizePt * scale / float64(lineH)
	x := int(math.Round(mmToPt(labelMM) * scale))
	baseline := img.Bounds().Dy() - int(math.Round(mmToPt(labelMM)*scale))
	top := baseline - int(math.Round(float64(face.Ascent)*k))
	dst := image.Rect(x, top, x+int(math.Round(float64(adv)*k)), top+int(math.Round(float64(lineH)*k)))
	draw.ApproxBiLinear.Scale(img, dst, glyphs, glyphs.Bounds(), draw.Over, nil)
}
