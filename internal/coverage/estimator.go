// Package coverage estimates how much of a page's printable area carries ink.
package coverage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/filetype"
	"github.com/local/printquote/internal/imagerender"
)

// AlgorithmVersion tags every analysis with the parameter set that produced it.
const AlgorithmVersion = "v1"

// DefaultDPI is the rasterization resolution for paged documents.
const DefaultDPI = 200

// PageSize is a physical page size in millimetres.
type PageSize struct {
	W float64 `json:"w" firestore:"w"`
	H float64 `json:"h" firestore:"h"`
}

// Method records the exact thresholding parameters used.
type Method struct {
	Threshold string `json:"threshold" firestore:"threshold"`
	BlockSize int    `json:"blockSize" firestore:"blockSize"`
	C         int    `json:"C" firestore:"C"`
	MorphOpen bool   `json:"morph_open" firestore:"morph_open"`
	CropPct   int    `json:"crop_pct" firestore:"crop_pct"`
	DarkFloor int    `json:"dark_floor" firestore:"dark_floor"`
}

// CurrentMethod describes the parameters Measure applies.
func CurrentMethod() Method {
	return Method{
		Threshold: "adaptive_gaussian_inv",
		BlockSize: BlockSize,
		C:         Offset,
		MorphOpen: true,
		CropPct:   CropPct,
		DarkFloor: DarkFloor,
	}
}

// Analysis is the immutable result of estimating one document.
type Analysis struct {
	Type             filetype.Kind `json:"type" firestore:"type"`
	Pages            int           `json:"pages" firestore:"pages"`
	PageMM           *PageSize     `json:"page_mm" firestore:"page_mm"`
	DPIUsed          int           `json:"dpi_used" firestore:"dpi_used"`
	CoveragePct      float64       `json:"coverage_pct" firestore:"coverage_pct"`
	Method           Method        `json:"coverage_method" firestore:"coverage_method"`
	AlgorithmVersion string        `json:"algorithm_version,omitempty" firestore:"algorithm_version,omitempty"`
}

// Estimator analyzes documents. The zero value rasterizes at DefaultDPI.
type Estimator struct {
	DPI int
}

// New returns an Estimator rasterizing paged documents at dpi.
func New(dpi int) *Estimator { return &Estimator{DPI: dpi} }

func (e *Estimator) dpi() int {
	if e == nil || e.DPI <= 0 {
		return DefaultDPI
	}
	return e.DPI
}

// Analyze measures the first page of data. filename is only a format hint.
// It fails with filetype.ErrUnsupportedFormat or *imagerender.DecodeError.
func (e *Estimator) Analyze(data []byte, filename string) (*Analysis, error) {
	info, err := filetype.Detect(data, filename)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var a *Analysis
	switch info.Kind {
	case filetype.KindPDF:
		a, err = e.analyzePDF(data)
	case filetype.KindImage:
		a, err = analyzeImage(data)
	default:
		return nil, fmt.Errorf("%w: %s", filetype.ErrUnsupportedFormat, info.Kind)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("type", string(a.Type)).
		Int("pages", a.Pages).
		Int("dpi", a.DPIUsed).
		Float64("coverage_pct", a.CoveragePct).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("coverage analyzed")
	return a, nil
}

func (e *Estimator) analyzePDF(data []byte) (*Analysis, error) {
	dpi := e.dpi()
	page, err := imagerender.RenderFirstPage(data, dpi)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		Type:  filetype.KindPDF,
		Pages: page.PageCount,
		PageMM: &PageSize{
			W: round2(page.WidthPt / 72 * 25.4),
			H: round2(page.HeightPt / 72 * 25.4),
		},
		DPIUsed:          dpi,
		CoveragePct:      Measure(page.Image),
		Method:           CurrentMethod(),
		AlgorithmVersion: AlgorithmVersion,
	}, nil
}

func analyzeImage(data []byte) (*Analysis, error) {
	r, err := imagerender.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	a := &Analysis{
		Type:             filetype.KindImage,
		Pages:            1,
		DPIUsed:          r.DPI,
		CoveragePct:      Measure(r.Image),
		Method:           CurrentMethod(),
		AlgorithmVersion: AlgorithmVersion,
	}
	if r.DPI > 0 {
		b := r.Image.Bounds()
		a.PageMM = &PageSize{
			W: round2(float64(b.Dx()) / float64(r.DPI) * 25.4),
			H: round2(float64(b.Dy()) / float64(r.DPI) * 25.4),
		}
	}
	return a, nil
}
