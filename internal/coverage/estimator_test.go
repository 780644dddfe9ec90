package coverage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/printquote/internal/filetype"
	"github.com/local/printquote/internal/imagerender"
	"github.com/local/printquote/internal/pdftest"
)

func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.RGBA{A: 255}
)

func TestMeasureBlankPage(t *testing.T) {
	assert.Equal(t, 0.0, Measure(filled(200, 300, white)))
}

func TestMeasureSolidPage(t *testing.T) {
	assert.Equal(t, 100.0, Measure(filled(200, 300, black)))
}

func TestMeasureCentredSquare(t *testing.T) {
	img := filled(100, 100, white)
	for y := 30; y < 70; y++ {
		for x := 30; x < 70; x++ {
			img.SetRGBA(x, y, black)
		}
	}
	// 40×40 ink inside the 96×96 region left after cropping 2 px per edge.
	assert.Equal(t, 17.36, Measure(img))
}

func TestMeasureIgnoresSpeckles(t *testing.T) {
	img := filled(120, 120, white)
	for y := 10; y < 110; y += 7 {
		for x := 10; x < 110; x += 9 {
			img.SetRGBA(x, y, black)
		}
	}
	assert.Equal(t, 0.0, Measure(img))
}

func TestMeasureIgnoresMarginArtifacts(t *testing.T) {
	img := filled(100, 100, white)
	// A dark scanner edge that lies entirely inside the cropped margin.
	for y := 0; y < 100; y++ {
		img.SetRGBA(0, y, black)
		img.SetRGBA(1, y, black)
	}
	assert.Equal(t, 0.0, Measure(img))
}

func TestOpeningKeepsBlocksAndDropsLines(t *testing.T) {
	w, h := 8, 8
	m := make([]bool, w*h)
	// 2×2 block at (1,1).
	m[1*w+1], m[1*w+2], m[2*w+1], m[2*w+2] = true, true, true, true
	// one-pixel-wide horizontal line on row 6.
	for x := 0; x < w; x++ {
		m[6*w+x] = true
	}
	out := open2x2(m, w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inBlock := (x == 1 || x == 2) && (y == 1 || y == 2)
			assert.Equal(t, inBlock, out[y*w+x], "pixel %d,%d", x, y)
		}
	}
}

func TestGaussianKernelIsNormalisedAndSymmetric(t *testing.T) {
	k := gaussianKernel(BlockSize)
	require.Len(t, k, BlockSize)
	sum := 0.0
	for i, v := range k {
		sum += v
		assert.InDelta(t, v, k[len(k)-1-i], 1e-12)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, k[BlockSize/2], k[0])
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAnalyzeImageUsesDefaultResolution(t *testing.T) {
	data := encodePNG(t, filled(600, 300, white))

	a, err := New(0).Analyze(data, "scan.png")
	require.NoError(t, err)
	assert.Equal(t, filetype.KindImage, a.Type)
	assert.Equal(t, 1, a.Pages)
	assert.Equal(t, imagerender.DefaultImageDPI, a.DPIUsed)
	require.NotNil(t, a.PageMM)
	assert.Equal(t, 50.8, a.PageMM.W)
	assert.Equal(t, 25.4, a.PageMM.H)
	assert.Equal(t, 0.0, a.CoveragePct)
	assert.Equal(t, CurrentMethod(), a.Method)
	assert.Equal(t, AlgorithmVersion, a.AlgorithmVersion)
}

func TestAnalyzePDF(t *testing.T) {
	doc := pdftest.Build(
		pdftest.Filled(pdftest.A4Width, pdftest.A4Height),
		pdftest.Blank(pdftest.A4Width, pdftest.A4Height),
		pdftest.Blank(pdftest.A4Width, pdftest.A4Height),
	)

	a, err := New(50).Analyze(doc, "order.pdf")
	require.NoError(t, err)
	assert.Equal(t, filetype.KindPDF, a.Type)
	assert.Equal(t, 3, a.Pages)
	assert.Equal(t, 50, a.DPIUsed)
	require.NotNil(t, a.PageMM)
	assert.Equal(t, 210.0, a.PageMM.W)
	assert.Equal(t, 297.0, a.PageMM.H)
	assert.InDelta(t, 100.0, a.CoveragePct, 0.5)
}

func TestAnalyzeBlankPDF(t *testing.T) {
	a, err := New(50).Analyze(pdftest.Build(pdftest.Blank(pdftest.A4Width, pdftest.A4Height)), "blank.pdf")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, a.CoveragePct, 0.01)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	doc := pdftest.Build(pdftest.Rects(300, 300, [4]float64{50, 50, 120, 80}, [4]float64{200, 180, 40, 90}))
	e := New(72)

	first, err := e.Analyze(doc, "a.pdf")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := e.Analyze(doc, "a.pdf")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Greater(t, first.CoveragePct, 0.0)
	assert.Less(t, first.CoveragePct, 100.0)
}

func TestAnalyzeRejectsUnsupported(t *testing.T) {
	_, err := New(0).Analyze([]byte("just some notes\n"), "notes.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, filetype.ErrUnsupportedFormat))
}

func TestAnalyzeReportsDecodeErrors(t *testing.T) {
	_, err := New(0).Analyze([]byte("definitely not a png"), "photo.png")
	require.Error(t, err)
	assert.True(t, imagerender.IsDecodeError(err))

	_, err = New(0).Analyze([]byte("plain text named like a pdf"), "doc.pdf")
	require.Error(t, err)
	assert.True(t, imagerender.IsDecodeError(err))
}
