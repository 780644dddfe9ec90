// Package pdftest builds small, valid PDF documents in memory for tests of
// the rasterizing packages. Pages carry raw content-stream operators so the
// rendered ink is known exactly.
package pdftest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// A4 page size in points.
const (
	A4Width  = 595.28
	A4Height = 841.89
)

// Page describes one page of a generated document.
type Page struct {
	Width   float64
	Height  float64
	Rotate  int
	Content string
}

// Blank is an empty page of the given size.
func Blank(w, h float64) Page { return Page{Width: w, Height: h} }

// Filled is a page painted solid black edge to edge.
func Filled(w, h float64) Page {
	return Page{Width: w, Height: h, Content: fmt.Sprintf("0 0 0 rg 0 0 %.2f %.2f re f", w, h)}
}

// Rects is a page with black rectangles given as [x, y, w, h] in points.
func Rects(w, h float64, rects ...[4]float64) Page {
	var b bytes.Buffer
	b.WriteString("0 0 0 rg\n")
	for _, r := range rects {
		fmt.Fprintf(&b, "%.2f %.2f %.2f %.2f re f\n", r[0], r[1], r[2], r[3])
	}
	return Page{Width: w, Height: h, Content: b.String()}
}

// minFileSize is the smallest document pdfcpu will parse.
const minFileSize = 1024

// Build serializes pages into a PDF with a correct cross-reference table.
// Short documents are padded with comment lines so pdfcpu accepts them.
func Build(pages ...Page) []byte {
	if len(pages) == 0 {
		pages = []Page{Blank(A4Width, A4Height)}
	}
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	for buf.Len() < minFileSize {
		buf.WriteString("% filler comment line for minimum file size\n")
	}

	kids := bytes.Buffer{}
	for i := range pages {
		fmt.Fprintf(&kids, "%d 0 R ", 3+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids.Bytes()), len(pages)))
	for i, p := range pages {
		rotate := ""
		if p.Rotate != 0 {
			rotate = fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.2f %.2f]%s /Resources << >> /Contents %d 0 R >>",
			p.Width, p.Height, rotate, 4+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(p.Content), p.Content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// PNG encodes a w×h image filled with c.
func PNG(w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
