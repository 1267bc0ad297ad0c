package pages

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// pixels per point
	rasterScale = 2.0
	// longest image side in pixels
	maxRasterSide = 4096

	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

var outlineColor = color.RGBA{R: 96, G: 96, B: 96, A: 255}

// rasterPage draws the text runs and rectangles of pageNr onto an image and
// wraps the image in a new single-page document of the same size.
func rasterPage(data []byte, pageNr int) ([]byte, error) {
	img, width, height, err := renderPage(data, pageNr)
	if err != nil {
		return nil, err
	}
	return embedImage(img, width, height)
}

// renderPage returns a PNG of the page and the page size in points
func renderPage(data []byte, pageNr int) ([]byte, float64, float64, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open for raster: %w", err)
	}
	if pageNr < 1 || pageNr > r.NumPage() {
		return nil, 0, 0, fmt.Errorf("page %d out of range", pageNr)
	}
	page := r.Page(pageNr)
	if page.V.IsNull() {
		return nil, 0, 0, fmt.Errorf("page %d not found", pageNr)
	}

	width, height := mediaBox(page.V)
	scale := rasterScale
	if longest := max(width, height) * scale; longest > maxRasterSide {
		scale = maxRasterSide / max(width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(width*scale), int(height*scale)))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	// Unreadable content streams still yield a blank page of the right size.
	if content, ok := pageContent(page); ok {
		for _, rect := range content.Rect {
			outline(img, rect, height, scale)
		}
		d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
		for _, text := range content.Text {
			d.Dot = fixed.P(int(text.X*scale), int((height-text.Y)*scale))
			d.DrawString(text.S)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

func pageContent(page pdf.Page) (content pdf.Content, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return page.Content(), true
}

// mediaBox resolves the page size in points, following Parent for an
// inherited box. Letter is assumed when none is present.
func mediaBox(v pdf.Value) (float64, float64) {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w > 0 && h > 0 {
				return w, h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageWidth, defaultPageHeight
}

func outline(img *image.RGBA, r pdf.Rect, pageHeight, scale float64) {
	x0, x1 := int(r.Min.X*scale), int(r.Max.X*scale)
	y0, y1 := int((pageHeight-r.Max.Y)*scale), int((pageHeight-r.Min.Y)*scale)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for x := x0; x <= x1; x++ {
		img.Set(x, y0, outlineColor)
		img.Set(x, y1, outlineColor)
	}
	for y := y0; y <= y1; y++ {
		img.Set(x0, y, outlineColor)
		img.Set(x1, y, outlineColor)
	}
}

// embedImage places img over the full area of a new page of the given size
func embedImage(img []byte, width, height float64) ([]byte, error) {
	if len(img) == 0 {
		return nil, errors.New("empty image")
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = &types.Dim{Width: width, Height: height}
	imp.UserDim = true
	// relative scale 1 fits the image to the page; Full would size the
	// page to the image, which is rasterScale times too large
	imp.Pos = types.Center
	imp.Scale = 1.0
	imp.ScaleAbs = false
	imp.InpUnit = types.POINTS

	var buf bytes.Buffer
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(img)}, imp, conf); err != nil {
		return nil, fmt.Errorf("import page image: %w", err)
	}
	return buf.Bytes(), nil
}
