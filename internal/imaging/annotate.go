// Package imaging overlays capture metadata onto spooled camera frames.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi     float64 = 72
	size    float64 = 18
	spacing float64 = 1.2
	margin  int     = 8
	quality int     = 90
)

// Annotator draws caption lines onto JPEG captures.
type Annotator struct {
	context *freetype.Context
}

// NewAnnotator parses the embedded font and prepares a drawing context.
func NewAnnotator() (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &Annotator{context: context}, nil
}

// Annotate decodes jpegData, draws the caption lines into the top-left
// corner and re-encodes the image.
func (a *Annotator) Annotate(jpegData []byte, lines []string) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}

	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	pt := freetype.Pt(margin, margin+int(a.context.PointToFixed(size)>>6))
	for _, line := range lines {
		if _, err := a.context.DrawString(line, pt); err != nil {
			return nil, fmt.Errorf("drawing caption: %w", err)
		}
		pt.Y += a.context.PointToFixed(size * spacing)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding capture: %w", err)
	}
	return out.Bytes(), nil
}
