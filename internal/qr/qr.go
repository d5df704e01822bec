// Package qr renders redemption URLs as QR code PNGs, optionally
// composited over a configured background image.
package qr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"
	qrcode "github.com/skip2/go-qrcode"
)

// plainSize is the edge length of a QR code rendered without a background.
const plainSize = 512

// Generator renders QR codes for bong redemption URLs.
type Generator struct {
	background image.Image
}

// NewGenerator creates a Generator. backgroundPath may be empty for a plain
// black-and-white code; otherwise the image at that path shows through the
// light modules of the code.
func NewGenerator(backgroundPath string) (*Generator, error) {
	g := &Generator{}
	if backgroundPath != "" {
		img, err := imaging.Open(backgroundPath)
		if err != nil {
			return nil, fmt.Errorf("qr: open background %q: %w", backgroundPath, err)
		}
		g.background = img
	}
	return g, nil
}

// Render encodes url as a QR code PNG.
func (g *Generator) Render(url string) ([]byte, error) {
	if g.background == nil {
		data, err := qrcode.Encode(url, qrcode.Medium, plainSize)
		if err != nil {
			return nil, fmt.Errorf("qr: encode: %w", err)
		}
		return data, nil
	}

	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr: encode: %w", err)
	}
	// No quiet zone; the code fills the whole background.
	code.DisableBorder = true

	bounds := g.background.Bounds()
	mask := imaging.Resize(code.Image(plainSize), bounds.Dx(), bounds.Dy(), imaging.NearestNeighbor)

	// Dark modules stay black, light modules reveal the background.
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.DrawMask(out, bounds, g.background, bounds.Min, lightMask{mask}, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("qr: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// lightMask exposes the light modules of a QR image as an alpha mask:
// opaque where the module is light, transparent where it is dark.
type lightMask struct {
	img image.Image
}

func (m lightMask) ColorModel() color.Model {
	return color.AlphaModel
}

func (m lightMask) Bounds() image.Rectangle {
	return m.img.Bounds()
}

func (m lightMask) At(x, y int) color.Color {
	gray := color.GrayModel.Convert(m.img.At(x, y)).(color.Gray)
	if gray.Y >= 0x80 {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{A: 0}
}
