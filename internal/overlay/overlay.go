// Package overlay draws the PNG layers composited into studio and user-video
// segments: an opaque studio frame, a transparent studio overlay for looping
// backgrounds, and a transparent info-bar overlay for user clips.
package overlay

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	_ "golang.org/x/image/webp"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

const (
	DefaultWidth  = 1080
	DefaultHeight = 1920
)

// Card is the text and imagery placed on one overlay. Image paths are local
// files; empty means absent.
type Card struct {
	Brand      string
	Headline   string
	Subline    string
	Background string
	Thumbnail  string
}

// Renderer produces the three overlay kinds.
type Renderer interface {
	StudioFrame(card Card, path string) error
	StudioOverlay(card Card, path string) error
	VideoOverlay(card Card, path string) error
}

// Palette holds the brand colours.
type Palette struct {
	Background color.Color
	Accent     color.Color
	Text       color.Color
}

func DefaultPalette() Palette {
	return Palette{
		Background: color.RGBA{R: 0x12, G: 0x16, B: 0x2b, A: 0xff},
		Accent:     color.RGBA{R: 0xe6, G: 0x39, B: 0x46, A: 0xff},
		Text:       color.White,
	}
}

// Generator implements Renderer with gg on a fixed canvas.
type Generator struct {
	width   int
	height  int
	palette Palette
	regular *truetype.Font
	bold    *truetype.Font
}

func NewGenerator(width, height int, palette Palette) (*Generator, error) {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "overlay.NewGenerator", "parse regular font")
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "overlay.NewGenerator", "parse bold font")
	}
	return &Generator{width: width, height: height, palette: palette, regular: regular, bold: bold}, nil
}

// u scales a length designed for the 1080 wide canvas.
func (g *Generator) u(v float64) float64 {
	return v * float64(g.width) / DefaultWidth
}

func (g *Generator) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: g.u(size), Hinting: font.HintingFull})
}

// StudioFrame is the opaque still used when no studio loop is configured:
// background, darkening layer, brand, thumbnail, headline, bottom gradient.
func (g *Generator) StudioFrame(card Card, path string) error {
	const op = "overlay.StudioFrame"
	dc := gg.NewContext(g.width, g.height)
	W, H := float64(g.width), float64(g.height)

	dc.SetColor(g.palette.Background)
	dc.Clear()

	if card.Background != "" {
		bg, err := loadImage(card.Background)
		if err != nil {
			return errors.Wrap(err, op, "load background")
		}
		dc.DrawImage(cover(bg, g.width, g.height), 0, 0)
	}

	dc.SetRGBA(0, 0, 0, 0.45)
	dc.DrawRectangle(0, 0, W, H)
	dc.Fill()

	g.drawBrand(dc, card.Brand)
	if err := g.drawThumbnail(dc, card.Thumbnail); err != nil {
		return errors.Wrap(err, op, "load thumbnail")
	}

	g.drawBottomGradient(dc, 0.85)
	g.drawHeadline(dc, card.Headline, card.Subline, H*0.72)

	return save(dc, path, op)
}

// StudioOverlay is transparent apart from the brand, optional thumbnail,
// headline and bottom gradient; it sits over a looping background video.
// Card.Background is ignored.
func (g *Generator) StudioOverlay(card Card, path string) error {
	const op = "overlay.StudioOverlay"
	dc := gg.NewContext(g.width, g.height)

	g.drawBrand(dc, card.Brand)
	if err := g.drawThumbnail(dc, card.Thumbnail); err != nil {
		return errors.Wrap(err, op, "load thumbnail")
	}
	g.drawBottomGradient(dc, 0.75)
	g.drawHeadline(dc, card.Headline, card.Subline, float64(g.height)*0.74)

	return save(dc, path, op)
}

// VideoOverlay is a transparent canvas with a bottom info bar.
func (g *Generator) VideoOverlay(card Card, path string) error {
	const op = "overlay.VideoOverlay"
	dc := gg.NewContext(g.width, g.height)
	W, H := float64(g.width), float64(g.height)

	barH := g.u(300)
	top := H - barH

	dc.SetRGBA(0, 0, 0, 0.72)
	dc.DrawRectangle(0, top, W, barH)
	dc.Fill()

	dc.SetColor(g.palette.Accent)
	dc.DrawRectangle(0, top, W, g.u(10))
	dc.Fill()

	margin := g.u(48)
	if card.Brand != "" {
		dc.SetFontFace(g.face(g.bold, 34))
		dc.SetColor(g.palette.Accent)
		dc.DrawStringAnchored(strings.ToUpper(card.Brand), margin, top+g.u(60), 0, 0.5)
	}

	dc.SetFontFace(g.face(g.bold, 54))
	dc.SetColor(g.palette.Text)
	lines := clampLines(dc.WordWrap(card.Headline, W-2*margin), 2)
	y := top + g.u(140)
	for _, line := range lines {
		dc.DrawStringAnchored(line, margin, y, 0, 0.5)
		y += g.u(70)
	}

	return save(dc, path, op)
}

func (g *Generator) drawBrand(dc *gg.Context, brand string) {
	if brand == "" {
		return
	}
	W := float64(g.width)
	dc.SetFontFace(g.face(g.bold, 56))
	w, _ := dc.MeasureString(strings.ToUpper(brand))

	padX, boxH := g.u(36), g.u(96)
	x := (W - w - 2*padX) / 2
	y := g.u(120)

	dc.SetColor(g.palette.Accent)
	dc.DrawRoundedRectangle(x, y, w+2*padX, boxH, g.u(18))
	dc.Fill()

	dc.SetColor(g.palette.Text)
	dc.DrawStringAnchored(strings.ToUpper(brand), W/2, y+boxH/2, 0.5, 0.35)
}

// drawThumbnail centres the image at path in the upper half of the canvas.
func (g *Generator) drawThumbnail(dc *gg.Context, path string) error {
	if path == "" {
		return nil
	}
	thumb, err := loadImage(path)
	if err != nil {
		return err
	}
	box := int(g.u(760))
	fitted := contain(thumb, box, box)
	x := (g.width - fitted.Bounds().Dx()) / 2
	y := int(g.u(360)) + (box-fitted.Bounds().Dy())/2
	dc.DrawImage(fitted, x, y)
	return nil
}

// drawHeadline draws the wrapped headline with its first line at y and the
// subline underneath.
func (g *Generator) drawHeadline(dc *gg.Context, headline, subline string, y float64) {
	W := float64(g.width)
	margin := g.u(72)

	dc.SetFontFace(g.face(g.bold, 76))
	dc.SetColor(g.palette.Text)
	for _, line := range clampLines(dc.WordWrap(headline, W-2*margin), 4) {
		dc.DrawStringAnchored(line, W/2, y, 0.5, 0.5)
		y += g.u(96)
	}

	if subline != "" {
		dc.SetFontFace(g.face(g.regular, 42))
		dc.SetRGBA(1, 1, 1, 0.8)
		dc.DrawStringAnchored(subline, W/2, y+g.u(24), 0.5, 0.5)
	}
}

// drawBottomGradient fades from transparent at 55% height to maxAlpha black
// at the bottom edge.
func (g *Generator) drawBottomGradient(dc *gg.Context, maxAlpha float64) {
	W, H := float64(g.width), float64(g.height)
	start := H * 0.55

	grad := gg.NewLinearGradient(0, start, 0, H)
	grad.AddColorStop(0, color.RGBA{})
	grad.AddColorStop(1, color.RGBA{A: uint8(math.Round(maxAlpha * 255))})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, start, W, H-start)
	dc.Fill()
}

func clampLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	out := append([]string(nil), lines[:n]...)
	out[n-1] = strings.TrimRight(out[n-1], " .,") + "…"
	return out
}

func save(dc *gg.Context, path, op string) error {
	if err := dc.SavePNG(path); err != nil {
		return errors.Wrap(err, op, "write png")
	}
	return nil
}

// Decodable reports whether path holds an image the generator can draw.
func Decodable(path string) error {
	if _, err := loadImage(path); err != nil {
		return errors.WrapWithCode(err, errors.CodeAssetUnavailable, "overlay.Decodable", "decode "+filepath.Base(path))
	}
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// cover scales src to fill w×h, cropping the overflow around the centre.
func cover(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	scale := math.Max(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	cropW := int(math.Round(float64(w) / scale))
	cropH := int(math.Round(float64(h) / scale))
	x0 := b.Min.X + (b.Dx()-cropW)/2
	y0 := b.Min.Y + (b.Dy()-cropH)/2

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, image.Rect(x0, y0, x0+cropW, y0+cropH), draw.Src, nil)
	return dst
}

// contain scales src to fit inside w×h keeping its aspect ratio.
func contain(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	scale := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	dw := max(1, int(math.Round(float64(b.Dx())*scale)))
	dh := max(1, int(math.Round(float64(b.Dy())*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
