package overlay

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

const testW, testH = 270, 480

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator(testW, testH, DefaultPalette())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func decode(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != testW || b.Dy() != testH {
		t.Fatalf("expected %dx%d, got %dx%d", testW, testH, b.Dx(), b.Dy())
	}
	return img
}

func alphaAt(img image.Image, x, y int) uint32 {
	_, _, _, a := img.At(x, y).RGBA()
	return a
}

func writePoster(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	path := filepath.Join(dir, "poster.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStudioFrameIsOpaque(t *testing.T) {
	g := newTestGenerator(t)
	dir := t.TempDir()
	poster := writePoster(t, dir)
	out := filepath.Join(dir, "frame.png")

	card := Card{Brand: "Me News", Headline: "Council approves new library", Subline: "Story 1", Background: poster, Thumbnail: poster}
	if err := g.StudioFrame(card, out); err != nil {
		t.Fatal(err)
	}

	img := decode(t, out)
	for _, p := range []image.Point{{0, 0}, {testW - 1, testH - 1}, {testW / 2, testH / 2}} {
		if a := alphaAt(img, p.X, p.Y); a != 0xffff {
			t.Errorf("pixel %v not opaque: alpha %d", p, a)
		}
	}
}

func TestStudioFrameWithoutImages(t *testing.T) {
	g := newTestGenerator(t)
	out := filepath.Join(t.TempDir(), "frame.png")

	if err := g.StudioFrame(Card{Headline: "Weather"}, out); err != nil {
		t.Fatal(err)
	}
	decode(t, out)
}

func TestStudioOverlayIsTransparentOutsideText(t *testing.T) {
	g := newTestGenerator(t)
	out := filepath.Join(t.TempDir(), "overlay.png")

	if err := g.StudioOverlay(Card{Brand: "Me News", Headline: "Short headline"}, out); err != nil {
		t.Fatal(err)
	}

	img := decode(t, out)
	if a := alphaAt(img, 2, testH*2/5); a != 0 {
		t.Errorf("expected transparent mid-left pixel, alpha %d", a)
	}
	if a := alphaAt(img, 2, testH-1); a == 0 {
		t.Error("expected bottom gradient to be visible")
	}
}

func TestStudioOverlayThumbnail(t *testing.T) {
	g := newTestGenerator(t)
	dir := t.TempDir()
	poster := writePoster(t, dir)
	centre := image.Point{testW / 2, testH * 185 / 480}

	tests := []struct {
		name   string
		card   Card
		opaque bool
	}{
		{"with thumbnail", Card{Headline: "Roadworks", Thumbnail: poster}, true},
		{"background only", Card{Headline: "Roadworks", Background: poster}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, tt.name+".png")
			if err := g.StudioOverlay(tt.card, out); err != nil {
				t.Fatal(err)
			}
			a := alphaAt(decode(t, out), centre.X, centre.Y)
			if tt.opaque && a != 0xffff {
				t.Errorf("thumbnail not drawn: alpha %d", a)
			}
			if !tt.opaque && a != 0 {
				t.Errorf("expected transparent centre, alpha %d", a)
			}
		})
	}
}

func TestDecodable(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "poster.gif")
	if err := os.WriteFile(broken, []byte("GIF89a-truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Decodable(writePoster(t, dir)); err != nil {
		t.Errorf("png poster rejected: %v", err)
	}
	err := Decodable(broken)
	if !errors.IsCode(err, errors.CodeAssetUnavailable) {
		t.Errorf("expected ASSET_UNAVAILABLE, got %v", err)
	}
}

func TestVideoOverlayHasBottomBar(t *testing.T) {
	g := newTestGenerator(t)
	out := filepath.Join(t.TempDir(), "video_overlay.png")

	card := Card{Brand: "Me News", Headline: "A very long headline that will certainly need to wrap over more than two lines of text"}
	if err := g.VideoOverlay(card, out); err != nil {
		t.Fatal(err)
	}

	img := decode(t, out)
	if a := alphaAt(img, 2, 2); a != 0 {
		t.Errorf("expected transparent top, alpha %d", a)
	}
	if a := alphaAt(img, 2, testH-2); a == 0 {
		t.Error("expected info bar at bottom")
	}
}

func TestMissingImageFailsLoudly(t *testing.T) {
	g := newTestGenerator(t)
	out := filepath.Join(t.TempDir(), "frame.png")

	err := g.StudioFrame(Card{Headline: "x", Background: "/does/not/exist.png"}, out)
	if err == nil {
		t.Fatal("expected error for unreadable background")
	}
}

func TestClampLines(t *testing.T) {
	got := clampLines([]string{"one", "two", "three."}, 2)
	if len(got) != 2 || got[1] != "two…" {
		t.Errorf("unexpected clamp: %q", got)
	}
}

func TestCoverAndContain(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 100))

	if b := cover(src, 90, 160).Bounds(); b.Dx() != 90 || b.Dy() != 160 {
		t.Errorf("cover size %v", b)
	}
	if b := contain(src, 200, 200).Bounds(); b.Dx() != 200 || b.Dy() != 50 {
		t.Errorf("contain size %v", b)
	}
}
