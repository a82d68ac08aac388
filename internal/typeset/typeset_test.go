package typeset

import (
	"image"
	"image/draw"
	"math"
	"testing"
)

func TestAdvance(t *testing.T) {
	i, w := Advance('i', 10), Advance('W', 10)
	if i <= 0 || w <= i {
		t.Errorf("Advance('i') = %v, Advance('W') = %v", i, w)
	}
	if got := Advance('W', 20); math.Abs(got-2*w) > 1e-9 {
		t.Errorf("advance does not scale with size: %v vs %v", got, 2*w)
	}
	if got := Advance('\uFFFF', 10); got <= 0 {
		t.Errorf("missing glyph advance = %v", got)
	}
}

func TestMeasure(t *testing.T) {
	got := Measure("mm", 12)
	want := 2 * Advance('m', 12)
	if math.Abs(got-want) > 0.5 {
		t.Errorf("Measure(mm) = %v, want about %v", got, want)
	}
	if Measure("", 12) != 0 {
		t.Error("empty string has width")
	}
}

func TestMetrics(t *testing.T) {
	a, d := Ascent(), Descent()
	if a <= 0.5 || a >= 1.2 || d <= 0 || d >= 0.5 {
		t.Errorf("Ascent = %v, Descent = %v", a, d)
	}
}

func TestPainter_Draw(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 60, 30))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	p := NewPainter(img, image.Black)
	if err := p.Draw("Hello", 2, 22, 20); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if err := p.Draw("x", 2, 22, 0.1); err != nil {
		t.Fatalf("Draw tiny: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dark := 0
	for y := 0; y < 30; y++ {
		for x := 0; x < 60; x++ {
			if img.RGBAAt(x, y).R < 0x80 {
				dark++
			}
		}
	}
	if dark < 20 {
		t.Errorf("only %d dark pixels after drawing text", dark)
	}
}
