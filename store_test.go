package docview

import (
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testStroke(n int) DrawingStroke {
	s := DrawingStroke{Color: color.NRGBA{0, 0, 0, 0xFF}, Width: 2}
	for i := range n {
		s.Points = append(s.Points, DrawingPoint{X: float64(i), Y: float64(i * 2)})
	}
	return s
}

func TestPageAnnotationStore_RetainAdopt(t *testing.T) {
	s := NewPageAnnotationStore()
	if got := s.Adopt(3); len(got) != 0 {
		t.Fatalf("Adopt on empty page = %v", got)
	}

	strokes := []DrawingStroke{testStroke(2), testStroke(4)}
	s.Retain(3, strokes)
	if diff := cmp.Diff(strokes, s.Adopt(3)); diff != "" {
		t.Errorf("adopted strokes mismatch (-want +got):\n%s", diff)
	}

	strokes[0].Points[0].X = 42
	if s.Strokes(3)[0].Points[0].X == 42 {
		t.Error("store shares points with the retained slice")
	}
}

func TestPageAnnotationStore_RetainEmptyForgets(t *testing.T) {
	s := NewPageAnnotationStore()
	s.Retain(0, []DrawingStroke{testStroke(2)})
	s.Retain(4, []DrawingStroke{testStroke(3)})
	s.Retain(2, []DrawingStroke{testStroke(3)})
	if diff := cmp.Diff([]int{0, 2, 4}, s.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}

	s.Retain(2, nil)
	if diff := cmp.Diff([]int{0, 4}, s.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Len after Reset = %d", s.Len())
	}
}

func TestPageAnnotationStore_LayerRoundTrip(t *testing.T) {
	s := NewPageAnnotationStore()
	l, _ := newTestLayer()

	l.SetStrokes(s.Adopt(0))
	drawLine(l, Point{0, 0}, Point{1, 1}, Point{2, 2}, Point{3, 3}, Point{4, 4})
	s.Retain(0, l.Strokes())

	got := s.Strokes(0)
	if len(got) != 1 || len(got[0].Points) != 5 {
		t.Fatalf("store holds %d strokes, want 1 stroke of 5 points", len(got))
	}

	other, _ := newTestLayer()
	other.SetStrokes(s.Adopt(0))
	if diff := cmp.Diff(got, other.Strokes()); diff != "" {
		t.Errorf("re-adopted strokes mismatch (-want +got):\n%s", diff)
	}
}
