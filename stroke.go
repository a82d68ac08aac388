package docview

import (
	"fmt"
	"image/color"
	"slices"
	"strings"
	"time"
)

// DrawingPoint is one sampled pointer position, in page space.
type DrawingPoint struct {
	X, Y     float64
	Pressure float64
	Time     time.Time
}

type StrokeStyle int

const (
	StyleSolid StrokeStyle = iota
	StyleDashed
	StyleDotted
)

func (s StrokeStyle) String() string {
	switch s {
	case StyleDashed:
		return "dashed"
	case StyleDotted:
		return "dotted"
	default:
		return "solid"
	}
}

// ParseStrokeStyle accepts the names produced by StrokeStyle.String.
func ParseStrokeStyle(s string) (StrokeStyle, error) {
	switch strings.ToLower(s) {
	case "", "solid":
		return StyleSolid, nil
	case "dashed":
		return StyleDashed, nil
	case "dotted":
		return StyleDotted, nil
	}
	return StyleSolid, fmt.Errorf("unknown stroke style %q", s)
}

// dash returns the on/off pattern in device pixels, nil for solid.
func (s StrokeStyle) dash() []float64 {
	switch s {
	case StyleDashed:
		return []float64{20, 10}
	case StyleDotted:
		return []float64{5, 5}
	}
	return nil
}

// DrawingStroke is one committed freehand annotation. Width is in page
// space units. The alpha of Color carries the tool opacity.
type DrawingStroke struct {
	Points []DrawingPoint
	Color  color.NRGBA
	Width  float64
	Style  StrokeStyle
}

// Clone returns a deep copy of s.
func (s DrawingStroke) Clone() DrawingStroke {
	s.Points = slices.Clone(s.Points)
	return s
}

func cloneStrokes(strokes []DrawingStroke) []DrawingStroke {
	if len(strokes) == 0 {
		return nil
	}
	out := make([]DrawingStroke, len(strokes))
	for i, s := range strokes {
		out[i] = s.Clone()
	}
	return out
}

type Tool int

const (
	ToolPen Tool = iota
	ToolHighlighter
	ToolEraser
	ToolShape
	ToolText
)

var toolNames = [...]string{"pen", "highlighter", "eraser", "shape", "text"}

func (t Tool) String() string {
	if t >= 0 && int(t) < len(toolNames) {
		return toolNames[t]
	}
	return fmt.Sprintf("Tool(%d)", int(t))
}

func ParseTool(s string) (Tool, error) {
	for i, name := range toolNames {
		if strings.EqualFold(s, name) {
			return Tool(i), nil
		}
	}
	return ToolPen, fmt.Errorf("unknown tool %q", s)
}

// ToolPreset is what selecting a tool applies to the next strokes. A zero
// Width leaves the current width alone.
type ToolPreset struct {
	Width   float64
	Opacity uint8
}

// ToolPresets maps each tool to its preset. Eraser strokes are painted in
// EraserColor.
type ToolPresets struct {
	Presets     map[Tool]ToolPreset
	EraserColor color.NRGBA
}

// DefaultToolPresets returns the stock pen widths and opacities.
func DefaultToolPresets() ToolPresets {
	return ToolPresets{
		Presets: map[Tool]ToolPreset{
			ToolPen:         {Width: 3, Opacity: 255},
			ToolHighlighter: {Width: 15, Opacity: 128},
			ToolEraser:      {Width: 20, Opacity: 255},
			ToolShape:       {Width: 3, Opacity: 255},
			ToolText:        {Opacity: 255},
		},
		EraserColor: color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF},
	}
}
