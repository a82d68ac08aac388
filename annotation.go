package docview

import (
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/math/f64"
)

// AnnotationLayer turns pointer input into strokes for the page being
// drawn on and keeps that page's linear undo history. It is driven from a
// single goroutine and does no locking.
type AnnotationLayer struct {
	// Enabled and Visible gate pointer input; hidden layers also draw nothing.
	Enabled bool
	Visible bool

	strokes []DrawingStroke
	redo    []DrawingStroke
	current *DrawingStroke
	live    strokePath

	tool    Tool
	color   color.NRGBA
	width   float64
	opacity uint8
	style   StrokeStyle
	presets ToolPresets

	now      func() time.Time
	onChange func()
}

// NewAnnotationLayer returns an enabled layer with the pen selected.
// onChange, when set, is called whenever the drawing changes.
func NewAnnotationLayer(presets ToolPresets, onChange func()) *AnnotationLayer {
	if presets.Presets == nil {
		presets = DefaultToolPresets()
	}
	l := &AnnotationLayer{
		Enabled:  true,
		Visible:  true,
		color:    color.NRGBA{0xFF, 0, 0, 0xFF},
		presets:  presets,
		now:      time.Now,
		onChange: onChange,
	}
	l.SetTool(ToolPen)
	return l
}

func (l *AnnotationLayer) changed() {
	if l.onChange != nil {
		l.onChange()
	}
}

// SetTool applies the tool's preset to strokes started from now on.
func (l *AnnotationLayer) SetTool(t Tool) {
	l.tool = t
	p := l.presets.Presets[t]
	if p.Width > 0 {
		l.width = p.Width
	}
	l.opacity = p.Opacity
	if l.opacity == 0 {
		l.opacity = 0xFF
	}
}

func (l *AnnotationLayer) Tool() Tool { return l.tool }

// SetColor sets the stroke colour. Its alpha is ignored; opacity comes
// from the tool.
func (l *AnnotationLayer) SetColor(c color.NRGBA) { l.color = c }
func (l *AnnotationLayer) SetWidth(w float64)     { l.width = w }
func (l *AnnotationLayer) SetStyle(s StrokeStyle) { l.style = s }

func (l *AnnotationLayer) Color() color.NRGBA { return l.color }
func (l *AnnotationLayer) Width() float64     { return l.width }

func (l *AnnotationLayer) accepts() bool { return l.Enabled && l.Visible }

// Drawing reports whether a stroke is in progress.
func (l *AnnotationLayer) Drawing() bool { return l.current != nil }

// PointerDown starts a stroke and drops the redo history.
func (l *AnnotationLayer) PointerDown(x, y, pressure float64) bool {
	if !l.accepts() {
		return false
	}
	c := l.color
	c.A = l.opacity
	if l.tool == ToolEraser {
		c = l.presets.EraserColor
	}
	l.current = &DrawingStroke{
		Points: []DrawingPoint{{X: x, Y: y, Pressure: pressure, Time: l.now()}},
		Color:  c,
		Width:  l.width,
		Style:  l.style,
	}
	l.live.reset()
	l.live.moveTo(Point{x, y})
	l.redo = nil
	l.changed()
	return true
}

// PointerMove extends the stroke. From the third point on the live path
// bends through the previous point and ends halfway to the newest one.
func (l *AnnotationLayer) PointerMove(x, y, pressure float64) bool {
	if !l.accepts() || l.current == nil {
		return false
	}
	s := l.current
	s.Points = append(s.Points, DrawingPoint{X: x, Y: y, Pressure: pressure, Time: l.now()})
	if n := len(s.Points); n >= 3 {
		prev := pointOf(s.Points[n-2])
		l.live.quadTo(prev, midpoint(prev, pointOf(s.Points[n-1])))
	} else {
		l.live.lineTo(Point{x, y})
	}
	l.changed()
	return true
}

// PointerUp commits the stroke if it has at least two points.
func (l *AnnotationLayer) PointerUp() bool {
	if !l.accepts() || l.current == nil {
		return false
	}
	if len(l.current.Points) > 1 {
		l.strokes = append(l.strokes, *l.current)
	}
	l.current = nil
	l.live.reset()
	l.changed()
	return true
}

// Undo moves the newest committed stroke to the redo history.
func (l *AnnotationLayer) Undo() bool {
	if len(l.strokes) == 0 {
		return false
	}
	last := len(l.strokes) - 1
	l.redo = append(l.redo, l.strokes[last])
	l.strokes = l.strokes[:last]
	l.changed()
	return true
}

// Redo recommits the most recently undone stroke.
func (l *AnnotationLayer) Redo() bool {
	if len(l.redo) == 0 {
		return false
	}
	last := len(l.redo) - 1
	l.strokes = append(l.strokes, l.redo[last])
	l.redo = l.redo[:last]
	l.changed()
	return true
}

// Clear drops every stroke, including the one in progress.
func (l *AnnotationLayer) Clear() {
	l.strokes = nil
	l.redo = nil
	l.current = nil
	l.live.reset()
	l.changed()
}

func (l *AnnotationLayer) CanUndo() bool    { return len(l.strokes) > 0 }
func (l *AnnotationLayer) CanRedo() bool    { return len(l.redo) > 0 }
func (l *AnnotationLayer) HasStrokes() bool { return len(l.strokes) > 0 }

// Strokes returns a copy of the committed strokes.
func (l *AnnotationLayer) Strokes() []DrawingStroke {
	return cloneStrokes(l.strokes)
}

// SetStrokes replaces the committed strokes and forgets the redo history.
func (l *AnnotationLayer) SetStrokes(strokes []DrawingStroke) {
	l.strokes = cloneStrokes(strokes)
	l.redo = nil
	l.current = nil
	l.live.reset()
	l.changed()
}

// Draw paints the committed strokes in order and the stroke in progress
// on top, mapping page space through m.
func (l *AnnotationLayer) Draw(dst draw.Image, m f64.Aff3) {
	if !l.Visible {
		return
	}
	DrawStrokes(dst, l.strokes, m)
	if s := l.current; s != nil {
		rasterStroke(dst, l.live, m, s.Width, s.Color, s.Style)
	}
}
