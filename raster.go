package docview

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"
)

type pathOp struct {
	move bool
	quad bool
	ctrl Point
	to   Point
}

// strokePath is a page-space path made of lines and quadratic curves.
type strokePath struct {
	ops []pathOp
}

func (p *strokePath) reset()                { p.ops = p.ops[:0] }
func (p *strokePath) moveTo(pt Point)       { p.ops = append(p.ops, pathOp{move: true, to: pt}) }
func (p *strokePath) lineTo(pt Point)       { p.ops = append(p.ops, pathOp{to: pt}) }
func (p *strokePath) quadTo(ctrl, pt Point) { p.ops = append(p.ops, pathOp{quad: true, ctrl: ctrl, to: pt}) }
func (p *strokePath) empty() bool           { return len(p.ops) == 0 }
func pointOf(dp DrawingPoint) Point         { return Point{dp.X, dp.Y} }
func midpoint(a, b Point) Point             { return Point{(a.X + b.X) / 2, (a.Y + b.Y) / 2} }
func distance(a, b Point) float64           { return math.Hypot(b.X-a.X, b.Y-a.Y) }
func lerpPoint(a, b Point, t float64) Point { return Point{a.X + (b.X-a.X)*t, a.Y + (b.Y-a.Y)*t} }

// polylinePath joins the points of a committed stroke with straight lines.
func polylinePath(points []DrawingPoint) strokePath {
	var p strokePath
	if len(points) == 0 {
		return p
	}
	p.ops = make([]pathOp, 0, len(points))
	p.moveTo(pointOf(points[0]))
	for _, dp := range points[1:] {
		p.lineTo(pointOf(dp))
	}
	return p
}

// flatten maps p through m and returns one device-space polyline per subpath.
func (p strokePath) flatten(m f64.Aff3) [][]Point {
	var (
		out  [][]Point
		cur  []Point
		last Point
	)
	for _, op := range p.ops {
		to := Apply(m, op.to)
		switch {
		case op.move:
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = []Point{to}
		case op.quad:
			if len(cur) == 0 {
				cur = []Point{last}
			}
			ctrl := Apply(m, op.ctrl)
			n := int(math.Ceil((distance(last, ctrl) + distance(ctrl, to)) / 4))
			n = min(max(n, 1), 64)
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				a := lerpPoint(last, ctrl, t)
				b := lerpPoint(ctrl, to, t)
				cur = append(cur, lerpPoint(a, b, t))
			}
		default:
			if len(cur) == 0 {
				cur = []Point{last}
			}
			cur = append(cur, to)
		}
		last = to
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// dashPolyline splits pts into the "on" pieces of an on/off pattern
// measured along the polyline.
func dashPolyline(pts []Point, pattern []float64) [][]Point {
	if len(pattern) == 0 || len(pts) == 0 {
		return [][]Point{pts}
	}
	var (
		out  [][]Point
		idx  int
		left = pattern[0]
		on   = true
		cur  = []Point{pts[0]}
	)
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		seg := distance(a, b)
		pos := 0.0
		for seg-pos > left {
			pos += left
			p := lerpPoint(a, b, pos/seg)
			if on {
				out = append(out, append(cur, p))
				cur = nil
			} else {
				cur = []Point{p}
			}
			on = !on
			idx = (idx + 1) % len(pattern)
			left = pattern[idx]
		}
		left -= seg - pos
		if on {
			cur = append(cur, b)
		}
	}
	if on && len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// rasterStroke strokes sp with round caps and joins. hw is never thinner
// than half a device pixel.
func rasterStroke(dst draw.Image, sp strokePath, m f64.Aff3, width float64, col color.NRGBA, style StrokeStyle) {
	if sp.empty() || col.A == 0 {
		return
	}
	hw := max(width*scaleOf(m)/2, 0.5)

	var pieces [][]Point
	for _, sub := range sp.flatten(m) {
		pieces = append(pieces, dashPolyline(sub, style.dash())...)
	}
	if len(pieces) == 0 {
		return
	}

	box := Rect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, pc := range pieces {
		for _, p := range pc {
			box.X0, box.Y0 = min(box.X0, p.X), min(box.Y0, p.Y)
			box.X1, box.Y1 = max(box.X1, p.X), max(box.Y1, p.Y)
		}
	}
	r := image.Rect(
		int(math.Floor(box.X0-hw))-1, int(math.Floor(box.Y0-hw))-1,
		int(math.Ceil(box.X1+hw))+1, int(math.Ceil(box.Y1+hw))+1,
	).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}

	z := vector.NewRasterizer(r.Dx(), r.Dy())
	off := Point{float64(r.Min.X), float64(r.Min.Y)}
	for _, pc := range pieces {
		strokePolyline(z, pc, hw, off)
	}
	z.Draw(dst, r, image.NewUniform(col), image.Point{})
}

// strokePolyline adds the outline of a round-capped polyline. Every shape
// is emitted with the same winding so overlaps saturate instead of
// cancelling.
func strokePolyline(z *vector.Rasterizer, pts []Point, hw float64, off Point) {
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		d := distance(a, b)
		if d == 0 {
			continue
		}
		nx, ny := -(b.Y-a.Y)/d*hw, (b.X-a.X)/d*hw
		addPolygon(z, []Point{
			{a.X + nx, a.Y + ny}, {b.X + nx, b.Y + ny},
			{b.X - nx, b.Y - ny}, {a.X - nx, a.Y - ny},
		}, off)
	}
	n := min(max(int(math.Ceil(math.Pi*hw)), 8), 64)
	circle := make([]Point, n)
	for _, c := range pts {
		for k := range n {
			s, co := math.Sincos(2 * math.Pi * float64(k) / float64(n))
			circle[k] = Point{c.X + co*hw, c.Y + s*hw}
		}
		addPolygon(z, circle, off)
	}
}

func addPolygon(z *vector.Rasterizer, pts []Point, off Point) {
	var area float64
	for i := range pts {
		j := (i + 1) % len(pts)
		area += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	at := func(i int) (float32, float32) {
		if area > 0 {
			i = len(pts) - 1 - i
		}
		return float32(pts[i].X - off.X), float32(pts[i].Y - off.Y)
	}
	z.MoveTo(at(0))
	for i := 1; i < len(pts); i++ {
		z.LineTo(at(i))
	}
	z.ClosePath()
}

// DrawStroke renders s onto dst, mapping page space through m.
func DrawStroke(dst draw.Image, s DrawingStroke, m f64.Aff3) {
	rasterStroke(dst, polylinePath(s.Points), m, s.Width, s.Color, s.Style)
}

// DrawStrokes renders strokes in order, later strokes on top.
func DrawStrokes(dst draw.Image, strokes []DrawingStroke, m f64.Aff3) {
	for _, s := range strokes {
		DrawStroke(dst, s, m)
	}
}
