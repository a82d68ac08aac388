package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/alefaraci/docview"
)

func (s *Server) layerState() map[string]any {
	var st map[string]any
	s.session.WithLayer(func(l *docview.AnnotationLayer) {
		st = map[string]any{
			"drawing":  l.Enabled,
			"tool":     l.Tool().String(),
			"color":    docview.FormatHexColor(l.Color()),
			"width":    l.Width(),
			"can_undo": l.CanUndo(),
			"can_redo": l.CanRedo(),
		}
	})
	st["drawing"] = s.session.Drawing()
	return st
}

func (s *Server) handleDrawingEnter(w http.ResponseWriter, r *http.Request) {
	s.session.EnterDrawing()
	writeJSON(w, s.layerState())
}

func (s *Server) handleDrawingExit(w http.ResponseWriter, r *http.Request) {
	s.session.ExitDrawing()
	writeJSON(w, s.layerState())
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tool  string  `json:"tool"`
		Color string  `json:"color"`
		Width float64 `json:"width"`
		Style string  `json:"style"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	var (
		tool  docview.Tool
		style docview.StrokeStyle
		err   error
	)
	if body.Tool != "" {
		if tool, err = docview.ParseTool(body.Tool); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if style, err = docview.ParseStrokeStyle(body.Style); body.Style != "" && err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	col, err := docview.ParseColor(body.Color)
	if body.Color != "" && err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.session.WithLayer(func(l *docview.AnnotationLayer) {
		if body.Tool != "" {
			l.SetTool(tool)
		}
		if body.Color != "" {
			l.SetColor(col)
		}
		if body.Width > 0 {
			l.SetWidth(body.Width)
		}
		if body.Style != "" {
			l.SetStyle(style)
		}
	})
	writeJSON(w, s.layerState())
}

// handlePointer feeds one pointer event. x and y are pixels of a w x h
// rendering of the current page.
func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action   string  `json:"action"`
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Pressure float64 `json:"pressure"`
		W        int     `json:"w"`
		H        int     `json:"h"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if !s.session.Drawing() {
		jsonError(w, "not in drawing mode", http.StatusConflict)
		return
	}
	if body.W <= 0 || body.H <= 0 {
		jsonError(w, "w and h must be positive", http.StatusBadRequest)
		return
	}
	p, err := s.session.DeviceToPage(body.X, body.Y, body.W, body.H)
	if err != nil {
		s.pageError(w, s.session.Current(), err)
		return
	}

	var handled bool
	switch body.Action {
	case "down":
		s.session.WithLayer(func(l *docview.AnnotationLayer) { handled = l.PointerDown(p.X, p.Y, body.Pressure) })
	case "move":
		s.session.WithLayer(func(l *docview.AnnotationLayer) { handled = l.PointerMove(p.X, p.Y, body.Pressure) })
	case "up":
		s.session.WithLayer(func(l *docview.AnnotationLayer) { handled = l.PointerUp() })
	default:
		jsonError(w, "action must be down, move or up", http.StatusBadRequest)
		return
	}
	st := s.layerState()
	st["handled"] = handled
	writeJSON(w, st)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.session.WithLayer(func(l *docview.AnnotationLayer) { l.Undo() })
	writeJSON(w, s.layerState())
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.session.WithLayer(func(l *docview.AnnotationLayer) { l.Redo() })
	writeJSON(w, s.layerState())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session.WithLayer(func(l *docview.AnnotationLayer) { l.Clear() })
	writeJSON(w, s.layerState())
}

// handleExport writes the annotated document into the export directory
// under the requested base name.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.ExportDir == "" {
		jsonError(w, "export is disabled", http.StatusForbidden)
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	name := filepath.Base(body.Name)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, ".") {
		jsonError(w, "invalid name", http.StatusBadRequest)
		return
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	path := filepath.Join(s.opts.ExportDir, name)

	res, err := s.session.Export(r.Context(), path, func(p docview.ExportProgress) {
		s.log.Debug("export progress", "page", p.Page+1, "total", p.Total, "error", p.Err)
	})
	if err != nil {
		s.pageError(w, s.session.Current(), err)
		return
	}
	skipped := make([]int, len(res.Skipped))
	for i, n := range res.Skipped {
		skipped[i] = n + 1
	}
	writeJSON(w, map[string]any{"name": name, "pages": res.Pages, "skipped": skipped})
}
