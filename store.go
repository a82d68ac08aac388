package docview

import (
	"maps"
	"slices"
	"sync"
)

// PageAnnotationStore owns the committed strokes of every page. Export
// reads it from its own goroutine, so access is locked.
type PageAnnotationStore struct {
	mu    sync.RWMutex
	pages map[int][]DrawingStroke
}

func NewPageAnnotationStore() *PageAnnotationStore {
	return &PageAnnotationStore{pages: make(map[int][]DrawingStroke)}
}

// Adopt hands out the strokes of page for drawing. Pages without strokes
// yield an empty list.
func (s *PageAnnotationStore) Adopt(page int) []DrawingStroke {
	return s.Strokes(page)
}

// Retain stores the strokes of page, replacing what was there. Retaining
// an empty list forgets the page.
func (s *PageAnnotationStore) Retain(page int, strokes []DrawingStroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(strokes) == 0 {
		delete(s.pages, page)
		return
	}
	s.pages[page] = cloneStrokes(strokes)
}

// Strokes returns a copy of the strokes of page.
func (s *PageAnnotationStore) Strokes(page int) []DrawingStroke {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStrokes(s.pages[page])
}

// Pages lists the annotated pages in ascending order.
func (s *PageAnnotationStore) Pages() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.pages))
}

// Len is the number of annotated pages.
func (s *PageAnnotationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

// Reset forgets every page.
func (s *PageAnnotationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pages)
}
