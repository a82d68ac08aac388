package docview

import (
	"errors"
	"fmt"
)

var (
	// ErrCannotOpen is returned when a document cannot be opened at all.
	ErrCannotOpen = errors.New("cannot open document")
	// ErrClosed is returned by any call on a destroyed PageCache or Session.
	ErrClosed = errors.New("document is closed")
	// ErrNoPages is returned when navigating a document without pages.
	ErrNoPages = errors.New("document has no pages")
	// ErrPasswordRequired is returned by page operations while the document
	// is still locked. It is a state, not a failure of the document.
	ErrPasswordRequired = errors.New("password required")
	// ErrRender marks page-local failures. Use errors.Is.
	ErrRender = errors.New("render failed")
	// ErrSuperseded is returned by a render that was cancelled because
	// another page became current. The page itself is fine; the output
	// is incomplete and should be retried or dropped.
	ErrSuperseded = errors.New("render superseded")
)

// RenderError reports a failure to load or render a single page.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page+1, e.Err)
}

func (e *RenderError) Unwrap() []error {
	return []error{ErrRender, e.Err}
}
