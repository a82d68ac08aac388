package pdfdoc

import (
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/alefaraci/docview"
)

// maxOutlineItems stops runaway /Next chains.
const maxOutlineItems = 10000

func (d *document) LoadOutline() (nodes []docview.OutlineNode, err error) {
	if d.closed {
		return nil, docview.ErrClosed
	}
	if d.reader == nil {
		return nil, docview.ErrPasswordRequired
	}
	defer func() {
		if r := recover(); r != nil {
			nodes, err = nil, fmt.Errorf("pdfdoc: malformed outline: %v", r)
		}
	}()
	budget := maxOutlineItems
	return d.outlineChildren(d.reader.Trailer().Key("Root").Key("Outlines"), 0, &budget), nil
}

func (d *document) outlineChildren(parent pdflib.Value, depth int, budget *int) []docview.OutlineNode {
	if depth > maxTreeDepth {
		return nil
	}
	var out []docview.OutlineNode
	for item := parent.Key("First"); item.Kind() == pdflib.Dict && *budget > 0; item = item.Key("Next") {
		*budget--
		page, uri := d.target(item)
		title := item.Key("Title")
		out = append(out, docview.OutlineNode{
			Title:    strings.TrimSpace(title.Text()),
			Untitled: title.IsNull(),
			Page:     page,
			URI:      uri,
			Children: d.outlineChildren(item, depth+1, budget),
		})
	}
	return out
}
