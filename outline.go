package docview

import "strings"

// OutlineItem is one row of the flattened table of contents.
type OutlineItem struct {
	Title string
	Depth int
	Page  int
}

// DisplayTitle is the title indented by four spaces per level.
func (it OutlineItem) DisplayTitle() string {
	return strings.Repeat("    ", it.Depth) + it.Title
}

// flattenOutline walks nodes depth first. Untitled nodes are dropped but
// their children are still listed. An empty title is kept.
func flattenOutline(dst []OutlineItem, nodes []OutlineNode, depth int, resolve func(OutlineNode) int) []OutlineItem {
	for _, n := range nodes {
		if !n.Untitled {
			dst = append(dst, OutlineItem{Title: n.Title, Depth: depth, Page: resolve(n)})
		}
		dst = flattenOutline(dst, n.Children, depth+1, resolve)
	}
	return dst
}
