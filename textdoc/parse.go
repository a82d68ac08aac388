package textdoc

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// block is a heading (level 1-6) or a paragraph (level 0) of plain text.
type block struct {
	level int
	text  string
}

type parsed struct {
	title  string
	blocks []block
}

// normalizeSpace collapses runs of whitespace to one space.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (p *parsed) add(level int, s string) {
	if s = normalizeSpace(s); s != "" {
		p.blocks = append(p.blocks, block{level: level, text: s})
	}
}

// parsePlain splits on blank lines.
func parsePlain(src []byte) (*parsed, error) {
	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	p := &parsed{}
	var current strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			p.add(0, current.String())
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteByte(' ')
	}
	p.add(0, current.String())
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading text: %w", err)
	}
	return p, nil
}

func parseMarkdown(src []byte) (*parsed, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	p := &parsed{}
	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		switch node := n.(type) {
		case *ast.Heading:
			t := inlineText(node, src)
			if p.title == "" && node.Level == 1 {
				p.title = normalizeSpace(t)
			}
			p.add(node.Level, t)
			return
		case *ast.Paragraph, *ast.TextBlock:
			p.add(0, inlineText(node, src))
			return
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			var buf bytes.Buffer
			lines := node.Lines()
			for i := range lines.Len() {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			p.add(0, buf.String())
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(doc)
	return p, nil
}

// inlineText concatenates the text of inline descendants.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.AutoLink:
			buf.Write(t.URL(src))
		default:
			buf.WriteString(inlineText(c, src))
		}
	}
	return buf.String()
}

func parseHTML(src []byte) (*parsed, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	p := &parsed{title: normalizeSpace(findTitle(doc))}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				p.add(level, textContent(n))
				return
			}
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "head":
				return
			case "p", "li", "td", "th", "blockquote", "pre", "dt", "dd", "figcaption":
				p.add(0, textContent(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if body := findBody(doc); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return p, nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.Data == "br" {
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
