// Package query wraps goquery behind the small document-query surface the
// extraction pipeline consumes: select all, select first, node text, node
// attribute. Selectors are validated at schema-construction time, so lookups
// here assume well-formed selectors.
package query

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amosWeiskopf/schemasmith/pkg/utils"
)

// Document is a parsed HTML document.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from raw markup.
func Parse(markup string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	return &Document{doc: doc}, nil
}

// SelectAll returns every node matching selector.
func (d *Document) SelectAll(selector string) []*Node {
	return wrapSelection(d.doc.Find(selector))
}

// SelectFirst returns the first node matching selector, or nil.
func (d *Document) SelectFirst(selector string) *Node {
	return firstOf(d.doc.Find(selector))
}

// Count returns the number of nodes matching selector.
func (d *Document) Count(selector string) int {
	return d.doc.Find(selector).Length()
}

// Node is a single matched element; selections made through it are scoped to
// its subtree.
type Node struct {
	sel *goquery.Selection
}

// SelectAll returns every descendant node matching selector.
func (n *Node) SelectAll(selector string) []*Node {
	return wrapSelection(n.sel.Find(selector))
}

// SelectFirst returns the first descendant matching selector, or nil.
func (n *Node) SelectFirst(selector string) *Node {
	return firstOf(n.sel.Find(selector))
}

// Text returns the node's text content, whitespace-collapsed when trim is set.
func (n *Node) Text(trim bool) string {
	text := n.sel.Text()
	if trim {
		return utils.CleanText(text)
	}
	return text
}

// Attr returns the named attribute value and whether it is present.
func (n *Node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func wrapSelection(sel *goquery.Selection) []*Node {
	nodes := make([]*Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &Node{sel: s})
	})
	return nodes
}

func firstOf(sel *goquery.Selection) *Node {
	if sel.Length() == 0 {
		return nil
	}
	return &Node{sel: sel.First()}
}
