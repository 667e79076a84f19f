// Package htmlutil turns portal markup into the plain strings stored in
// records.
package htmlutil

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// appendText writes the text nodes below `n` in document order.
func appendText(out *strings.Builder, n *html.Node) {
	switch {
	case n == nil:
	case n.Type == html.TextNode:
		out.WriteString(n.Data)
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			appendText(out, c)
		}
	}
}

// RawText returns the text below `n` as it appears in the markup.
func RawText(n *html.Node) string {
	var out strings.Builder
	appendText(&out, n)
	return out.String()
}

// Clean drops control characters and collapses every run of whitespace
// into a single space.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Text is the cleaned text of every node in `sel`.
func Text(sel *goquery.Selection) string {
	var out strings.Builder
	for _, n := range sel.Nodes {
		appendText(&out, n)
	}
	return Clean(out.String())
}

// SplitBreaks cuts the children of `n` at every <br> and returns the
// cleaned text of each piece. Empty pieces stay so positions line up with
// what the portal rendered.
func SplitBreaks(n *html.Node) []string {
	if n == nil {
		return nil
	}
	pieces := []string{}
	var current strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Br {
			pieces = append(pieces, Clean(current.String()))
			current.Reset()
			continue
		}
		appendText(&current, c)
	}
	return append(pieces, Clean(current.String()))
}
