// Package extract turns fetched HTML into readable text, a title and outgoing links.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultMinHTMLLength is the smallest document worth parsing.
const DefaultMinHTMLLength = 100

// ErrTooShort reports a document below the minimum HTML length.
var ErrTooShort = errors.New("html document too short")

// Page is the readable projection of one HTML document.
type Page struct {
	Title   string
	Content string
	// Links are absolute, deduplicated and in document order.
	Links []string
}

// skipped elements never contribute text.
var skipped = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {}, "svg": {},
	"img": {}, "picture": {}, "iframe": {}, "nav": {}, "form": {}, "head": {},
}

// blocks start a new line in the extracted text.
var blocks = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "main": {}, "header": {}, "footer": {},
	"aside": {}, "li": {}, "ul": {}, "ol": {}, "pre": {}, "blockquote": {}, "table": {}, "tr": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "br": {}, "hr": {}, "dd": {}, "dt": {},
	"figcaption": {},
}

// Extract parses rawHTML served at pageURL. Documents shorter than minLength bytes
// return ErrTooShort; minLength <= 0 uses DefaultMinHTMLLength.
func Extract(rawHTML []byte, pageURL string, minLength int) (*Page, error) {
	if minLength <= 0 {
		minLength = DefaultMinHTMLLength
	}
	if len(rawHTML) < minLength {
		return nil, ErrTooShort
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(rawHTML)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	return &Page{
		Title:   title(doc),
		Content: text(doc),
		Links:   links(doc, base),
	}, nil
}

func title(doc *goquery.Document) string {
	if t := collapse(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return collapse(t)
	}
	return collapse(doc.Find("h1").First().Text())
}

func text(doc *goquery.Document) string {
	root := doc.Find("main, article, [role=main]").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var sb strings.Builder
	for _, n := range root.Nodes {
		walk(n, &sb)
	}

	lines := strings.Split(sb.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = collapse(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func walk(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if _, skip := skipped[n.Data]; skip {
			return
		}
	case html.CommentNode:
		return
	}
	_, block := blocks[n.Data]
	if block {
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb)
	}
	if block {
		sb.WriteByte('\n')
	}
}

func links(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, link)
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
