// Package webtext fetches a page and reduces its HTML to readable text.
package webtext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	ErrBadURL   = errors.New("url must be absolute http or https")
	ErrUpstream = errors.New("upstream fetch failed")
)

type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Extractor struct {
	Client   *http.Client
	MaxBytes int64
	Timeout  time.Duration
}

func New(timeout time.Duration, maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &Extractor{Client: &http.Client{}, MaxBytes: maxBytes, Timeout: timeout}
}

// Fetch downloads raw and extracts its text. Non-2xx responses are errors
// wrapping ErrUpstream.
func (e *Extractor) Fetch(ctx context.Context, raw string) (*Page, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "codeassist/1 (+text extraction)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.8")
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	body := io.LimitReader(resp.Body, e.MaxBytes)
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "text/plain") {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return &Page{URL: u.String(), Content: strings.TrimSpace(string(b))}, nil
	}
	title, content, err := Extract(body)
	if err != nil {
		return nil, err
	}
	return &Page{URL: u.String(), Title: title, Content: content}, nil
}

var skip = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Header: true, atom.Footer: true, atom.Aside: true, atom.Form: true,
	atom.Svg: true, atom.Iframe: true, atom.Template: true, atom.Button: true,
}

var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Tr: true, atom.Br: true, atom.Main: true, atom.Figcaption: true,
	atom.Dd: true, atom.Dt: true,
}

// Extract parses an HTML document and returns its title and the text of the
// most content-like subtree: <article>, else <main>, else <body>. Text
// blocks are separated by blank lines.
func Extract(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := ""
	if t := find(doc, atom.Title); t != nil {
		title = collapse(textOf(t))
	}
	root := find(doc, atom.Article)
	if root == nil {
		root = find(doc, atom.Main)
	}
	if root == nil {
		root = find(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}
	w := &blockWriter{}
	walk(root, w)
	w.flush()
	return title, strings.Join(w.blocks, "\n\n"), nil
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}

type blockWriter struct {
	cur    strings.Builder
	blocks []string
}

func (b *blockWriter) flush() {
	if s := collapse(b.cur.String()); s != "" {
		b.blocks = append(b.blocks, s)
	}
	b.cur.Reset()
}

func walk(n *html.Node, w *blockWriter) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(n.Data)
		return
	case html.ElementNode:
		if skip[n.DataAtom] {
			return
		}
	case html.CommentNode:
		return
	}
	if n.Type == html.ElementNode && n.DataAtom == atom.Pre {
		// preformatted text keeps its line breaks and indentation
		w.flush()
		if s := strings.TrimRight(strings.Trim(textOf(n), "\n"), " \t\n"); strings.TrimSpace(s) != "" {
			w.blocks = append(w.blocks, s)
		}
		return
	}
	isBlock := n.Type == html.ElementNode && block[n.DataAtom]
	if isBlock {
		w.flush()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, w)
	}
	if isBlock {
		w.flush()
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
