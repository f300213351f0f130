// Package htmldoc implements surface.Surface over an in-memory HTML
// document. Computed styles come from a real cascade: <style> elements
// and extra stylesheets are parsed with douceur, matched with cascadia,
// and ranked by !important, specificity and source order, with the style
// attribute above every selector.
//
// Documents are safe for concurrent use.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dashctl/surface"
)

// Document is a parsed HTML page.
type Document struct {
	mu     sync.Mutex
	root   *html.Node
	rules  []rule
	logger *slog.Logger
}

// Option configures Parse.
type Option func(*options)

type options struct {
	sheets []string
	logger *slog.Logger
}

// WithStylesheet adds CSS evaluated after the document's own <style>
// elements, as if linked at the end of <head>.
func WithStylesheet(css string) Option {
	return func(o *options) { o.sheets = append(o.sheets, css) }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

var (
	_ surface.Surface = (*Document)(nil)
	_ surface.Nesting = (*Document)(nil)
)

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}

	d := &Document{root: root, logger: o.logger}

	var sheets []string
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			sheets = append(sheets, textContent(n))
		}
		return true
	})
	sheets = append(sheets, o.sheets...)

	order := 0
	for i, css := range sheets {
		rules, next, err := parseRules(css, order)
		if err != nil {
			d.logger.Warn("htmldoc: stylesheet skipped", "index", i, "error", err)
			continue
		}
		d.rules = append(d.rules, rules...)
		order = next
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// ParseFile reads the document at path, plus optional stylesheet files.
func ParseFile(path string, cssFiles []string, opts ...Option) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: %w", err)
	}
	defer f.Close()
	for _, cf := range cssFiles {
		data, err := os.ReadFile(cf)
		if err != nil {
			return nil, fmt.Errorf("htmldoc: stylesheet: %w", err)
		}
		opts = append(opts, WithStylesheet(string(data)))
	}
	return Parse(f, opts...)
}

// Render writes the current document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document; errors yield an empty string.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// WriteFile renders the document to path.
func (d *Document) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return fmt.Errorf("htmldoc: render: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (d *Document) Exists(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byID(id) != nil, nil
}

func (d *Document) Apply(_ context.Context, muts ...surface.Mutation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := make([]*html.Node, len(muts))
	var missing []string
	for i, m := range muts {
		if nodes[i] = d.byID(m.ID); nodes[i] == nil {
			missing = append(missing, m.ID)
		}
	}
	if len(missing) > 0 {
		return &surface.MissingError{IDs: missing}
	}

	for i, m := range muts {
		n := nodes[i]

		classes := strings.Fields(attr(n, "class"))
		classes = slices.DeleteFunc(classes, func(c string) bool { return slices.Contains(m.RemoveClasses, c) })
		for _, c := range m.AddClasses {
			if !slices.Contains(classes, c) {
				classes = append(classes, c)
			}
		}
		setAttr(n, "class", strings.Join(classes, " "))

		if len(m.SetStyles) == 0 && len(m.RemoveStyles) == 0 {
			continue
		}
		inline := parseInline(attr(n, "style"))
		inline = slices.DeleteFunc(inline, func(x surface.Declaration) bool {
			return slices.Contains(m.RemoveStyles, x.Property)
		})
		for _, s := range m.SetStyles {
			idx := slices.IndexFunc(inline, func(x surface.Declaration) bool { return x.Property == s.Property })
			if idx >= 0 {
				inline[idx] = s
			} else {
				inline = append(inline, s)
			}
		}
		setAttr(n, "style", surface.FormatInline(inline))
	}
	return nil
}

func (d *Document) Inspect(_ context.Context, id string, q surface.Query) (surface.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.byID(id)
	if n == nil {
		return surface.Snapshot{}, nil
	}
	snap := surface.Snapshot{
		Exists:   true,
		Classes:  strings.Fields(attr(n, "class")),
		Inline:   parseInline(attr(n, "style")),
		Computed: make(map[string]string, len(q.Computed)),
	}
	for _, p := range q.Computed {
		snap.Computed[p] = computed(n, d.rules, p)
	}
	if q.CountSelector != "" {
		group, err := cascadia.ParseGroup(q.CountSelector)
		if err != nil {
			return snap, fmt.Errorf("htmldoc: selector %q: %w", q.CountSelector, err)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, func(x *html.Node) bool {
				if x.Type == html.ElementNode && matchAny(group, x) {
					snap.Count++
				}
				return true
			})
		}
	}
	return snap, nil
}

func (d *Document) Contains(_ context.Context, outerID, innerID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	outer, inner := d.byID(outerID), d.byID(innerID)
	if outer == nil || inner == nil || outer == inner {
		return false, nil
	}
	for p := inner.Parent; p != nil; p = p.Parent {
		if p == outer {
			return true, nil
		}
	}
	return false, nil
}

func (d *Document) SetDocumentAttribute(_ context.Context, name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := d.documentElement()
	if el == nil {
		return fmt.Errorf("htmldoc: no document element: %w", surface.ErrNoElement)
	}
	setAttr(el, name, value)
	return nil
}

func (d *Document) DocumentAttribute(_ context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := d.documentElement()
	if el == nil {
		return "", fmt.Errorf("htmldoc: no document element: %w", surface.ErrNoElement)
	}
	return attr(el, name), nil
}

func (d *Document) byID(id string) *html.Node {
	if id == "" {
		return nil
	}
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func (d *Document) documentElement() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func matchAny(group cascadia.SelectorGroup, n *html.Node) bool {
	for _, s := range group {
		if s.Match(n) {
			return true
		}
	}
	return false
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(x *html.Node) bool {
		if x.Type == html.TextNode {
			sb.WriteString(x.Data)
		}
		return true
	})
	return sb.String()
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// setAttr sets key; an empty class or style value removes the attribute.
func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			if val == "" && (key == "class" || key == "style") {
				n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
				return
			}
			n.Attr[i].Val = val
			return
		}
	}
	if val == "" && (key == "class" || key == "style") {
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
