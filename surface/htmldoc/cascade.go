package htmldoc

import (
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dashctl/surface"
)

type rule struct {
	sel   cascadia.Sel
	spec  cascadia.Specificity
	decls []surface.Declaration
	order int
}

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

// inlineSpec ranks the style attribute above every selector.
var inlineSpec = cascadia.Specificity{1 << 12, 0, 0}

// parseRules compiles a stylesheet. Rules with unparseable selectors are
// skipped. Print-only media blocks are ignored; every other at-rule that
// embeds rules is treated as active.
func parseRules(text string, start int) ([]rule, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, start, nil
	}
	sheet, err := parser.Parse(text)
	if err != nil {
		return nil, start, err
	}

	var out []rule
	order := start
	var walk func([]*cssast.Rule)
	walk = func(list []*cssast.Rule) {
		for _, r := range list {
			if r == nil {
				continue
			}
			switch r.Kind {
			case cssast.AtRule:
				if strings.EqualFold(r.Name, "@media") && strings.Contains(strings.ToLower(r.Prelude), "print") &&
					!strings.Contains(strings.ToLower(r.Prelude), "screen") {
					continue
				}
				if r.EmbedsRules() {
					walk(r.Rules)
				}
			case cssast.QualifiedRule:
				decls := convert(r.Declarations)
				if len(decls) == 0 || len(r.Selectors) == 0 {
					continue
				}
				group, err := cascadia.ParseGroup(strings.Join(r.Selectors, ","))
				if err != nil {
					continue
				}
				for _, sel := range group {
					if sel == nil || sel.PseudoElement() != "" {
						continue
					}
					out = append(out, rule{sel: sel, spec: sel.Specificity(), decls: decls, order: order})
					order++
				}
			}
		}
	}
	walk(sheet.Rules)
	return out, order, nil
}

func convert(list []*cssast.Declaration) []surface.Declaration {
	out := make([]surface.Declaration, 0, len(list))
	for _, d := range list {
		if d == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(d.Property))
		val := strings.TrimSpace(d.Value)
		if prop == "" || val == "" {
			continue
		}
		out = append(out, surface.Declaration{Property: prop, Value: val, Important: d.Important})
	}
	return out
}

// parseInline reads a style attribute. douceur only closes a declaration
// on ';' or '}', so one is appended when the attribute lacks it. The
// fallback splits on ';' so a malformed attribute still yields the
// declarations a browser would keep.
func parseInline(style string) []surface.Declaration {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil
	}
	terminated := style
	if !strings.HasSuffix(terminated, ";") {
		terminated += ";"
	}
	if decls, err := parser.ParseDeclarations(terminated); err == nil {
		return convert(decls)
	}
	var out []surface.Declaration
	for _, part := range strings.Split(style, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		important := false
		if strings.HasSuffix(strings.ToLower(val), "!important") {
			important = true
			val = strings.TrimSpace(val[:len(val)-len("!important")])
		}
		if prop == "" || val == "" {
			continue
		}
		out = append(out, surface.Declaration{Property: prop, Value: val, Important: important})
	}
	return out
}

func apply(store map[string]propState, d surface.Declaration, spec cascadia.Specificity, order int) {
	next := propState{val: d.Value, spec: spec, order: order, important: d.Important}
	prev, ok := store[d.Property]
	if !ok {
		store[d.Property] = next
		return
	}
	switch {
	case prev.important && !d.Important:
		return
	case d.Important && !prev.important:
		store[d.Property] = next
	case prev.spec.Less(spec):
		store[d.Property] = next
	case !spec.Less(prev.spec) && order >= prev.order:
		store[d.Property] = next
	}
}

// cascade resolves the declared value of every property on n.
func cascade(n *html.Node, rules []rule) map[string]propState {
	props := map[string]propState{}
	for _, r := range rules {
		if !r.sel.Match(n) {
			continue
		}
		for _, d := range r.decls {
			apply(props, d, r.spec, r.order)
		}
	}
	for i, d := range parseInline(attr(n, "style")) {
		apply(props, d, inlineSpec, (1<<30)+i)
	}
	return props
}

// computed resolves prop on n: cascade, then inheritance for inherited
// properties, then the initial value.
func computed(n *html.Node, rules []rule, prop string) string {
	if n == nil || n.Type != html.ElementNode {
		return initial(nil, prop)
	}
	if st, ok := cascade(n, rules)[prop]; ok && st.val != "inherit" {
		return st.val
	}
	if inherited[prop] {
		if p := parentElement(n); p != nil {
			return computed(p, rules, prop)
		}
	}
	return initial(n, prop)
}

var inherited = map[string]bool{
	"visibility": true,
	"color":      true,
	"cursor":     true,
}

var blockTags = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.Div: true, atom.Section: true,
	atom.Main: true, atom.Article: true, atom.Aside: true, atom.Nav: true,
	atom.Header: true, atom.Footer: true, atom.P: true, atom.Form: true,
	atom.Ul: true, atom.Ol: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Fieldset: true,
	atom.Details: true, atom.Dialog: true, atom.Figure: true, atom.Pre: true,
}

func initial(n *html.Node, prop string) string {
	switch prop {
	case "display":
		if n == nil {
			return "inline"
		}
		if _, ok := attrOK(n, "hidden"); ok {
			return "none"
		}
		switch {
		case n.DataAtom == atom.Li:
			return "list-item"
		case n.DataAtom == atom.Table:
			return "table"
		case n.DataAtom == atom.Head || n.DataAtom == atom.Script || n.DataAtom == atom.Style:
			return "none"
		case blockTags[n.DataAtom]:
			return "block"
		}
		return "inline"
	case "opacity":
		return "1"
	case "visibility":
		return "visible"
	case "transform":
		return "none"
	case "position":
		return "static"
	case "z-index":
		return "auto"
	}
	return ""
}

func parentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}
