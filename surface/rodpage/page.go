package rodpage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/dashctl/surface"
)

// Page is one tab exposed as a surface.Surface.
type Page struct {
	page *rod.Page
	url  string
}

var (
	_ surface.Surface = (*Page)(nil)
	_ surface.Nesting = (*Page)(nil)
)

// URL is the address the tab was opened on.
func (p *Page) URL() string { return p.url }

// Close closes the tab.
func (p *Page) Close() error {
	if p.page == nil {
		return nil
	}
	return p.page.Close()
}

const existsJS = `(id) => document.getElementById(id) !== null`

// applyJS resolves every element first and returns the missing ids
// without mutating anything, mirroring the htmldoc contract.
const applyJS = `(muts) => {
	const els = muts.map(m => document.getElementById(m.id));
	const missing = muts.filter((m, i) => !els[i]).map(m => m.id);
	if (missing.length) return JSON.stringify(missing);
	muts.forEach((m, i) => {
		const el = els[i];
		(m.remove_classes || []).forEach(c => el.classList.remove(c));
		(m.add_classes || []).forEach(c => el.classList.add(c));
		(m.remove_styles || []).forEach(p => el.style.removeProperty(p));
		(m.set_styles || []).forEach(d => el.style.setProperty(d.property, d.value, d.important ? 'important' : ''));
	});
	return "[]";
}`

const inspectJS = `(id, props, countSel) => {
	const el = document.getElementById(id);
	if (!el) return JSON.stringify({exists: false});
	const cs = getComputedStyle(el);
	const computed = {};
	props.forEach(p => { computed[p] = cs.getPropertyValue(p); });
	const inline = [];
	for (let i = 0; i < el.style.length; i++) {
		const p = el.style[i];
		inline.push({property: p, value: el.style.getPropertyValue(p), important: el.style.getPropertyPriority(p) === 'important'});
	}
	return JSON.stringify({
		exists: true,
		classes: Array.from(el.classList),
		inline: inline,
		computed: computed,
		count: countSel ? el.querySelectorAll(countSel).length : 0,
	});
}`

type inspectResult struct {
	Exists   bool                  `json:"exists"`
	Classes  []string              `json:"classes"`
	Inline   []surface.Declaration `json:"inline"`
	Computed map[string]string     `json:"computed"`
	Count    int                   `json:"count"`
}

func (p *Page) Exists(ctx context.Context, id string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(existsJS, id)
	if err != nil {
		return false, fmt.Errorf("rodpage: exists %s: %w", id, err)
	}
	return res.Value.Bool(), nil
}

func (p *Page) Apply(ctx context.Context, muts ...surface.Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	res, err := p.page.Context(ctx).Eval(applyJS, muts)
	if err != nil {
		return fmt.Errorf("rodpage: apply: %w", err)
	}
	var missing []string
	if err := json.Unmarshal([]byte(res.Value.Str()), &missing); err != nil {
		return fmt.Errorf("rodpage: apply result: %w", err)
	}
	if len(missing) > 0 {
		return &surface.MissingError{IDs: missing}
	}
	return nil
}

func (p *Page) Inspect(ctx context.Context, id string, q surface.Query) (surface.Snapshot, error) {
	props := q.Computed
	if props == nil {
		props = []string{}
	}
	res, err := p.page.Context(ctx).Eval(inspectJS, id, props, q.CountSelector)
	if err != nil {
		return surface.Snapshot{}, fmt.Errorf("rodpage: inspect %s: %w", id, err)
	}
	var r inspectResult
	if err := json.Unmarshal([]byte(res.Value.Str()), &r); err != nil {
		return surface.Snapshot{}, fmt.Errorf("rodpage: inspect result: %w", err)
	}
	return surface.Snapshot{
		Exists:   r.Exists,
		Classes:  r.Classes,
		Inline:   r.Inline,
		Computed: r.Computed,
		Count:    r.Count,
	}, nil
}

const containsJS = `(a, b) => {
	const x = document.getElementById(a), y = document.getElementById(b);
	return !!(x && y && x !== y && x.contains(y));
}`

func (p *Page) Contains(ctx context.Context, outerID, innerID string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(containsJS, outerID, innerID)
	if err != nil {
		return false, fmt.Errorf("rodpage: contains %s %s: %w", outerID, innerID, err)
	}
	return res.Value.Bool(), nil
}

func (p *Page) SetDocumentAttribute(ctx context.Context, name, value string) error {
	_, err := p.page.Context(ctx).Eval(`(n, v) => document.documentElement.setAttribute(n, v)`, name, value)
	if err != nil {
		return fmt.Errorf("rodpage: set attribute %s: %w", name, err)
	}
	return nil
}

func (p *Page) DocumentAttribute(ctx context.Context, name string) (string, error) {
	res, err := p.page.Context(ctx).Eval(`(n) => document.documentElement.getAttribute(n) || ""`, name)
	if err != nil {
		return "", fmt.Errorf("rodpage: get attribute %s: %w", name, err)
	}
	return res.Value.Str(), nil
}
