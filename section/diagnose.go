package section

import (
	"context"
	"slices"

	"github.com/hazyhaar/dashctl/surface"
)

// Diagnosis is a read-only snapshot of one section.
type Diagnosis struct {
	ID                 string   `json:"id"`
	Exists             bool     `json:"exists"`
	Classes            []string `json:"class_list"`
	InlineStyle        string   `json:"inline_style"`
	ComputedDisplay    string   `json:"computed_display"`
	ComputedOpacity    string   `json:"computed_opacity"`
	ComputedVisibility string   `json:"computed_visibility"`
	CardCount          int      `json:"marker_card_count"`
	Active             bool     `json:"active"`
	Error              string   `json:"error,omitempty"`
}

// HasClass reports whether the snapshot carries class.
func (d Diagnosis) HasClass(class string) bool {
	return slices.Contains(d.Classes, class)
}

// Visible reports whether the computed style lets the section render.
func (d Diagnosis) Visible() bool {
	return d.Exists && d.ComputedDisplay != "none" && d.ComputedVisibility != "hidden" &&
		d.ComputedOpacity != "0"
}

// Diagnose reads the live state of id. It never mutates and never fails:
// surface errors are reported in Diagnosis.Error. Ids that are not
// registered are still inspected with the default card selector.
func (c *Controller) Diagnose(ctx context.Context, id string) Diagnosis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diagnoseLocked(ctx, id)
}

// DiagnoseAll diagnoses every registered section, in registration order,
// under one lock so the snapshots are mutually consistent.
func (c *Controller) DiagnoseAll(ctx context.Context) []Diagnosis {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnosis, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.diagnoseLocked(ctx, id))
	}
	return out
}

func (c *Controller) diagnoseLocked(ctx context.Context, id string) Diagnosis {
	sel := DefaultCardSelector
	if s, ok := c.sections[id]; ok {
		sel = s.CardSelector
	}

	d := Diagnosis{ID: id, Active: id != "" && id == c.active}
	snap, err := c.surf.Inspect(ctx, id, surface.Query{
		Computed:      []string{"display", "opacity", "visibility"},
		CountSelector: sel,
	})
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Exists = snap.Exists
	if !snap.Exists {
		return d
	}
	d.Classes = snap.Classes
	d.InlineStyle = surface.FormatInline(snap.Inline)
	d.ComputedDisplay = snap.Computed["display"]
	d.ComputedOpacity = snap.Computed["opacity"]
	d.ComputedVisibility = snap.Computed["visibility"]
	d.CardCount = snap.Count
	return d
}
