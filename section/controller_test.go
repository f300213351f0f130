package section

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/hazyhaar/dashctl/surface"
	"github.com/hazyhaar/dashctl/surface/htmldoc"
)

const dashboardPage = `<!DOCTYPE html>
<html><head><style>
.content-section { display: block; }
.hidden { display: none; }
.d-none { display: none !important; }
.fade { opacity: 0; transform: translateY(20px); }
.stuck { visibility: hidden; position: absolute; z-index: -1; }
</style></head>
<body>
  <div id="A" class="content-section show"><div class="card"></div></div>
  <div id="B" class="content-section hidden fade" style="display: none">
    <div class="card"></div><div class="card"></div>
  </div>
  <div id="C" class="content-section d-none stuck"></div>
  <div id="orphan" class="content-section"></div>
</body></html>`

type fataler interface {
	Fatalf(format string, args ...any)
}

func newController(t fataler, opts ...Option) (*Controller, *htmldoc.Document) {
	doc, err := htmldoc.ParseString(dashboardPage)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	secs := []Section{{ID: "A"}, {ID: "B", Display: "grid"}, {ID: "C"}, {ID: "gone"}}
	return New(doc, secs, opts...), doc
}

func TestShowScenario(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	if _, err := c.Show(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	prev, err := c.Show(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	if prev != "A" {
		t.Fatalf("previous = %q, want A", prev)
	}

	a := c.Diagnose(ctx, "A")
	if !a.HasClass("hidden") || a.HasClass("show") {
		t.Fatalf("A classes = %v, want hidden without show", a.Classes)
	}
	if a.Visible() {
		t.Fatalf("A still visible: %+v", a)
	}

	b := c.Diagnose(ctx, "B")
	if b.HasClass("hidden") || !b.HasClass("show") {
		t.Fatalf("B classes = %v, want show without hidden", b.Classes)
	}
	if b.ComputedDisplay != "grid" || b.ComputedOpacity != "1" || b.ComputedVisibility != "visible" {
		t.Fatalf("B computed = %+v", b)
	}
	if !b.Active || b.CardCount != 2 {
		t.Fatalf("B active=%v cards=%d", b.Active, b.CardCount)
	}
	if c.Active() != "B" {
		t.Fatalf("Active = %q", c.Active())
	}
}

func TestShowFirstActivationReturnsEmpty(t *testing.T) {
	c, _ := newController(t)
	prev, err := c.Show(context.Background(), "C")
	if err != nil {
		t.Fatal(err)
	}
	if prev != "" {
		t.Fatalf("previous = %q, want empty", prev)
	}
}

func TestShowOverridesImportantObstruction(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()
	if _, err := c.Show(ctx, "C"); err != nil {
		t.Fatal(err)
	}
	d := c.Diagnose(ctx, "C")
	if !d.Visible() {
		t.Fatalf("C not visible after Show: %+v", d)
	}
	if d.HasClass("d-none") {
		t.Fatalf("obstructing class left: %v", d.Classes)
	}
	if !strings.Contains(d.InlineStyle, "z-index: 1 !important") {
		t.Fatalf("inline = %q", d.InlineStyle)
	}
}

func TestShowHidesAllSiblings(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()
	if _, err := c.Show(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"A", "C"} {
		d := c.Diagnose(ctx, id)
		if d.Visible() || d.HasClass("show") {
			t.Fatalf("%s should be hidden: %+v", id, d)
		}
	}
	if d := c.Diagnose(ctx, "orphan"); !d.Visible() {
		t.Fatal("unregistered element must be left alone")
	}
}

func TestShowIdempotent(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()

	var calls int
	c.RegisterPostActivationHook("B", func(context.Context, string) error { calls++; return nil })

	if _, err := c.Show(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	first := c.DiagnoseAll(ctx)
	prev, err := c.Show(ctx, "B")
	if err != nil {
		t.Fatal(err)
	}
	if prev != "B" {
		t.Fatalf("previous = %q, want B", prev)
	}
	if second := c.DiagnoseAll(ctx); !reflect.DeepEqual(first, second) {
		t.Fatalf("state changed on repeat:\n%+v\n%+v", first, second)
	}
	if calls != 2 {
		t.Fatalf("hook calls = %d, want one per Show", calls)
	}
}

func TestShowUnknown(t *testing.T) {
	c, doc := newController(t)
	ctx := context.Background()
	if _, err := c.Show(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	before := doc.String()
	diagBefore := c.DiagnoseAll(ctx)

	for _, id := range []string{"no-such-section", "gone"} {
		_, err := c.Show(ctx, id)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Show(%q) = %v, want ErrNotFound", id, err)
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) || nf.ID != id {
			t.Fatalf("Show(%q) error = %#v", id, err)
		}
	}
	if doc.String() != before {
		t.Fatal("document mutated by failed Show")
	}
	if !reflect.DeepEqual(diagBefore, c.DiagnoseAll(ctx)) {
		t.Fatal("diagnosis changed after failed Show")
	}
	if c.Active() != "A" {
		t.Fatalf("Active = %q", c.Active())
	}
}

func TestHookIsolation(t *testing.T) {
	var reported []*HookError
	c, _ := newController(t, WithHookErrorReporter(func(e *HookError) { reported = append(reported, e) }))
	ctx := context.Background()

	var order []string
	boom := errors.New("boom")
	c.RegisterPostActivationHook("A", func(_ context.Context, id string) error {
		order = append(order, "first:"+id)
		return boom
	})
	c.RegisterPostActivationHook("A", func(context.Context, string) error {
		panic("loader crashed")
	})
	c.RegisterPostActivationHook("A", func(_ context.Context, id string) error {
		order = append(order, "third:"+id)
		return nil
	})
	c.RegisterPostActivationHook("B", func(context.Context, string) error {
		order = append(order, "wrong section")
		return nil
	})

	if _, err := c.Show(ctx, "A"); err != nil {
		t.Fatalf("hook failure leaked out of Show: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"first:A", "third:A"}) {
		t.Fatalf("hook order = %v", order)
	}
	if len(reported) != 2 {
		t.Fatalf("reported = %d, want 2", len(reported))
	}
	if !errors.Is(reported[0], boom) || reported[0].Index != 0 {
		t.Fatalf("first report = %+v", reported[0])
	}
	if reported[1].Index != 1 || !strings.Contains(reported[1].Error(), "loader crashed") {
		t.Fatalf("second report = %+v", reported[1])
	}
	if d := c.Diagnose(ctx, "A"); !d.Visible() || !d.Active {
		t.Fatal("hook failure rolled back visibility")
	}
}

func TestHookMayShowAgain(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()
	c.RegisterPostActivationHook("A", func(ctx context.Context, _ string) error {
		_, err := c.Show(ctx, "B")
		return err
	})
	if _, err := c.Show(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if c.Active() != "B" {
		t.Fatalf("Active = %q, want B after redirecting hook", c.Active())
	}
}

func TestObserver(t *testing.T) {
	var got []Transition
	c, _ := newController(t, WithObserver(func(_ context.Context, tr Transition) { got = append(got, tr) }))
	c.RegisterPostActivationHook("B", func(context.Context, string) error { return errors.New("x") })
	ctx := context.Background()
	c.Show(ctx, "A")
	c.Show(ctx, "B")
	if len(got) != 2 {
		t.Fatalf("transitions = %d", len(got))
	}
	if got[1].SectionID != "B" || got[1].Previous != "A" || got[1].Hooks != 1 || got[1].HookFailures != 1 {
		t.Fatalf("transition = %+v", got[1])
	}
}

func TestDiagnoseUnknownAndSurfaceError(t *testing.T) {
	c, _ := newController(t)
	d := c.Diagnose(context.Background(), "nowhere")
	if d.Exists || d.Error != "" {
		t.Fatalf("diagnosis = %+v", d)
	}

	fs := &failingSurface{err: errors.New("tab crashed")}
	fc := New(fs, []Section{{ID: "A"}})
	d = fc.Diagnose(context.Background(), "A")
	if d.Error != "tab crashed" {
		t.Fatalf("Error = %q", d.Error)
	}
	if _, err := fc.Show(context.Background(), "A"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Show over failing surface = %v", err)
	}
}

func TestSectionDefaults(t *testing.T) {
	s := Section{ID: "x", Obstructing: []string{"collapsed"}, HideClass: "hidden"}.withDefaults()
	if !reflect.DeepEqual(s.Obstructing, []string{"collapsed", "hidden"}) {
		t.Fatalf("obstructing = %v", s.Obstructing)
	}
	d := Section{ID: "y"}.withDefaults()
	if d.HideClass != "hidden" || d.ShownClass != "show" || d.Display != "block" || d.CardSelector != ".card" {
		t.Fatalf("defaults = %+v", d)
	}
}

func TestConcurrentShow(t *testing.T) {
	c, _ := newController(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Show(ctx, []string{"A", "B", "C"}[i%3])
		}(i)
	}
	wg.Wait()
	assertSingleShown(t, c.DiagnoseAll(ctx), c.Active())
}

// assertSingleShown checks that exactly the active section is unobstructed
// and carries the shown marker.
func assertSingleShown(t fataler, diags []Diagnosis, active string) {
	shown := 0
	for _, d := range diags {
		if !d.Exists {
			continue
		}
		open := d.HasClass("show") && !d.HasClass("hidden") && !d.HasClass("d-none") && !d.HasClass("invisible")
		if open {
			shown++
			if d.ID != active {
				t.Fatalf("%s shown while %s is active", d.ID, active)
			}
		}
	}
	if active != "" && shown != 1 {
		t.Fatalf("shown sections = %d, want 1", shown)
	}
}

func TestShowProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c, doc := newController(rt)
		ctx := context.Background()
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"A", "B", "C", "no-such-section"}), 1, 12).Draw(rt, "ops")

		for _, id := range ops {
			before := c.DiagnoseAll(ctx)
			prevActive := c.Active()
			prev, err := c.Show(ctx, id)

			if id == "no-such-section" {
				if !errors.Is(err, ErrNotFound) {
					rt.Fatalf("Show(%q) = %v", id, err)
				}
				if !reflect.DeepEqual(before, c.DiagnoseAll(ctx)) {
					rt.Fatalf("failed Show mutated state")
				}
				continue
			}
			if err != nil {
				rt.Fatalf("Show(%q): %v", id, err)
			}
			if prev != prevActive {
				rt.Fatalf("previous = %q, want %q", prev, prevActive)
			}

			d := c.Diagnose(ctx, id)
			if !d.HasClass("show") || d.HasClass("hidden") || !d.Visible() {
				rt.Fatalf("%s not shown: %+v", id, d)
			}
			if prevActive != "" && prevActive != id {
				p := c.Diagnose(ctx, prevActive)
				if !p.HasClass("hidden") || p.HasClass("show") {
					rt.Fatalf("previous %s not hidden: %+v", prevActive, p)
				}
			}
			assertSingleShown(rt, c.DiagnoseAll(ctx), id)
			snap, err := doc.Inspect(ctx, id, surface.Query{Computed: []string{"position", "z-index"}})
			if err != nil {
				rt.Fatalf("inspect %s: %v", id, err)
			}
			if snap.Computed["position"] != "relative" || snap.Computed["z-index"] != "1" {
				rt.Fatalf("%s stacking = %v, want relative / 1", id, snap.Computed)
			}

			again := c.DiagnoseAll(ctx)
			if _, err := c.Show(ctx, id); err != nil {
				rt.Fatal(err)
			}
			if !reflect.DeepEqual(again, c.DiagnoseAll(ctx)) {
				rt.Fatalf("Show(%q) not idempotent", id)
			}
		}
	})
}

func TestShowForcesEveryNormalizedProperty(t *testing.T) {
	want := map[string]map[string]string{
		"B": {"display": "grid", "opacity": "1", "visibility": "visible", "transform": "none", "position": "relative", "z-index": "1"},
		"C": {"display": "block", "opacity": "1", "visibility": "visible", "transform": "none", "position": "relative", "z-index": "1"},
	}
	for id, props := range want {
		t.Run(id, func(t *testing.T) {
			c, doc := newController(t)
			ctx := context.Background()
			if _, err := c.Show(ctx, id); err != nil {
				t.Fatal(err)
			}
			snap, err := doc.Inspect(ctx, id, surface.Query{Computed: NormalizedProperties})
			if err != nil {
				t.Fatal(err)
			}
			for p, v := range props {
				if snap.Computed[p] != v {
					t.Errorf("%s computed %s = %q, want %q", id, p, snap.Computed[p], v)
				}
			}
		})
	}
}

func TestShowKeepsUnrelatedSiblingInline(t *testing.T) {
	doc, err := htmldoc.ParseString(`<style>.hidden { display: none }</style>
<div id="A" class="show" style="color: red; opacity: 0.3"></div>
<div id="B" class="hidden" style="display: none"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	c := New(doc, []Section{{ID: "A"}, {ID: "B"}})
	ctx := context.Background()
	if _, err := c.Show(ctx, "B"); err != nil {
		t.Fatal(err)
	}

	snap, err := doc.Inspect(ctx, "A", surface.Query{Computed: []string{"display"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Inline) != 1 || snap.Inline[0].Property != "color" || snap.Inline[0].Value != "red" {
		t.Fatalf("A inline = %v, want only color: red", snap.Inline)
	}
	if snap.Computed["display"] != "none" {
		t.Fatalf("A display = %q, want none", snap.Computed["display"])
	}
	if d := c.Diagnose(ctx, "B"); !d.Visible() {
		t.Fatalf("B not visible: %+v", d)
	}
}

func TestShowLeavesContainerVisible(t *testing.T) {
	doc, err := htmldoc.ParseString(`<style>.hidden { display: none }</style>
<div id="outer" class="show"><div id="inner" class="hidden"></div></div>
<div id="other" class="show"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	c := New(doc, []Section{{ID: "outer"}, {ID: "inner"}, {ID: "other"}})
	ctx := context.Background()
	if _, err := c.Show(ctx, "inner"); err != nil {
		t.Fatal(err)
	}

	if d := c.Diagnose(ctx, "inner"); !d.Visible() {
		t.Fatalf("inner not visible: %+v", d)
	}
	if d := c.Diagnose(ctx, "outer"); d.HasClass("hidden") {
		t.Fatalf("container hidden: %v", d.Classes)
	}
	if d := c.Diagnose(ctx, "other"); !d.HasClass("hidden") {
		t.Fatalf("unrelated sibling not hidden: %v", d.Classes)
	}

	// The container is still hidden when it is not the target's ancestor.
	if _, err := c.Show(ctx, "other"); err != nil {
		t.Fatal(err)
	}
	if d := c.Diagnose(ctx, "outer"); !d.HasClass("hidden") {
		t.Fatalf("outer not hidden: %v", d.Classes)
	}
}

type failingSurface struct{ err error }

func (f *failingSurface) Exists(context.Context, string) (bool, error) { return false, f.err }
func (f *failingSurface) Apply(context.Context, ...surface.Mutation) error {
	return f.err
}
func (f *failingSurface) Inspect(context.Context, string, surface.Query) (surface.Snapshot, error) {
	return surface.Snapshot{}, f.err
}
func (f *failingSurface) SetDocumentAttribute(context.Context, string, string) error { return f.err }
func (f *failingSurface) DocumentAttribute(context.Context, string) (string, error) {
	return "", f.err
}
