// Package section keeps exactly one dashboard panel visible.
//
// Show makes a panel visible whatever obstructing state it was left in:
// obstructing classes are removed, the visibility-related properties are
// forced inline with !important, the shown marker is added, and every
// other registered panel is hidden. The whole change is one all-or-nothing
// surface batch. Post-activation hooks then run once per call.
//
// Visibility is never cached. Diagnose reads the surface each time.
package section

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/dashctl/surface"
)

// Hook runs after a successful Show of the section it is registered for.
type Hook func(ctx context.Context, sectionID string) error

// Transition describes one completed Show.
type Transition struct {
	SectionID    string
	Previous     string
	At           time.Time
	Duration     time.Duration
	Hooks        int
	HookFailures int
}

// Observer is notified after the hooks of a Show have run.
type Observer func(ctx context.Context, t Transition)

// Controller owns the active section of one surface.
type Controller struct {
	mu        sync.Mutex
	surf      surface.Surface
	sections  map[string]Section
	order     []string
	active    string
	hooks     map[string][]Hook
	observers []Observer
	report    func(*HookError)
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithHookErrorReporter receives every hook failure after it is logged.
func WithHookErrorReporter(fn func(*HookError)) Option {
	return func(c *Controller) { c.report = fn }
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// New creates a Controller over surf with the given sections. No section
// is active until the first Show.
func New(surf surface.Surface, sections []Section, opts ...Option) *Controller {
	c := &Controller{
		surf:     surf,
		sections: make(map[string]Section),
		hooks:    make(map[string][]Hook),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	for _, s := range sections {
		c.Register(s)
	}
	return c
}

// Register adds a section, or replaces the definition of a known id.
func (c *Controller) Register(s Section) {
	if s.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sections[s.ID]; !ok {
		c.order = append(c.order, s.ID)
	}
	c.sections[s.ID] = s.withDefaults()
}

// Sections returns the registered sections in registration order.
func (c *Controller) Sections() []Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Section, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.sections[id])
	}
	return out
}

// Active returns the active section id, "" before the first Show.
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RegisterPostActivationHook appends h to the hooks of sectionID. Hooks
// are not de-duplicated: registering the same function twice runs it
// twice. The section does not need to be registered yet.
func (c *Controller) RegisterPostActivationHook(sectionID string, h Hook) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.hooks[sectionID] = append(c.hooks[sectionID], h)
	c.mu.Unlock()
}

// Observe adds a transition observer after construction.
func (c *Controller) Observe(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Show activates id and returns the previously active id ("" on the first
// activation). Unknown ids fail with *NotFoundError before any mutation.
// Hook failures are reported, never returned.
func (c *Controller) Show(ctx context.Context, id string) (string, error) {
	start := time.Now()

	c.mu.Lock()
	sec, ok := c.sections[id]
	if !ok {
		c.mu.Unlock()
		return "", &NotFoundError{ID: id, Reason: "unregistered"}
	}
	exists, err := c.surf.Exists(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("section: show %s: %w", id, err)
	}
	if !exists {
		c.mu.Unlock()
		return "", &NotFoundError{ID: id, Reason: "no element"}
	}

	muts, err := c.plan(ctx, sec)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	if err := c.surf.Apply(ctx, muts...); err != nil {
		c.mu.Unlock()
		var missing *surface.MissingError
		if errors.As(err, &missing) && slices.Contains(missing.IDs, id) {
			return "", &NotFoundError{ID: id, Reason: "no element"}
		}
		return "", fmt.Errorf("section: show %s: %w", id, err)
	}

	prev := c.active
	c.active = id
	hooks := slices.Clone(c.hooks[id])
	observers := slices.Clone(c.observers)
	c.mu.Unlock()

	c.logger.Debug("section: shown", "section", id, "previous", prev, "touched", surface.IDs(muts))

	failures := c.runHooks(ctx, id, hooks)

	t := Transition{
		SectionID:    id,
		Previous:     prev,
		At:           start,
		Duration:     time.Since(start),
		Hooks:        len(hooks),
		HookFailures: failures,
	}
	for _, o := range observers {
		c.notify(ctx, o, t)
	}
	return prev, nil
}

// plan builds the batch: hide every other section present on the
// surface, then reveal the target. Sections that contain the target are
// left untouched when the surface implements surface.Nesting. Caller
// holds c.mu.
func (c *Controller) plan(ctx context.Context, target Section) ([]surface.Mutation, error) {
	muts := make([]surface.Mutation, 0, len(c.order))
	for _, oid := range c.order {
		if oid == target.ID {
			continue
		}
		ok, err := c.surf.Exists(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("section: show %s: lookup %s: %w", target.ID, oid, err)
		}
		if !ok {
			c.logger.Debug("section: sibling absent from page", "section", oid)
			continue
		}
		if nest, ok := c.surf.(surface.Nesting); ok {
			outer, err := nest.Contains(ctx, oid, target.ID)
			if err != nil {
				return nil, fmt.Errorf("section: show %s: nesting %s: %w", target.ID, oid, err)
			}
			if outer {
				c.logger.Debug("section: container of target left visible", "section", oid)
				continue
			}
		}
		other := c.sections[oid]
		muts = append(muts, surface.Mutation{
			ID:            oid,
			RemoveClasses: []string{other.ShownClass},
			AddClasses:    []string{other.HideClass},
			RemoveStyles:  NormalizedProperties,
		})
	}

	values := target.visibleValues()
	styles := make([]surface.Declaration, 0, len(NormalizedProperties))
	for _, p := range NormalizedProperties {
		styles = append(styles, surface.Declaration{Property: p, Value: values[p], Important: true})
	}
	muts = append(muts, surface.Mutation{
		ID:            target.ID,
		RemoveClasses: target.Obstructing,
		SetStyles:     styles,
		AddClasses:    []string{target.ShownClass},
	})
	return muts, nil
}

func (c *Controller) runHooks(ctx context.Context, id string, hooks []Hook) int {
	failures := 0
	for i, h := range hooks {
		err := callHook(ctx, id, h)
		if err == nil {
			continue
		}
		failures++
		herr := &HookError{SectionID: id, Index: i, Err: err}
		c.logger.Warn("section: hook failed", "section", id, "index", i, "error", err)
		if c.report != nil {
			c.report(herr)
		}
	}
	return failures
}

func callHook(ctx context.Context, id string, h Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, id)
}

func (c *Controller) notify(ctx context.Context, o Observer, t Transition) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("section: observer panic", "section", t.SectionID, "panic", r)
		}
	}()
	o(ctx, t)
}
