// Package theme stores the dashboard's light/dark preference and applies
// it to the document root of a surface.
package theme

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Theme is a colour scheme preference.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

// Default is returned when nothing is stored.
const Default = Light

// DefaultAttribute is the root attribute stylesheets key on.
const DefaultAttribute = "data-theme"

// ErrInvalidValue matches every *InvalidValueError.
var ErrInvalidValue = errors.New("theme: invalid value")

// InvalidValueError rejects a value outside {light, dark}.
type InvalidValueError struct {
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("theme: invalid value %q (want light or dark)", e.Value)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrInvalidValue }

// Parse validates s.
func Parse(s string) (Theme, error) {
	switch t := Theme(s); t {
	case Light, Dark:
		return t, nil
	}
	return "", &InvalidValueError{Value: s}
}

// Opposite flips light and dark.
func (t Theme) Opposite() Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

// Store persists the preference.
type Store interface {
	// Load returns the stored value, ok=false when none is stored.
	Load(ctx context.Context) (value string, ok bool, err error)
	Save(ctx context.Context, value string) error
}

// Applier renders the preference. surface.Surface satisfies it.
type Applier interface {
	SetDocumentAttribute(ctx context.Context, name, value string) error
}

// Preference is the theme preference of one dashboard.
type Preference struct {
	store     Store
	applier   Applier
	attribute string
	logger    *slog.Logger
}

// Option configures a Preference.
type Option func(*Preference)

// WithAttribute sets the root attribute written on apply.
func WithAttribute(name string) Option {
	return func(p *Preference) { p.attribute = name }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Preference) { p.logger = l }
}

// New creates a Preference. applier may be nil when nothing renders the
// preference (e.g. a CLI that only edits the store).
func New(store Store, applier Applier, opts ...Option) *Preference {
	p := &Preference{
		store:     store,
		applier:   applier,
		attribute: DefaultAttribute,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get returns the stored preference, Light when nothing valid is stored.
// A corrupt stored value is logged and treated as absent.
func (p *Preference) Get(ctx context.Context) (Theme, error) {
	v, ok, err := p.store.Load(ctx)
	if err != nil {
		return Default, fmt.Errorf("theme: load: %w", err)
	}
	if !ok {
		return Default, nil
	}
	t, err := Parse(v)
	if err != nil {
		p.logger.Warn("theme: ignoring stored value", "value", v)
		return Default, nil
	}
	return t, nil
}

// Set validates, persists, then applies value. An invalid value or a
// store failure leaves the stored preference unchanged.
func (p *Preference) Set(ctx context.Context, value string) error {
	t, err := Parse(value)
	if err != nil {
		return err
	}
	if err := p.store.Save(ctx, string(t)); err != nil {
		return fmt.Errorf("theme: save: %w", err)
	}
	return p.apply(ctx, t)
}

// Toggle flips the preference and returns the new value.
func (p *Preference) Toggle(ctx context.Context) (Theme, error) {
	cur, err := p.Get(ctx)
	if err != nil {
		return cur, err
	}
	next := cur.Opposite()
	if err := p.Set(ctx, string(next)); err != nil {
		return cur, err
	}
	return next, nil
}

// Apply renders the stored preference; call it once at startup.
func (p *Preference) Apply(ctx context.Context) (Theme, error) {
	t, err := p.Get(ctx)
	if err != nil {
		return t, err
	}
	return t, p.apply(ctx, t)
}

func (p *Preference) apply(ctx context.Context, t Theme) error {
	if p.applier == nil {
		return nil
	}
	if err := p.applier.SetDocumentAttribute(ctx, p.attribute, string(t)); err != nil {
		return fmt.Errorf("theme: apply %s: %w", t, err)
	}
	p.logger.Debug("theme: applied", "theme", t, "attribute", p.attribute)
	return nil
}
