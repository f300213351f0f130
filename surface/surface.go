// Package surface defines the rendering surface the section controller
// and the theme preference act on: element lookup by id, class list
// changes, inline style overrides with priority and computed style reads.
//
// Implementations: htmldoc (in-memory document with a CSS cascade) and
// rodpage (live Chrome tab over CDP).
package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoElement is returned when an id does not resolve to an element.
var ErrNoElement = errors.New("surface: no such element")

// Declaration is one inline style property.
type Declaration struct {
	Property  string `json:"property"`
	Value     string `json:"value"`
	Important bool   `json:"important,omitempty"`
}

func (d Declaration) String() string {
	if d.Important {
		return d.Property + ": " + d.Value + " !important"
	}
	return d.Property + ": " + d.Value
}

// Mutation is the set of changes applied to one element. Removals are
// applied before additions.
type Mutation struct {
	ID            string        `json:"id"`
	AddClasses    []string      `json:"add_classes,omitempty"`
	RemoveClasses []string      `json:"remove_classes,omitempty"`
	SetStyles     []Declaration `json:"set_styles,omitempty"`
	RemoveStyles  []string      `json:"remove_styles,omitempty"`
}

// Query selects what Inspect reads besides classes and inline style.
type Query struct {
	Computed      []string // computed properties to resolve
	CountSelector string   // descendants to count, empty = skip
}

// Snapshot is a read of one element at one instant.
type Snapshot struct {
	Exists   bool
	Classes  []string
	Inline   []Declaration
	Computed map[string]string
	Count    int
}

// Surface is the DOM-like capability consumed by dashctl.
type Surface interface {
	// Exists reports whether id resolves to an element.
	Exists(ctx context.Context, id string) (bool, error)

	// Apply performs all mutations or none. If any id is missing it
	// returns an error wrapping ErrNoElement without touching the page.
	Apply(ctx context.Context, muts ...Mutation) error

	// Inspect reads an element. A missing element yields Exists=false
	// and a nil error.
	Inspect(ctx context.Context, id string, q Query) (Snapshot, error)

	// SetDocumentAttribute sets an attribute on the document root element.
	SetDocumentAttribute(ctx context.Context, name, value string) error

	// DocumentAttribute reads an attribute of the document root element.
	DocumentAttribute(ctx context.Context, name string) (string, error)
}

// Nesting is implemented by surfaces that can tell whether one element
// contains another. The section controller uses it to leave container
// panels of the target visible.
type Nesting interface {
	// Contains reports whether the element outerID is a strict ancestor
	// of innerID. Missing elements yield false.
	Contains(ctx context.Context, outerID, innerID string) (bool, error)
}

// MissingError reports the ids an Apply call could not resolve.
type MissingError struct {
	IDs []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("surface: no such element: %s", strings.Join(e.IDs, ", "))
}

func (e *MissingError) Unwrap() error { return ErrNoElement }

// FormatInline renders declarations as a style attribute value.
func FormatInline(decls []Declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, "; ")
}

// IDs returns the element ids of muts, in order.
func IDs(muts []Mutation) []string {
	ids := make([]string, len(muts))
	for i, m := range muts {
		ids[i] = m.ID
	}
	return ids
}
