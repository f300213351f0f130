package section

import "slices"

// Default markers. They match the class names the dashboard stylesheet
// uses for its panels.
const (
	DefaultHideClass    = "hidden"
	DefaultShownClass   = "show"
	DefaultDisplay      = "block"
	DefaultCardSelector = ".card"
)

// DefaultObstructing lists the classes known to keep a panel invisible.
var DefaultObstructing = []string{"hidden", "d-none", "invisible"}

// NormalizedProperties are forced to visible values on the active section.
var NormalizedProperties = []string{"display", "opacity", "visibility", "transform", "position", "z-index"}

// Section describes one panel of the page.
type Section struct {
	ID string `json:"id" yaml:"id"`

	// Display is the visible value of display, e.g. "flex" for a grid panel.
	Display string `json:"display,omitempty" yaml:"display"`

	// Obstructing classes are all removed on activation.
	Obstructing []string `json:"obstructing,omitempty" yaml:"obstructing"`

	// HideClass is added on deactivation.
	HideClass string `json:"hide_class,omitempty" yaml:"hide_class"`

	// ShownClass marks the active section.
	ShownClass string `json:"shown_class,omitempty" yaml:"shown_class"`

	// CardSelector selects the content markers Diagnose counts.
	CardSelector string `json:"card_selector,omitempty" yaml:"card_selector"`
}

// withDefaults fills every empty field. HideClass is always part of the
// obstructing set so deactivation is undone by the next activation.
func (s Section) withDefaults() Section {
	if s.Display == "" {
		s.Display = DefaultDisplay
	}
	if len(s.Obstructing) == 0 {
		s.Obstructing = slices.Clone(DefaultObstructing)
	} else {
		s.Obstructing = slices.Clone(s.Obstructing)
	}
	if s.HideClass == "" {
		s.HideClass = s.Obstructing[0]
	}
	if !slices.Contains(s.Obstructing, s.HideClass) {
		s.Obstructing = append(s.Obstructing, s.HideClass)
	}
	if s.ShownClass == "" {
		s.ShownClass = DefaultShownClass
	}
	if s.CardSelector == "" {
		s.CardSelector = DefaultCardSelector
	}
	return s
}

// visibleValues maps each normalized property to its forced value.
func (s Section) visibleValues() map[string]string {
	return map[string]string{
		"display":    s.Display,
		"opacity":    "1",
		"visibility": "visible",
		"transform":  "none",
		"position":   "relative",
		"z-index":    "1",
	}
}
