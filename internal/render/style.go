package render

import (
	"fmt"
	"strings"
)

// Style selects how much annotation a rendered scene carries.
type Style int

const (
	// StyleBasic draws the magnet, the probe, and the vertical guide to the
	// magnet surface with numeric Z ticks.
	StyleBasic Style = iota
	// StyleAnnotated adds the X=0 and Y=0 plane projections, coordinate
	// labels, and semantic Z tick labels.
	StyleAnnotated
)

// String returns the configuration name of the style.
func (s Style) String() string {
	switch s {
	case StyleBasic:
		return "basic"
	case StyleAnnotated:
		return "annotated"
	default:
		return fmt.Sprintf("Style(%d)", int(s))
	}
}

// ParseStyle maps a configuration name to a Style.
func ParseStyle(name string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "basic":
		return StyleBasic, nil
	case "annotated", "extended":
		return StyleAnnotated, nil
	default:
		return 0, fmt.Errorf("unknown render style %q: expected basic or annotated", name)
	}
}
