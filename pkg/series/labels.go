package series

import "strings"

// Labels is the hierarchical label path of one harvested stream, e.g.
// exchange / market type / symbol / timeframe. Each component becomes one
// directory segment of the output path.
type Labels []string

// NewLabels builds a label path, replacing path separators inside each
// component so it stays a single segment ("BTC/USDT" -> "BTC-USDT").
func NewLabels(parts ...string) Labels {
	out := make(Labels, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, "/", "-")
		p = strings.ReplaceAll(p, "\\", "-")
		out = append(out, p)
	}
	return out
}

// String joins all components with underscores, for log prefixes.
func (l Labels) String() string {
	return strings.Join(l, "_")
}

// Segments returns the path segments.
func (l Labels) Segments() []string {
	return []string(l)
}
