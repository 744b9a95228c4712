// Package classify decides which raw engine output lines are worth keeping.
// The engine is verbose and re-emits identical or near-identical lines on
// internal retries; the classifier suppresses that noise while guaranteeing
// operator-visible milestones always get through.
package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category is the coarse classification of an accepted line.
type Category int

const (
	Suppressed Category = iota
	Progress            // agent progress and general engine output
	System              // supervisor/system milestones and banners
)

func (c Category) String() string {
	switch c {
	case Progress:
		return "agent_progress"
	case System:
		return "system"
	default:
		return "suppressed"
	}
}

// Options tunes the classifier. The marker lists and dedup threshold are
// deployment configuration, not contracts.
type Options struct {
	// StripPrefix is a transport-added prefix removed before any comparison.
	StripPrefix string
	// ProgressMarkers always pass, tagged Progress.
	ProgressMarkers []string
	// SystemMarkers always pass, tagged System.
	SystemMarkers []string
	// DedupThreshold is the normalized length (in runes) above which a
	// repeated line is suppressed. Short repeated tokens are allowed.
	DedupThreshold int
}

// Classifier holds per-run dedup state. Not safe for concurrent use; each
// supervised run owns one and discards it at run end.
type Classifier struct {
	opts         Options
	seen         map[string]struct{}
	lastAccepted string
	hasAccepted  bool
}

func New(opts Options) *Classifier {
	if opts.DedupThreshold <= 0 {
		opts.DedupThreshold = 50
	}
	return &Classifier{
		opts: opts,
		seen: make(map[string]struct{}),
	}
}

// Classify applies the filter rules in order, first match wins, and updates
// the run's dedup state when the line is accepted.
func (c *Classifier) Classify(raw string) Category {
	clean := c.normalize(raw)

	// Empty lines and visual separators carry no information.
	if clean == "" || isSeparator(clean) {
		return Suppressed
	}

	// Milestones bypass dedup entirely so retried phases stay visible.
	if cat, ok := c.matchMarker(raw); ok {
		c.accept(raw, clean)
		return cat
	}

	// Long-form content seen before this run is re-emitted noise. Short
	// repeated tokens (single words, acknowledgements) are legitimate.
	if _, dup := c.seen[clean]; dup && utf8.RuneCountInString(clean) > c.opts.DedupThreshold {
		return Suppressed
	}

	// Collapse consecutive exact repeats regardless of length.
	if c.hasAccepted && c.lastAccepted == raw {
		return Suppressed
	}

	c.accept(raw, clean)
	return Progress
}

func (c *Classifier) accept(raw, clean string) {
	c.seen[clean] = struct{}{}
	c.lastAccepted = raw
	c.hasAccepted = true
}

func (c *Classifier) normalize(raw string) string {
	s := raw
	if c.opts.StripPrefix != "" {
		s = strings.ReplaceAll(s, c.opts.StripPrefix, "")
	}
	return strings.TrimSpace(s)
}

func (c *Classifier) matchMarker(line string) (Category, bool) {
	for _, m := range c.opts.ProgressMarkers {
		if strings.Contains(line, m) {
			return Progress, true
		}
	}
	for _, m := range c.opts.SystemMarkers {
		if strings.Contains(line, m) {
			return System, true
		}
	}
	return Suppressed, false
}

// isSeparator reports whether the line is one punctuation or symbol rune
// repeated, e.g. "============" banners.
func isSeparator(s string) bool {
	var first rune
	n := 0
	for _, r := range s {
		if n == 0 {
			if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
				return false
			}
			first = r
		} else if r != first {
			return false
		}
		n++
	}
	return n >= 3
}
