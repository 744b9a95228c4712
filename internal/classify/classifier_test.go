package classify

import (
	"strings"
	"testing"
)

func testOptions() Options {
	return Options{
		StripPrefix:     "[engine] ",
		ProgressMarkers: []string{"Agent", "Action:", "🚀", "✅"},
		SystemMarkers:   []string{"Starting", "Completed", "Error"},
		DedupThreshold:  50,
	}
}

func TestSuppressEmptyAndSeparators(t *testing.T) {
	c := New(testOptions())

	tests := []struct {
		name string
		line string
	}{
		{"Empty", ""},
		{"Whitespace", "   \t  "},
		{"EqualsBanner", strings.Repeat("=", 60)},
		{"DashBanner", "----------"},
		{"PrefixedBanner", "[engine] =========="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.line); got != Suppressed {
				t.Errorf("Classify(%q) = %s, want suppressed", tt.line, got)
			}
		})
	}
}

func TestMixedPunctuationIsNotSeparator(t *testing.T) {
	c := New(testOptions())
	if got := c.Classify("=-=-=-=-="); got == Suppressed {
		t.Error("mixed punctuation line suppressed; separator rule is single repeated rune only")
	}
}

func TestMarkersBypassDedup(t *testing.T) {
	c := New(testOptions())
	line := "🚀 Agent kickoff " + strings.Repeat("x", 80)

	if got := c.Classify(line); got != Progress {
		t.Fatalf("first marker line = %s, want progress", got)
	}
	if got := c.Classify(line); got != Progress {
		t.Errorf("repeated marker line = %s, want progress (markers bypass dedup)", got)
	}
}

func TestSystemMarkerCategory(t *testing.T) {
	c := New(testOptions())
	if got := c.Classify("Starting extraction phase"); got != System {
		t.Errorf("Classify system banner = %s, want system", got)
	}
}

func TestLongRepeatSuppressed(t *testing.T) {
	c := New(testOptions())
	long := strings.Repeat("final answer text ", 5) // > 50 runes, no markers

	if got := c.Classify(long); got != Progress {
		t.Fatalf("first occurrence = %s, want progress", got)
	}
	c.Classify("interleaved unrelated output")
	if got := c.Classify(long); got != Suppressed {
		t.Errorf("second occurrence of long line = %s, want suppressed", got)
	}
}

func TestShortRepeatAllowed(t *testing.T) {
	c := New(testOptions())

	if got := c.Classify("ok"); got != Progress {
		t.Fatalf("first 'ok' = %s", got)
	}
	c.Classify("something else entirely")
	if got := c.Classify("ok"); got != Progress {
		t.Errorf("non-consecutive short repeat = %s, want progress", got)
	}
}

func TestConsecutiveExactRepeatCollapsed(t *testing.T) {
	c := New(testOptions())

	// Short enough to escape the length-based dedup rule.
	if got := c.Classify("retrying"); got != Progress {
		t.Fatalf("first = %s", got)
	}
	if got := c.Classify("retrying"); got != Suppressed {
		t.Errorf("immediate exact repeat = %s, want suppressed", got)
	}
	// A different accepted line resets the consecutive rule.
	c.Classify("other")
	if got := c.Classify("retrying"); got != Progress {
		t.Errorf("repeat after interleave = %s, want progress", got)
	}
}

func TestPrefixStrippedForComparison(t *testing.T) {
	c := New(testOptions())
	long := strings.Repeat("duplicated content line ", 4)

	if got := c.Classify(long); got != Progress {
		t.Fatalf("first = %s", got)
	}
	c.Classify("spacer")
	// Same content re-emitted with the transport prefix must still dedup.
	if got := c.Classify("[engine] " + long); got != Suppressed {
		t.Errorf("prefixed duplicate = %s, want suppressed", got)
	}
}

func TestFreshRunForgetsHistory(t *testing.T) {
	long := strings.Repeat("per-run scoped content ", 4)

	c1 := New(testOptions())
	c1.Classify(long)

	c2 := New(testOptions())
	if got := c2.Classify(long); got != Progress {
		t.Errorf("new classifier suppressed line seen only by previous run: %s", got)
	}
}

func TestZeroThresholdGetsDefault(t *testing.T) {
	c := New(Options{})
	if c.opts.DedupThreshold != 50 {
		t.Errorf("DedupThreshold = %d, want default 50", c.opts.DedupThreshold)
	}
}
