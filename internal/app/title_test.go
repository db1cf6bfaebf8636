package app

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestGenerateTitleShortMessageVerbatim(t *testing.T) {
	if got := GenerateTitle("Hi", 100); got != "Hi" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateTitleCollapsesWhitespace(t *testing.T) {
	if got := GenerateTitle("  hello\n\tthere   world ", 100); got != "hello there world" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateTitleEmptyMessage(t *testing.T) {
	if got := GenerateTitle("   \n\t ", 100); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
}

func TestGenerateTitleCutsAtFirstSentence(t *testing.T) {
	msg := "How do I profile a Go service? I tried pprof but " + strings.Repeat("x", 120)
	got := GenerateTitle(msg, 100)
	if got != "How do I profile a Go service?" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateTitlePrefersEarliestTerminator(t *testing.T) {
	msg := "First. Second! Third? " + strings.Repeat("y", 120)
	if got := GenerateTitle(msg, 100); got != "First." {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateTitleEllipsisWhenNoSentenceBreak(t *testing.T) {
	msg := strings.Repeat("a", 150)
	got := GenerateTitle(msg, 100)
	if utf8.RuneCountInString(got) != 100 {
		t.Fatalf("expected exactly 100 runes, got %d (%q)", utf8.RuneCountInString(got), got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if got[:97] != strings.Repeat("a", 97) {
		t.Fatalf("wrong prefix: %q", got[:20])
	}
}

func TestGenerateTitleBoundaryExactlyAtCap(t *testing.T) {
	// Exactly maxLen runes goes through unmodified, no ellipsis.
	msg := strings.Repeat("b", 100)
	if got := GenerateTitle(msg, 100); got != msg {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateTitleZeroCapUsesDefault(t *testing.T) {
	msg := strings.Repeat("c", 150)
	got := GenerateTitle(msg, 0)
	if utf8.RuneCountInString(got) != 100 {
		t.Fatalf("expected default cap of 100, got %d runes", utf8.RuneCountInString(got))
	}
}
