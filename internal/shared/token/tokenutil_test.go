package tokenutil

import (
	"strings"
	"testing"
)

func TestEstimateFast(t *testing.T) {
	if EstimateFast("   ") != 0 {
		t.Fatalf("blank text should estimate 0")
	}
	if got := EstimateFast("a b c d e"); got != 5 {
		t.Fatalf("expected word count to dominate, got %d", got)
	}
	if got := EstimateFast(strings.Repeat("x", 400)); got != 100 {
		t.Fatalf("expected runes/4, got %d", got)
	}
}

func TestCountTokensPositive(t *testing.T) {
	if CountTokens("hello world, this is a test") <= 0 {
		t.Fatalf("expected positive count")
	}
}

func TestTruncateToTokens(t *testing.T) {
	short := "short text"
	if TruncateToTokens(short, 100) != short {
		t.Fatalf("short text must be unchanged")
	}
	if TruncateToTokens(short, 0) != short {
		t.Fatalf("non-positive budget disables truncation")
	}
	long := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	out := TruncateToTokens(long, 10)
	if len(out) >= len(long) || !strings.HasSuffix(out, "...") {
		t.Fatalf("expected truncated output, got %d chars", len(out))
	}
}
