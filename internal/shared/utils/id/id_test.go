package id

import (
	"context"
	"strings"
	"testing"
)

func TestNewIdentifiersArePrefixedAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		runID := NewRunID()
		if !strings.HasPrefix(runID, "run-") {
			t.Fatalf("unexpected run id %q", runID)
		}
		if seen[runID] {
			t.Fatalf("duplicate id %q", runID)
		}
		seen[runID] = true
	}
	if !strings.HasPrefix(NewArtifactID(), "artifact-") {
		t.Fatalf("artifact prefix missing")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithDirectiveID(ctx, "dir-1")
	ctx = WithLogID(ctx, "log-1")
	if RunIDFromContext(ctx) != "run-1" || DirectiveIDFromContext(ctx) != "dir-1" || LogIDFromContext(ctx) != "log-1" {
		t.Fatalf("context values not preserved")
	}
	if WithRunID(ctx, "") != ctx {
		t.Fatalf("empty id should not wrap context")
	}
	if RunIDFromContext(context.Background()) != "" {
		t.Fatalf("expected empty run id")
	}
}
