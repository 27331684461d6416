package timeout_test

import (
	"context"
	"testing"
	"time"

	"github.com/2389-research/massgen/timeout"
)

func TestAgentTrackerCancelsOnTokenCap(t *testing.T) {
	ctx, tr := timeout.NewAgentTracker(context.Background(), "a1", timeout.Budget{MaxTokens: 100})
	tr.AddTokens(50)
	select {
	case <-ctx.Done():
		t.Fatalf("context cancelled before token cap reached")
	default:
	}
	tr.AddTokens(60)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("context not cancelled after exceeding token cap")
	}
	if !tr.Exceeded() {
		t.Fatalf("Exceeded() = false, want true")
	}
}

func TestAgentTrackerCancelsOnWallClock(t *testing.T) {
	ctx, tr := timeout.NewAgentTracker(context.Background(), "a1", timeout.Budget{Duration: 10 * time.Millisecond})
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("context not cancelled after wall-clock deadline")
	}
	if !tr.Exceeded() {
		t.Fatalf("Exceeded() = false, want true")
	}
}

func TestGovernorCancelsOnGlobalTokenCap(t *testing.T) {
	ctx, gov := timeout.NewGovernor(context.Background(), timeout.Budget{MaxTokens: 10})
	gov.AddTokens(11)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("governor context not cancelled after exceeding global token cap")
	}
	if !gov.Exceeded() {
		t.Fatalf("Exceeded() = false, want true")
	}
}

func TestGovernorCancelStopsContextImmediately(t *testing.T) {
	ctx, gov := timeout.NewGovernor(context.Background(), timeout.Budget{})
	gov.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("context not done after explicit Cancel")
	}
}
