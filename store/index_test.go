package store_test

import (
	"path/filepath"
	"testing"

	"github.com/2389-research/massgen/store"
)

func TestIndexUpsertAndList(t *testing.T) {
	dir := t.TempDir()
	idx, err := store.OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if err := idx.UpsertSession("sess1", "what is 2+2", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := idx.UpsertAttempt("sess1", 1, "restart", "", ""); err != nil {
		t.Fatalf("UpsertAttempt: %v", err)
	}
	if err := idx.UpsertAttempt("sess1", 2, "done", "a1", "4"); err != nil {
		t.Fatalf("UpsertAttempt: %v", err)
	}

	attempts, err := idx.ListAttempts("sess1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("len(attempts) = %d, want 2", len(attempts))
	}
	if attempts[0].AttemptNumber != 1 || attempts[0].Outcome != "restart" {
		t.Fatalf("attempts[0] = %+v, want attempt 1 restart", attempts[0])
	}
	if attempts[1].AttemptNumber != 2 || attempts[1].Winner != "a1" || attempts[1].FinalAnswer != "4" {
		t.Fatalf("attempts[1] = %+v, want attempt 2 won by a1 with answer 4", attempts[1])
	}
}

func TestIndexUpsertSessionAcceptsRepeatedSessionID(t *testing.T) {
	dir := t.TempDir()
	idx, err := store.OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if err := idx.UpsertSession("sess1", "first prompt", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := idx.UpsertSession("sess1", "revised prompt", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("UpsertSession (overwrite): %v", err)
	}
}

func TestIndexUpsertAttemptOverwritesOutcome(t *testing.T) {
	dir := t.TempDir()
	idx, err := store.OpenIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	if err := idx.UpsertAttempt("sess1", 1, "restart", "", ""); err != nil {
		t.Fatalf("UpsertAttempt: %v", err)
	}
	if err := idx.UpsertAttempt("sess1", 1, "done", "a2", "final"); err != nil {
		t.Fatalf("UpsertAttempt (overwrite): %v", err)
	}

	attempts, err := idx.ListAttempts("sess1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("len(attempts) = %d, want 1 (overwritten in place, not appended)", len(attempts))
	}
	if attempts[0].Outcome != "done" || attempts[0].Winner != "a2" {
		t.Fatalf("attempts[0] = %+v, want overwritten outcome=done winner=a2", attempts[0])
	}
}
