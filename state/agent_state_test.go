package state_test

import (
	"testing"
	"time"

	"github.com/2389-research/massgen/state"
)

func TestApplyNewAnswerInvalidatesPendingVote(t *testing.T) {
	tbl := state.NewTable([]string{"a1", "a2"})

	if _, err := tbl.ApplyNewAnswer("a1", "v1", time.Now()); err != nil {
		t.Fatalf("ApplyNewAnswer a1 v1: %v", err)
	}
	if err := tbl.ApplyVote("a2", "a1", "ok"); err != nil {
		t.Fatalf("ApplyVote a2->a1: %v", err)
	}
	row2, _ := tbl.Get("a2")
	if row2.Status != state.StatusVoted {
		t.Fatalf("a2 status = %v, want Voted", row2.Status)
	}

	result, err := tbl.ApplyNewAnswer("a1", "v2", time.Now())
	if err != nil {
		t.Fatalf("ApplyNewAnswer a1 v2: %v", err)
	}
	if result.AnswerVersion != 2 {
		t.Fatalf("AnswerVersion = %d, want 2", result.AnswerVersion)
	}
	if len(result.InvalidatedVoters) != 1 || result.InvalidatedVoters[0] != "a2" {
		t.Fatalf("InvalidatedVoters = %v, want [a2]", result.InvalidatedVoters)
	}

	row2, _ = tbl.Get("a2")
	if row2.Vote != nil {
		t.Fatalf("a2 vote not cleared after a1's new answer")
	}
	if row2.Status == state.StatusVoted {
		t.Fatalf("a2 status still Voted after invalidation")
	}
}

func TestApplyVoteRejectsSelfVote(t *testing.T) {
	tbl := state.NewTable([]string{"a1"})
	tbl.ApplyNewAnswer("a1", "v1", time.Now())
	if err := tbl.ApplyVote("a1", "a1", "why not"); err == nil {
		t.Fatalf("ApplyVote(self) = nil error, want rejection")
	}
}

func TestApplyVoteRejectsKilledOrAnswerlessTarget(t *testing.T) {
	tbl := state.NewTable([]string{"a1", "a2"})
	if err := tbl.ApplyVote("a1", "a2", "no answer yet"); err == nil {
		t.Fatalf("ApplyVote(answerless target) = nil error, want rejection")
	}
	tbl.ApplyNewAnswer("a2", "v1", time.Now())
	tbl.Kill("a2", state.KillTimeout)
	if err := tbl.ApplyVote("a1", "a2", "killed target"); err == nil {
		t.Fatalf("ApplyVote(killed target) = nil error, want rejection")
	}
}

func TestHasConsensusIgnoresKilledAgents(t *testing.T) {
	tbl := state.NewTable([]string{"a1", "a2", "a3"})
	tbl.ApplyNewAnswer("a1", "v1", time.Now())
	tbl.ApplyNewAnswer("a2", "v1", time.Now())
	tbl.Kill("a3", state.KillTimeout)

	if tbl.HasConsensus() {
		t.Fatalf("HasConsensus() = true before any vote, want false")
	}
	tbl.ApplyVote("a1", "a2", "ok")
	tbl.ApplyVote("a2", "a1", "ok")
	if !tbl.HasConsensus() {
		t.Fatalf("HasConsensus() = false, want true (a3 is killed and excluded)")
	}
}

func TestDeclarationOrderIsStable(t *testing.T) {
	tbl := state.NewTable([]string{"z", "a", "m"})
	got := tbl.DeclarationOrder()
	want := []string{"z", "a", "m"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DeclarationOrder() = %v, want %v", got, want)
		}
	}
}

func TestVoteLedgerReflectsActiveVotesOnly(t *testing.T) {
	tbl := state.NewTable([]string{"a1", "a2"})
	tbl.ApplyNewAnswer("a1", "v1", time.Now())
	tbl.ApplyVote("a2", "a1", "ok")

	ledger := tbl.VoteLedger()
	if ledger["a2"] != "a1" {
		t.Fatalf("VoteLedger()[a2] = %q, want a1", ledger["a2"])
	}
	if _, ok := ledger["a1"]; ok {
		t.Fatalf("VoteLedger contains a1 which has not voted")
	}
}
