package tracker

import (
	"testing"
	"time"
)

func mkTicket(number, votes int, createdAt time.Time, approved bool) Ticket {
	approvers := map[string]bool{}
	if approved {
		approvers["alice"] = true
	}
	return Ticket{
		Number:    number,
		Votes:     votes,
		Approvers: approvers,
		Labels:    map[string]bool{},
		CreatedAt: createdAt,
	}
}

func TestSelectBuildableOrdersByVotesThenAge(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	low := mkTicket(10, 1, base, true)
	high := mkTicket(11, 5, base.Add(time.Hour), true)

	got := SelectBuildable([]Ticket{low, high})
	if len(got) != 2 {
		t.Fatalf("expected 2 buildable tickets, got %d", len(got))
	}
	if got[0].Number != 11 || got[1].Number != 10 {
		t.Fatalf("expected #11 before #10 by votes, got order %d, %d", got[0].Number, got[1].Number)
	}
}

func TestSelectBuildableBreaksTiesByCreatedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := mkTicket(1, 3, base, true)
	newer := mkTicket(2, 3, base.Add(time.Minute), true)

	got := SelectBuildable([]Ticket{newer, older})
	if got[0].Number != 1 || got[1].Number != 2 {
		t.Fatalf("expected older ticket first on a vote tie, got %d, %d", got[0].Number, got[1].Number)
	}
}

func TestSelectBuildableExcludesUnapprovedAndBuildingOrComplete(t *testing.T) {
	unapproved := mkTicket(1, 10, time.Now(), false)
	building := mkTicket(2, 10, time.Now(), true)
	building.Labels[LabelBuilding] = true
	complete := mkTicket(3, 10, time.Now(), true)
	complete.Labels[LabelComplete] = true
	eligible := mkTicket(4, 10, time.Now(), true)

	got := SelectBuildable([]Ticket{unapproved, building, complete, eligible})
	if len(got) != 1 || got[0].Number != 4 {
		t.Fatalf("expected only #4 to be buildable, got %+v", got)
	}
}

func TestSelectBuildableIsDeterministicAcrossInputOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkTicket(1, 2, base, true)
	b := mkTicket(2, 2, base.Add(time.Minute), true)
	c := mkTicket(3, 7, base, true)

	first := SelectBuildable([]Ticket{a, b, c})
	second := SelectBuildable([]Ticket{c, b, a})

	if len(first) != len(second) {
		t.Fatalf("length mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Number != second[i].Number {
			t.Fatalf("order differs at index %d: %d vs %d", i, first[i].Number, second[i].Number)
		}
	}
}

func TestComputeApprovalCountsVotesAndAuthorizedApproversOnly(t *testing.T) {
	authorized := map[string]bool{"staffer": true}
	reactions := []Reaction{
		{Principal: "alice", Kind: UpvoteReaction},
		{Principal: "bob", Kind: UpvoteReaction},
		{Principal: "staffer", Kind: "rocket"},
		{Principal: "rando", Kind: "hooray"}, // not authorized, should not count
	}

	votes, approvers := ComputeApproval(reactions, authorized)
	if votes != 2 {
		t.Errorf("expected 2 votes, got %d", votes)
	}
	if len(approvers) != 1 || !approvers["staffer"] {
		t.Errorf("expected only staffer approved, got %+v", approvers)
	}
}

func TestExclusiveLifecycleCountReflectsI4(t *testing.T) {
	tk := mkTicket(1, 0, time.Now(), false)
	tk.Labels[LabelQueued] = true
	if tk.ExclusiveLifecycleCount() != 1 {
		t.Fatalf("expected count 1, got %d", tk.ExclusiveLifecycleCount())
	}
	tk.Labels[LabelBuilding] = true
	if tk.ExclusiveLifecycleCount() != 2 {
		t.Fatalf("expected count 2 once two exclusive labels are both present (the invariant the state machine must prevent), got %d", tk.ExclusiveLifecycleCount())
	}
}

func TestMemStoreLabelAndCommentLifecycle(t *testing.T) {
	store := NewMemStore([]string{"alice"})
	store.Seed(Ticket{Number: 1, Title: "fix bug"}, []Reaction{
		{Principal: "alice", Kind: "rocket"},
	})

	if err := store.AddLabels(1, LabelBuilding); err != nil {
		t.Fatalf("AddLabels: %v", err)
	}
	tk, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !tk.HasLabel(LabelBuilding) {
		t.Fatalf("expected building label to be present")
	}

	if err := store.RemoveLabels(1, LabelBuilding); err != nil {
		t.Fatalf("RemoveLabels: %v", err)
	}
	tk, _ = store.Get(1)
	if tk.HasLabel(LabelBuilding) {
		t.Fatalf("expected building label to be removed")
	}

	if err := store.CreateComment(1, "merged"); err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	comments, err := store.Comments(1)
	if err != nil || len(comments) != 1 || comments[0] != "merged" {
		t.Fatalf("expected one comment %q, got %v (err=%v)", "merged", comments, err)
	}

	if err := store.Close(1); err != nil {
		t.Fatalf("Close: %v", err)
	}
	closed, err := store.IsClosed(1)
	if err != nil || !closed {
		t.Fatalf("expected ticket closed, got closed=%v err=%v", closed, err)
	}
	open, err := store.ListOpen()
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected closed ticket excluded from ListOpen, got %+v", open)
	}
}

func TestMemStoreGetUnknownTicketErrors(t *testing.T) {
	store := NewMemStore(nil)
	if _, err := store.Get(999); err == nil {
		t.Fatalf("expected error for unknown ticket")
	}
}
