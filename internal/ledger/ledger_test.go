package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestReserveInsufficientCredits(t *testing.T) {
	l := NewMemory()
	l.Grant("alice", 5)

	_, err := l.Reserve(context.Background(), "alice", 10)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("Reserve() = %v, want ErrInsufficientCredits", err)
	}
	if got := l.Balance("alice"); got != 5 {
		t.Errorf("Balance() = %d, want unchanged 5 after failed reserve", got)
	}
}

func TestReserveCommitFullUsage(t *testing.T) {
	l := NewMemory()
	l.Grant("alice", 10)

	token, err := l.Reserve(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := l.Balance("alice"); got != 0 {
		t.Errorf("Balance() after reserve = %d, want 0", got)
	}

	if err := l.Commit(context.Background(), token, 10); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := l.Balance("alice"); got != 0 {
		t.Errorf("Balance() after full-usage commit = %d, want 0", got)
	}
}

func TestCommitPartialUsageRefundsRemainder(t *testing.T) {
	l := NewMemory()
	l.Grant("alice", 100)

	token, err := l.Reserve(context.Background(), "alice", 100)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := l.Commit(context.Background(), token, 60); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := l.Balance("alice"); got != 40 {
		t.Errorf("Balance() = %d, want 40 (100 reserved - 60 used refunded back)", got)
	}
}

func TestRefundReturnsUnusedPortion(t *testing.T) {
	l := NewMemory()
	l.Grant("alice", 50)

	token, err := l.Reserve(context.Background(), "alice", 50)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := l.Refund(context.Background(), token, 20); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := l.Balance("alice"); got != 30 {
		t.Errorf("Balance() = %d, want 30 (50 reserved, 20 used, 30 refunded)", got)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	l := NewMemory()
	l.Grant("alice", 10)
	token, _ := l.Reserve(context.Background(), "alice", 10)

	if err := l.Commit(context.Background(), token, 10); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := l.Commit(context.Background(), token, 10); err != nil {
		t.Fatalf("second Commit should be a no-op, not an error: %v", err)
	}

	// A refund after a settled commit must not double-credit the owner.
	if err := l.Refund(context.Background(), token, 0); err != nil {
		t.Fatalf("Refund on settled token should be a no-op: %v", err)
	}
	if got := l.Balance("alice"); got != 0 {
		t.Errorf("Balance() = %d, want 0 (no double-credit from late refund)", got)
	}
}

func TestUnknownTokenErrors(t *testing.T) {
	l := NewMemory()
	if err := l.Commit(context.Background(), Token("bogus"), 1); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Commit(bogus) = %v, want ErrUnknownToken", err)
	}
	if err := l.Refund(context.Background(), Token("bogus"), 1); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Refund(bogus) = %v, want ErrUnknownToken", err)
	}
}

func TestHistoryRecordsEvents(t *testing.T) {
	l := NewMemory()
	l.Grant("alice", 10)
	token, _ := l.Reserve(context.Background(), "alice", 10)
	l.Commit(context.Background(), token, 10)

	hist := l.History("alice", 10)
	if len(hist) != 2 {
		t.Fatalf("History() len = %d, want 2 (reserve + commit)", len(hist))
	}
	if hist[0].Kind != TxCommit {
		t.Errorf("History()[0].Kind = %q, want commit (newest first)", hist[0].Kind)
	}
	if hist[1].Kind != TxReserve {
		t.Errorf("History()[1].Kind = %q, want reserve", hist[1].Kind)
	}
}
