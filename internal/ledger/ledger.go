// Package ledger implements the credit ledger interface spec §6 defines:
// Reserve/Commit/Refund as an atomic, idempotent two-phase debit. Grounded
// on original_source/backend/app/services/credit_manager.py, whose
// CreditManager.deduct_credits raised InsufficientCreditsError as an
// exception — spec §9's design notes call this out explicitly as becoming
// a typed result variant instead, which is what ErrInsufficientCredits is.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientCredits is returned by Reserve when owner does not have n
// credits available. Callers branch on this with errors.Is rather than
// catching an exception, per spec §9.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrUnknownToken is returned by Commit/Refund when the token was never
// issued by this ledger. Settled reservations are kept, so a token this
// ledger issued is always known.
var ErrUnknownToken = errors.New("unknown reservation token")

// Token is the opaque handle returned by Reserve. It may be Committed or
// Refunded exactly once; subsequent calls are no-ops (spec §3, §8).
type Token string

type reservationState string

const (
	stateHeld      reservationState = "held"
	stateCommitted reservationState = "committed"
	stateRefunded  reservationState = "refunded"
)

type reservation struct {
	mu      sync.Mutex
	owner   string
	amount  int
	state   reservationState
	created time.Time
}

// TransactionKind distinguishes ledger events recorded in a Ledger's
// per-owner history, grounded on credit_manager.py's Transaction model.
type TransactionKind string

const (
	TxReserve TransactionKind = "reserve"
	TxCommit  TransactionKind = "commit"
	TxRefund  TransactionKind = "refund"
)

// Transaction is one entry in an owner's audit trail.
type Transaction struct {
	Kind      TransactionKind
	Amount    int
	Token     Token
	Timestamp time.Time
}

const historyLimit = 200

// Ledger is an in-memory reference implementation of the credit ledger
// interface. It is the default construction used by the engine and in
// tests; a durable, externally-backed ledger can satisfy the same
// interface (engine.Ledger) without changing engine code.
type Ledger struct {
	mu           sync.Mutex
	balances     map[string]int
	reservations map[Token]*reservation
	history      map[string][]Transaction
}

// NewMemory constructs a Ledger. Owners start with zero balance; call
// Grant to seed credits (e.g. in tests or a demo harness).
func NewMemory() *Ledger {
	return &Ledger{
		balances:     make(map[string]int),
		reservations: make(map[Token]*reservation),
		history:      make(map[string][]Transaction),
	}
}

// Grant adds n credits to owner's balance outside the reserve/commit/refund
// lifecycle — used to seed an owner's account, not part of spec §6's
// verification-facing interface.
func (l *Ledger) Grant(owner string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] += n
}

// Balance returns owner's current available (unreserved) balance.
func (l *Ledger) Balance(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner]
}

// Reserve atomically holds n credits against owner's balance and returns a
// token that must later be Committed or Refunded. Returns
// ErrInsufficientCredits if owner's balance is below n — no work happens
// on credit (spec §9).
func (l *Ledger) Reserve(ctx context.Context, owner string, n int) (Token, error) {
	if n <= 0 {
		return "", fmt.Errorf("reserve amount must be positive, got %d", n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[owner] < n {
		return "", fmt.Errorf("%w: owner %s requested %d, has %d", ErrInsufficientCredits, owner, n, l.balances[owner])
	}

	l.balances[owner] -= n
	token := Token(uuid.New().String())
	l.reservations[token] = &reservation{
		owner:   owner,
		amount:  n,
		state:   stateHeld,
		created: time.Now(),
	}
	l.appendHistoryLocked(owner, Transaction{Kind: TxReserve, Amount: n, Token: token, Timestamp: time.Now()})
	return token, nil
}

// Commit finalizes a reservation, debiting nUsed (which may be less than
// the reserved amount — e.g. a job that completed fewer addresses than
// requested) and returning the unused remainder to owner's balance.
// Idempotent: committing an already-settled token is a no-op (spec §8).
func (l *Ledger) Commit(ctx context.Context, token Token, nUsed int) error {
	res, ok := l.lockReservation(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	defer res.mu.Unlock()

	if res.state != stateHeld {
		return nil
	}

	if nUsed < 0 || nUsed > res.amount {
		nUsed = res.amount
	}
	unused := res.amount - nUsed

	l.mu.Lock()
	l.balances[res.owner] += unused
	res.state = stateCommitted
	l.appendHistoryLocked(res.owner, Transaction{Kind: TxCommit, Amount: nUsed, Token: token, Timestamp: time.Now()})
	l.mu.Unlock()

	return nil
}

// Refund keeps nUsed credits as spent, releases the rest of the
// reservation (amount - nUsed, never below zero) back to owner's balance,
// and marks the token settled. Idempotent:
// refunding an already-settled token is a no-op.
func (l *Ledger) Refund(ctx context.Context, token Token, nUsed int) error {
	res, ok := l.lockReservation(token)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	defer res.mu.Unlock()

	if res.state != stateHeld {
		return nil
	}

	refundAmount := res.amount - nUsed
	if refundAmount < 0 {
		refundAmount = 0
	}

	l.mu.Lock()
	l.balances[res.owner] += refundAmount
	res.state = stateRefunded
	l.appendHistoryLocked(res.owner, Transaction{Kind: TxRefund, Amount: refundAmount, Token: token, Timestamp: time.Now()})
	l.mu.Unlock()

	return nil
}

func (l *Ledger) lockReservation(token Token) (*reservation, bool) {
	l.mu.Lock()
	res, ok := l.reservations[token]
	l.mu.Unlock()
	if !ok {
		return nil, false
	}
	res.mu.Lock()
	return res, true
}

// History returns the most recent transactions for owner, newest first,
// capped at limit. Grounded on credit_manager.py's
// get_transaction_history — the external billing collaborator spec §1
// treats as out of scope to build consumes this, not the core engine.
func (l *Ledger) History(owner string, limit int) []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs := l.history[owner]
	if limit <= 0 || limit > len(txs) {
		limit = len(txs)
	}
	out := make([]Transaction, limit)
	for i := 0; i < limit; i++ {
		out[i] = txs[len(txs)-1-i]
	}
	return out
}

// appendHistoryLocked requires the caller to already hold l.mu.
func (l *Ledger) appendHistoryLocked(owner string, tx Transaction) {
	h := append(l.history[owner], tx)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	l.history[owner] = h
}
