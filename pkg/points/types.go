package points

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Points is an integer point amount.
type Points int64

// Int64 returns the raw amount.
func (amount Points) Int64() int64 {
	return int64(amount)
}

// NewPoints validates an amount and ensures it is strictly positive.
func NewPoints(raw int64) (Points, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrNonPositiveAmount)
	}
	return Points(raw), nil
}

// UserID identifies a balance owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryCharge EntryKind = "CHARGE"
	EntryUse    EntryKind = "USE"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryCharge, EntryUse:
		return EntryKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
	}
}

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// Balance is the current point amount held by a user.
type Balance struct {
	UserID    UserID
	Amount    Points
	UpdatedAt time.Time
}

// ZeroBalance is the balance of a user that has never been written.
func ZeroBalance(userID UserID) Balance {
	return Balance{UserID: userID}
}

// LedgerEntry is a single immutable line in a user's history.
type LedgerEntry struct {
	EntryID    string
	UserID     UserID
	Amount     Points
	Kind       EntryKind
	RecordedAt time.Time
	// Sequence is the store-assigned insertion counter; history is ordered by it.
	Sequence int64
}

// EntryInput carries a validated ledger entry prior to insertion.
type EntryInput struct {
	userID     UserID
	amount     Points
	kind       EntryKind
	recordedAt time.Time
}

// NewEntryInput validates the entry fields the store needs to append a line.
func NewEntryInput(userID UserID, amount Points, kind EntryKind, recordedAt time.Time) (EntryInput, error) {
	if userID.String() == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if amount <= 0 {
		return EntryInput{}, fmt.Errorf("%w: entry amount must be greater than zero", ErrNonPositiveAmount)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	return EntryInput{userID: userID, amount: amount, kind: kind, recordedAt: recordedAt}, nil
}

// UserID returns the owning user.
func (input EntryInput) UserID() UserID {
	return input.userID
}

// Amount returns the magnitude of the operation.
func (input EntryInput) Amount() Points {
	return input.amount
}

// Kind returns the entry kind.
func (input EntryInput) Kind() EntryKind {
	return input.kind
}

// RecordedAt returns the commit timestamp.
func (input EntryInput) RecordedAt() time.Time {
	return input.recordedAt
}

// BalanceTable maps a user id to its current balance.
type BalanceTable interface {
	// ReadBalance reports false when the user has no balance row yet.
	ReadBalance(ctx context.Context, userID UserID) (Balance, bool, error)
	// WriteBalance upserts the row and stamps UpdatedAt.
	WriteBalance(ctx context.Context, userID UserID, amount Points, at time.Time) (Balance, error)
}

// LedgerTable is the append-only store of ledger entries.
type LedgerTable interface {
	AppendEntry(ctx context.Context, entry EntryInput) error
	// ReadLedger returns all entries of a user in insertion order.
	ReadLedger(ctx context.Context, userID UserID) ([]LedgerEntry, error)
}

// Store is the persistence contract used by Service.
// Writes issued through the txStore become visible to readers together on commit.
type Store interface {
	BalanceTable
	LedgerTable
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
}
