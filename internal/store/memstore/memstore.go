package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"github.com/google/uuid"
)

// Store implements points.Store in process memory.
// Committed data is lost when the process exits.
type Store struct {
	mu       sync.RWMutex
	balances map[string]points.Balance
	ledgers  map[string][]points.LedgerEntry
	sequence int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		balances: make(map[string]points.Balance),
		ledgers:  make(map[string][]points.LedgerEntry),
	}
}

// WithTx stages every write issued through txStore and applies them under a
// single write lock once fn returns nil; readers see all of them or none.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore points.Store) error) error {
	transaction := &txStore{
		base:     store,
		balances: make(map[string]points.Balance),
	}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for key, balance := range transaction.balances {
		store.balances[key] = balance
	}
	for _, entry := range transaction.entries {
		store.appendLocked(entry)
	}
	return nil
}

func (store *Store) ReadBalance(_ context.Context, userID points.UserID) (points.Balance, bool, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	balance, ok := store.balances[userID.String()]
	return balance, ok, nil
}

func (store *Store) WriteBalance(_ context.Context, userID points.UserID, amount points.Points, at time.Time) (points.Balance, error) {
	balance := points.Balance{UserID: userID, Amount: amount, UpdatedAt: at.UTC()}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.balances[userID.String()] = balance
	return balance, nil
}

func (store *Store) AppendEntry(_ context.Context, entry points.EntryInput) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.appendLocked(entry)
	return nil
}

func (store *Store) ReadLedger(_ context.Context, userID points.UserID) ([]points.LedgerEntry, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	entries := store.ledgers[userID.String()]
	copied := make([]points.LedgerEntry, len(entries))
	copy(copied, entries)
	return copied, nil
}

// appendLocked requires store.mu to be held for writing.
func (store *Store) appendLocked(entry points.EntryInput) {
	store.sequence++
	key := entry.UserID().String()
	store.ledgers[key] = append(store.ledgers[key], points.LedgerEntry{
		EntryID:    uuid.NewString(),
		UserID:     entry.UserID(),
		Amount:     entry.Amount(),
		Kind:       entry.Kind(),
		RecordedAt: entry.RecordedAt().UTC(),
		Sequence:   store.sequence,
	})
}

// txStore reads through to the base store and buffers writes.
type txStore struct {
	base     *Store
	balances map[string]points.Balance
	entries  []points.EntryInput
}

func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore points.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) ReadBalance(ctx context.Context, userID points.UserID) (points.Balance, bool, error) {
	if balance, ok := transaction.balances[userID.String()]; ok {
		return balance, true, nil
	}
	return transaction.base.ReadBalance(ctx, userID)
}

func (transaction *txStore) WriteBalance(_ context.Context, userID points.UserID, amount points.Points, at time.Time) (points.Balance, error) {
	balance := points.Balance{UserID: userID, Amount: amount, UpdatedAt: at.UTC()}
	transaction.balances[userID.String()] = balance
	return balance, nil
}

func (transaction *txStore) AppendEntry(_ context.Context, entry points.EntryInput) error {
	transaction.entries = append(transaction.entries, entry)
	return nil
}

// ReadLedger returns committed entries followed by the ones staged so far.
func (transaction *txStore) ReadLedger(ctx context.Context, userID points.UserID) ([]points.LedgerEntry, error) {
	committed, err := transaction.base.ReadLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, entry := range transaction.entries {
		if entry.UserID() == userID {
			committed = append(committed, points.LedgerEntry{
				UserID:     entry.UserID(),
				Amount:     entry.Amount(),
				Kind:       entry.Kind(),
				RecordedAt: entry.RecordedAt().UTC(),
			})
		}
	}
	return committed, nil
}
