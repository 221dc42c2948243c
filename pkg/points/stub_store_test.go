package points

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

type stubStore struct {
	mu        sync.Mutex
	balances  map[string]Balance
	entries   []LedgerEntry
	sequence  int64
	txStarted int

	readBalanceError  error
	writeBalanceError error
	appendEntryError  error
	readLedgerError   error
	commitError       error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{balances: make(map[string]Balance)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	store.txStarted++
	store.mu.Unlock()
	transaction := &stubTx{base: store, balances: make(map[string]Balance)}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	if store.commitError != nil {
		return store.commitError
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for key, balance := range transaction.balances {
		store.balances[key] = balance
	}
	for _, entry := range transaction.entries {
		store.sequence++
		entry.EntryID = "entry-" + strconv.FormatInt(store.sequence, 10)
		entry.Sequence = store.sequence
		store.entries = append(store.entries, entry)
	}
	return nil
}

func (store *stubStore) ReadBalance(_ context.Context, userID UserID) (Balance, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.readBalanceError != nil {
		return Balance{}, false, store.readBalanceError
	}
	balance, ok := store.balances[userID.String()]
	return balance, ok, nil
}

func (store *stubStore) WriteBalance(_ context.Context, userID UserID, amount Points, at time.Time) (Balance, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.writeBalanceError != nil {
		return Balance{}, store.writeBalanceError
	}
	balance := Balance{UserID: userID, Amount: amount, UpdatedAt: at}
	store.balances[userID.String()] = balance
	return balance, nil
}

func (store *stubStore) AppendEntry(_ context.Context, entry EntryInput) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.appendEntryError != nil {
		return store.appendEntryError
	}
	store.sequence++
	store.entries = append(store.entries, LedgerEntry{
		EntryID:    "entry-" + strconv.FormatInt(store.sequence, 10),
		UserID:     entry.UserID(),
		Amount:     entry.Amount(),
		Kind:       entry.Kind(),
		RecordedAt: entry.RecordedAt(),
		Sequence:   store.sequence,
	})
	return nil
}

func (store *stubStore) ReadLedger(_ context.Context, userID UserID) ([]LedgerEntry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.readLedgerError != nil {
		return nil, store.readLedgerError
	}
	entries := make([]LedgerEntry, 0)
	for _, entry := range store.entries {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// stubTx stages writes until the surrounding WithTx commits.
type stubTx struct {
	base     *stubStore
	balances map[string]Balance
	entries  []LedgerEntry
}

func (transaction *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *stubTx) ReadBalance(ctx context.Context, userID UserID) (Balance, bool, error) {
	if balance, ok := transaction.balances[userID.String()]; ok {
		return balance, true, nil
	}
	return transaction.base.ReadBalance(ctx, userID)
}

func (transaction *stubTx) WriteBalance(_ context.Context, userID UserID, amount Points, at time.Time) (Balance, error) {
	if err := transaction.base.injected(func(store *stubStore) error { return store.writeBalanceError }); err != nil {
		return Balance{}, err
	}
	balance := Balance{UserID: userID, Amount: amount, UpdatedAt: at}
	transaction.balances[userID.String()] = balance
	return balance, nil
}

func (transaction *stubTx) AppendEntry(_ context.Context, entry EntryInput) error {
	if err := transaction.base.injected(func(store *stubStore) error { return store.appendEntryError }); err != nil {
		return err
	}
	transaction.entries = append(transaction.entries, LedgerEntry{
		UserID:     entry.UserID(),
		Amount:     entry.Amount(),
		Kind:       entry.Kind(),
		RecordedAt: entry.RecordedAt(),
	})
	return nil
}

func (transaction *stubTx) ReadLedger(ctx context.Context, userID UserID) ([]LedgerEntry, error) {
	return transaction.base.ReadLedger(ctx, userID)
}

func (store *stubStore) injected(pick func(store *stubStore) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return pick(store)
}

func (store *stubStore) balanceOf(userID UserID) (Balance, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, ok := store.balances[userID.String()]
	return balance, ok
}

func (store *stubStore) entryCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.entries)
}

var fixedNow = time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustPoints(test *testing.T, raw int64) Points {
	test.Helper()
	amount, err := NewPoints(raw)
	if err != nil {
		test.Fatalf("points %d: %v", raw, err)
	}
	return amount
}
