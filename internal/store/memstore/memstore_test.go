package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"golang.org/x/sync/errgroup"
)

var testNow = time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

func mustUserID(test *testing.T, raw string) points.UserID {
	test.Helper()
	userID, err := points.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustEntryInput(test *testing.T, userID points.UserID, amount points.Points, kind points.EntryKind) points.EntryInput {
	test.Helper()
	input, err := points.NewEntryInput(userID, amount, kind, testNow)
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	return input
}

func TestReadBalanceReportsAbsence(test *testing.T) {
	test.Parallel()
	store := New()
	_, found, err := store.ReadBalance(context.Background(), mustUserID(test, "missing"))
	if err != nil {
		test.Fatalf("read: %v", err)
	}
	if found {
		test.Fatalf("expected absent balance")
	}
}

func TestWithTxCommitsAtomically(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	userID := mustUserID(test, "tx-user")

	err := store.WithTx(ctx, func(ctx context.Context, txStore points.Store) error {
		if _, err := txStore.WriteBalance(ctx, userID, 40, testNow); err != nil {
			return err
		}
		if err := txStore.AppendEntry(ctx, mustEntryInput(test, userID, 40, points.EntryCharge)); err != nil {
			return err
		}
		if _, found, _ := store.ReadBalance(ctx, userID); found {
			test.Errorf("uncommitted balance visible to readers")
		}
		staged, _, _ := txStore.ReadBalance(ctx, userID)
		if staged.Amount != 40 {
			test.Errorf("transaction must read its own write, got %d", staged.Amount)
		}
		ledger, _ := txStore.ReadLedger(ctx, userID)
		if len(ledger) != 1 {
			test.Errorf("transaction must see its staged entry, got %d", len(ledger))
		}
		return nil
	})
	if err != nil {
		test.Fatalf("with tx: %v", err)
	}
	balance, found, err := store.ReadBalance(ctx, userID)
	if err != nil || !found || balance.Amount != 40 {
		test.Fatalf("expected committed balance 40, got %+v found=%v err=%v", balance, found, err)
	}
	entries, err := store.ReadLedger(ctx, userID)
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].EntryID == "" || entries[0].Sequence != 1 || entries[0].Kind != points.EntryCharge {
		test.Fatalf("unexpected ledger: %+v", entries)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	userID := mustUserID(test, "rollback-user")
	failure := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, txStore points.Store) error {
		if _, err := txStore.WriteBalance(ctx, userID, 10, testNow); err != nil {
			return err
		}
		if err := txStore.AppendEntry(ctx, mustEntryInput(test, userID, 10, points.EntryCharge)); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected abort, got %v", err)
	}
	if _, found, _ := store.ReadBalance(ctx, userID); found {
		test.Fatalf("rolled back balance is visible")
	}
	entries, _ := store.ReadLedger(ctx, userID)
	if len(entries) != 0 {
		test.Fatalf("rolled back entries are visible: %d", len(entries))
	}
}

func TestReadLedgerReturnsCopy(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	userID := mustUserID(test, "copy-user")
	if err := store.AppendEntry(ctx, mustEntryInput(test, userID, 3, points.EntryCharge)); err != nil {
		test.Fatalf("append: %v", err)
	}
	entries, _ := store.ReadLedger(ctx, userID)
	entries[0].Amount = 999
	again, _ := store.ReadLedger(ctx, userID)
	if again[0].Amount != 3 {
		test.Fatalf("ledger mutated through returned slice")
	}
}

func TestServiceOverMemoryStore(test *testing.T) {
	test.Parallel()
	service, err := points.NewService(New(), func() time.Time { return testNow })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	ctx := context.Background()
	users := []points.UserID{mustUserID(test, "a"), mustUserID(test, "b"), mustUserID(test, "c")}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, userID := range users {
		userID := userID
		for index := 0; index < 40; index++ {
			group.Go(func() error {
				if _, err := service.Charge(groupCtx, userID, 5); err != nil {
					return err
				}
				_, err := service.Use(groupCtx, userID, 2)
				return err
			})
		}
	}
	if err := group.Wait(); err != nil {
		test.Fatalf("operations: %v", err)
	}
	for _, userID := range users {
		balance, err := service.Balance(ctx, userID)
		if err != nil {
			test.Fatalf("balance: %v", err)
		}
		if balance.Amount != 40*3 {
			test.Fatalf("user %s: expected 120, got %d", userID, balance.Amount)
		}
		history, err := service.History(ctx, userID)
		if err != nil {
			test.Fatalf("history: %v", err)
		}
		if len(history) != 80 {
			test.Fatalf("user %s: expected 80 entries, got %d", userID, len(history))
		}
	}
}

func TestReadersNeverSeeTornWrites(test *testing.T) {
	test.Parallel()
	store := New()
	service, err := points.NewService(store, func() time.Time { return testNow })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	ctx := context.Background()
	userID := mustUserID(test, "watched")

	done := make(chan struct{})
	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			store.mu.RLock()
			balance := store.balances[userID.String()].Amount
			var replayed points.Points
			for _, entry := range store.ledgers[userID.String()] {
				replayed += entry.Amount
			}
			store.mu.RUnlock()
			if balance != replayed {
				test.Errorf("balance %d and ledger %d observed out of step", balance, replayed)
				return
			}
		}
	}()
	for index := 0; index < 200; index++ {
		if _, err := service.Charge(ctx, userID, 1); err != nil {
			test.Fatalf("charge: %v", err)
		}
	}
	close(done)
	waitGroup.Wait()
}
