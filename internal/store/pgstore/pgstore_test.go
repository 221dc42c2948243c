package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const databaseURLEnv = "POINTS_TEST_DATABASE_URL"

func newTestStore(test *testing.T) *Store {
	test.Helper()
	databaseURL := os.Getenv(databaseURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", databaseURLEnv)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		test.Fatalf("pool: %v", err)
	}
	test.Cleanup(pool.Close)
	store := New(pool)
	if err := store.Migrate(ctx); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return store
}

func uniqueUserID(test *testing.T) points.UserID {
	test.Helper()
	userID, err := points.NewUserID("pg-" + uuid.NewString())
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func TestServiceOverPostgres(test *testing.T) {
	store := newTestStore(test)
	now := time.Now().UTC().Truncate(time.Microsecond)
	service, err := points.NewService(store, func() time.Time { return now })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	ctx := context.Background()
	userID := uniqueUserID(test)

	if _, found, err := store.ReadBalance(ctx, userID); err != nil || found {
		test.Fatalf("expected absent balance, found=%v err=%v", found, err)
	}
	if _, err := service.Charge(ctx, userID, points.MaxBalance); err != nil {
		test.Fatalf("charge: %v", err)
	}
	if _, err := service.Charge(ctx, userID, 1); !errors.Is(err, points.ErrExceedsMaxBalance) {
		test.Fatalf("expected ErrExceedsMaxBalance, got %v", err)
	}
	balance, err := service.Use(ctx, userID, 1)
	if err != nil {
		test.Fatalf("use: %v", err)
	}
	if balance.Amount != points.MaxBalance-1 || !balance.UpdatedAt.Equal(now) {
		test.Fatalf("unexpected balance: %+v", balance)
	}
	history, err := service.History(ctx, userID)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Kind != points.EntryCharge || history[1].Kind != points.EntryUse {
		test.Fatalf("unexpected history: %+v", history)
	}
}

func TestConcurrentOperationsOverPostgres(test *testing.T) {
	store := newTestStore(test)
	service, err := points.NewService(store, func() time.Time { return time.Now().UTC() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	userID := uniqueUserID(test)
	group, ctx := errgroup.WithContext(context.Background())
	for worker := 0; worker < 10; worker++ {
		group.Go(func() error {
			if _, err := service.Charge(ctx, userID, 100); err != nil {
				return err
			}
			_, err := service.Use(ctx, userID, 100)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		test.Fatalf("workers: %v", err)
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Amount != 0 {
		test.Fatalf("expected 0, got %d", balance.Amount)
	}
	history, err := service.History(context.Background(), userID)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(history) != 20 {
		test.Fatalf("expected 20 entries, got %d", len(history))
	}
}
