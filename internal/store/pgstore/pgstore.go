package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore     = "store"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeAppend         = "append"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMigrate        = "migrate"
	errorCodeRead           = "read"
	errorCodeWrite          = "write"

	sqlSchema = `
		create table if not exists point_balances (
			user_id text primary key,
			amount bigint not null check (amount >= 0),
			updated_at timestamptz not null
		);
		create table if not exists point_ledger_entries (
			sequence bigserial primary key,
			entry_id uuid not null unique default gen_random_uuid(),
			user_id text not null,
			amount bigint not null check (amount > 0),
			kind text not null check (kind in ('CHARGE', 'USE')),
			recorded_at timestamptz not null
		);
		create index if not exists idx_point_ledger_user_sequence on point_ledger_entries (user_id, sequence);
	`

	sqlSelectBalance = `
		select amount, updated_at from point_balances where user_id = $1
	`

	sqlUpsertBalance = `
		insert into point_balances(user_id, amount, updated_at) values($1, $2, $3)
		on conflict (user_id) do update set amount = excluded.amount, updated_at = excluded.updated_at
		returning updated_at
	`

	sqlInsertEntry = `
		insert into point_ledger_entries(user_id, amount, kind, recorded_at)
		values($1, $2, $3, $4)
	`

	sqlListEntries = `
		select sequence, entry_id::text, user_id, amount, kind, recorded_at
		from point_ledger_entries
		where user_id = $1
		order by sequence asc
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements points.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	tables
}

// TxStore implements points.Store for an active transaction.
type TxStore struct {
	tables
}

type tables struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tables: tables{db: pool}}
}

// Migrate creates the point tables when they are missing.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore points.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tables: tables{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore points.Store) error) error {
	return fn(ctx, store)
}

func (store tables) ReadBalance(ctx context.Context, userID points.UserID) (points.Balance, bool, error) {
	var (
		amount    int64
		updatedAt time.Time
	)
	err := store.db.QueryRow(ctx, sqlSelectBalance, userID.String()).Scan(&amount, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return points.Balance{}, false, nil
	}
	if err != nil {
		return points.Balance{}, false, wrapStoreError(errorSubjectBalance, errorCodeRead, err)
	}
	return points.Balance{UserID: userID, Amount: points.Points(amount), UpdatedAt: updatedAt.UTC()}, true, nil
}

func (store tables) WriteBalance(ctx context.Context, userID points.UserID, amount points.Points, at time.Time) (points.Balance, error) {
	var updatedAt time.Time
	err := store.db.QueryRow(ctx, sqlUpsertBalance, userID.String(), amount.Int64(), at.UTC()).Scan(&updatedAt)
	if err != nil {
		return points.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeWrite, err)
	}
	return points.Balance{UserID: userID, Amount: amount, UpdatedAt: updatedAt.UTC()}, nil
}

func (store tables) AppendEntry(ctx context.Context, entryInput points.EntryInput) error {
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entryInput.UserID().String(),
		entryInput.Amount().Int64(),
		entryInput.Kind().String(),
		entryInput.RecordedAt().UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	return nil
}

func (store tables) ReadLedger(ctx context.Context, userID points.UserID) ([]points.LedgerEntry, error) {
	rows, err := store.db.Query(ctx, sqlListEntries, userID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func scanEntries(rows pgx.Rows) ([]points.LedgerEntry, error) {
	entries := make([]points.LedgerEntry, 0, 32)
	for rows.Next() {
		var (
			sequence    int64
			entryID     string
			userIDValue string
			amountValue int64
			kindValue   string
			recordedAt  time.Time
		)
		if err := rows.Scan(&sequence, &entryID, &userIDValue, &amountValue, &kindValue, &recordedAt); err != nil {
			return nil, err
		}
		userID, err := points.NewUserID(userIDValue)
		if err != nil {
			return nil, err
		}
		amount, err := points.NewPoints(amountValue)
		if err != nil {
			return nil, err
		}
		kind, err := points.ParseEntryKind(kindValue)
		if err != nil {
			return nil, err
		}
		entries = append(entries, points.LedgerEntry{
			EntryID:    entryID,
			UserID:     userID,
			Amount:     amount,
			Kind:       kind,
			RecordedAt: recordedAt.UTC(),
			Sequence:   sequence,
		})
	}
	return entries, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return points.WrapError(errorOperationStore, subject, code, err)
}
