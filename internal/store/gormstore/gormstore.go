package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	errorOperationStore = "store"
	errorSubjectBalance = "balance"
	errorSubjectEntry   = "entry"
	errorSubjectSchema  = "schema"
	errorCodeAppend     = "append"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeMigrate    = "migrate"
	errorCodeRead       = "read"
	errorCodeWrite      = "write"
)

// Store implements points.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the point tables.
func (store *Store) Migrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore points.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ReadBalance(ctx context.Context, userID points.UserID) (points.Balance, bool, error) {
	var row PointBalance
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return points.Balance{}, false, nil
	}
	if err != nil {
		return points.Balance{}, false, wrapStoreError(errorSubjectBalance, errorCodeRead, err)
	}
	balance, err := mapBalance(row)
	if err != nil {
		return points.Balance{}, false, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, true, nil
}

func (store *Store) WriteBalance(ctx context.Context, userID points.UserID, amount points.Points, at time.Time) (points.Balance, error) {
	row := PointBalance{
		UserID:    userID.String(),
		Amount:    amount.Int64(),
		UpdatedAt: at.UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return points.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeWrite, err)
	}
	return points.Balance{UserID: userID, Amount: amount, UpdatedAt: row.UpdatedAt}, nil
}

func (store *Store) AppendEntry(ctx context.Context, entryInput points.EntryInput) error {
	row := PointLedgerEntry{
		UserID:     entryInput.UserID().String(),
		Amount:     entryInput.Amount().Int64(),
		Kind:       entryInput.Kind().String(),
		RecordedAt: entryInput.RecordedAt().UTC(),
	}
	if row.RecordedAt.IsZero() {
		row.RecordedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeAppend, err)
	}
	return nil
}

func (store *Store) ReadLedger(ctx context.Context, userID points.UserID) ([]points.LedgerEntry, error) {
	var rows []PointLedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]points.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return points.WrapError(errorOperationStore, subject, code, err)
}

func mapBalance(row PointBalance) (points.Balance, error) {
	userID, err := points.NewUserID(row.UserID)
	if err != nil {
		return points.Balance{}, err
	}
	return points.Balance{
		UserID:    userID,
		Amount:    points.Points(row.Amount),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func mapLedgerEntry(row PointLedgerEntry) (points.LedgerEntry, error) {
	userID, err := points.NewUserID(row.UserID)
	if err != nil {
		return points.LedgerEntry{}, err
	}
	kind, err := points.ParseEntryKind(row.Kind)
	if err != nil {
		return points.LedgerEntry{}, err
	}
	amount, err := points.NewPoints(row.Amount)
	if err != nil {
		return points.LedgerEntry{}, err
	}
	return points.LedgerEntry{
		EntryID:    row.EntryID,
		UserID:     userID,
		Amount:     amount,
		Kind:       kind,
		RecordedAt: row.RecordedAt.UTC(),
		Sequence:   row.Sequence,
	}, nil
}
