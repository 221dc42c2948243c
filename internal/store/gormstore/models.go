package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PointBalance mirrors the point_balances table.
type PointBalance struct {
	UserID    string    `gorm:"primaryKey"`
	Amount    int64     `gorm:"not null;check:chk_point_balances_amount,amount >= 0"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (PointBalance) TableName() string { return "point_balances" }

// PointLedgerEntry mirrors the point_ledger_entries table.
// Sequence is the insertion order used for history reads.
type PointLedgerEntry struct {
	Sequence   int64     `gorm:"primaryKey;autoIncrement"`
	EntryID    string    `gorm:"not null;uniqueIndex"`
	UserID     string    `gorm:"not null;index:idx_point_ledger_user_sequence,priority:1"`
	Amount     int64     `gorm:"not null"`
	Kind       string    `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null"`
}

func (PointLedgerEntry) TableName() string { return "point_ledger_entries" }

func (entry *PointLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&PointBalance{}, &PointLedgerEntry{}}
}
