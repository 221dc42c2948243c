package points

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the balance mutation logic over a Store.
type Service struct {
	store   Store
	nowFn   func() time.Time
	locks   *LockManager
	loggers []OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.locks == nil {
		service.locks = NewLockManager()
	}
	return service, nil
}

// Locks exposes the service's LockManager.
func (service *Service) Locks() *LockManager {
	return service.locks
}

// Balance returns the latest committed balance; unknown users hold zero.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	if err := validateUserID(operationBalance, userID); err != nil {
		return Balance{}, err
	}
	balance, err := readCurrentBalance(ctx, service.store, userID)
	if err != nil {
		return Balance{}, storageFailure(operationBalance, errorSubjectBalance, errorCodeRead, err)
	}
	return balance, nil
}

// History returns every ledger entry of the user in commit order.
func (service *Service) History(ctx context.Context, userID UserID) ([]LedgerEntry, error) {
	if err := validateUserID(operationHistory, userID); err != nil {
		return nil, err
	}
	entries, err := service.store.ReadLedger(ctx, userID)
	if err != nil {
		return nil, storageFailure(operationHistory, errorSubjectLedger, errorCodeRead, err)
	}
	return entries, nil
}

// Charge adds amount to the user's balance and records a CHARGE entry.
func (service *Service) Charge(ctx context.Context, userID UserID, amount Points) (Balance, error) {
	return service.mutate(ctx, operationCharge, userID, amount, ApplyCharge, EntryCharge)
}

// Use subtracts amount from the user's balance and records a USE entry.
func (service *Service) Use(ctx context.Context, userID UserID, amount Points) (Balance, error) {
	return service.mutate(ctx, operationUse, userID, amount, ApplyUse, EntryUse)
}

type balanceTransition func(current Points, amount Points) (Points, error)

func (service *Service) mutate(ctx context.Context, operation string, userID UserID, amount Points, apply balanceTransition, kind EntryKind) (Balance, error) {
	if err := validateUserID(operation, userID); err != nil {
		return Balance{}, err
	}
	var committed Balance
	operationError := service.locks.WithLock(ctx, userID.String(), func() error {
		transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			current, err := readCurrentBalance(ctx, transactionStore, userID)
			if err != nil {
				return storageFailure(operation, errorSubjectBalance, errorCodeRead, err)
			}
			next, err := apply(current.Amount, amount)
			if err != nil {
				return err
			}
			recordedAt := service.nowFn()
			written, err := transactionStore.WriteBalance(ctx, userID, next, recordedAt)
			if err != nil {
				return storageFailure(operation, errorSubjectBalance, errorCodeWrite, err)
			}
			entryInput, err := NewEntryInput(userID, amount, kind, recordedAt)
			if err != nil {
				return err
			}
			if err := transactionStore.AppendEntry(ctx, entryInput); err != nil {
				return storageFailure(operation, errorSubjectLedger, errorCodeAppend, err)
			}
			committed = written
			return nil
		})
		if transactionError != nil && !IsRejection(transactionError) {
			return storageFailure(operation, errorSubjectLedger, errorCodeCommit, transactionError)
		}
		return transactionError
	})
	if operationError != nil {
		committed = Balance{}
		if !IsRejection(operationError) && !errors.Is(operationError, ErrStorageFailure) {
			operationError = WrapError(operation, errorSubjectLock, errorCodeAcquire, operationError)
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operation,
		UserID:    userID,
		Amount:    amount,
		Balance:   committed.Amount,
		Error:     operationError,
	})
	return committed, operationError
}

// validateUserID rejects the zero UserID, which NewUserID never produces.
func validateUserID(operation string, userID UserID) error {
	if userID.String() == "" {
		return WrapError(operation, errorSubjectUser, errorCodeInvalid, fmt.Errorf("%w: empty value", ErrInvalidUserID))
	}
	return nil
}

func readCurrentBalance(ctx context.Context, table BalanceTable, userID UserID) (Balance, error) {
	balance, found, err := table.ReadBalance(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	if !found {
		return ZeroBalance(userID), nil
	}
	return balance, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		switch {
		case entry.Error == nil:
			entry.Status = OperationStatusOK
		case IsRejection(entry.Error):
			entry.Status = OperationStatusRejected
		default:
			entry.Status = OperationStatusError
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}
