package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"go.uber.org/zap"
)

// ZapOperationLogger writes points operations as structured zap entries.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry points.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	switch entry.Status {
	case points.OperationStatusOK:
		operationLogger.logger.Info("points operation", append(fields, zap.Int64("balance", entry.Balance.Int64()))...)
	case points.OperationStatusRejected:
		operationLogger.logger.Warn("points operation rejected", append(fields, zap.Error(entry.Error))...)
	default:
		operationLogger.logger.Error("points operation failed", append(fields, zap.Error(entry.Error))...)
	}
}
