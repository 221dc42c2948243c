package points

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing points operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	Amount    Points
	// Balance is the committed balance; it is zero unless Status is ok.
	Balance Points
	Status  string
	Error   error
}

// WithOperationLogger wires a logger that receives callbacks for every
// charge and use. It may be given more than once.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithLockManager shares a LockManager between services, for example when
// several Service values front the same Store.
func WithLockManager(locks *LockManager) ServiceOption {
	return func(service *Service) {
		if locks != nil {
			service.locks = locks
		}
	}
}
