package points

// Status values carried by OperationLog.
const (
	OperationStatusOK       = "ok"
	OperationStatusRejected = "rejected"
	OperationStatusError    = "error"
)

const (
	// MaxBalance is the upper bound a balance may never exceed.
	MaxBalance Points = 1_000_000

	operationCharge  = "charge"
	operationUse     = "use"
	operationBalance = "balance"
	operationHistory = "history"

	errorSubjectBalance = "balance"
	errorSubjectLedger  = "ledger"
	errorSubjectLock    = "lock"
	errorSubjectUser    = "user"
	errorCodeRead       = "read"
	errorCodeWrite      = "write"
	errorCodeAppend     = "append"
	errorCodeCommit     = "commit"
	errorCodeAcquire    = "acquire"
	errorCodeInvalid    = "invalid"
)
