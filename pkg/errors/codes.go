package errors

// ErrorCode identifies a class of send failure
type ErrorCode string

// Input errors: detected synchronously in the send chain, reported to the
// caller and never retried.
const (
	CodeInvalidContext     ErrorCode = "INVALID_CONTEXT"
	CodeReceiverEmpty      ErrorCode = "RECEIVER_EMPTY"
	CodeTemplateIDMissing  ErrorCode = "TEMPLATE_ID_MISSING"
	CodeVariablesMissing   ErrorCode = "VARIABLES_MISSING"
	CodeVariableValueEmpty ErrorCode = "VARIABLE_VALUE_EMPTY"
	CodeVariablesUnwanted  ErrorCode = "VARIABLES_UNWANTED"
	CodeCountMismatch      ErrorCode = "RECEIVER_VARIABLE_COUNT_MISMATCH"
	CodeIllegalReceiver    ErrorCode = "ILLEGAL_RECEIVER"
	CodeTemplateNotFound   ErrorCode = "TEMPLATE_NOT_FOUND"
	CodeNotApproved        ErrorCode = "TEMPLATE_NOT_APPROVED"
	CodeUnknownChannel     ErrorCode = "UNKNOWN_CHANNEL"
)

// Infrastructure errors: logged and surfaced, the process keeps running.
const (
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"
	CodeLockTimeout   ErrorCode = "LOCK_TIMEOUT"
	CodeRecordMissing ErrorCode = "RECORD_MISSING"
	CodeTaskMissing   ErrorCode = "TASK_MISSING"
	CodeStoreFailure  ErrorCode = "STORE_FAILURE"
)

// Provider errors: converted into failure confirmations by the channel
// handler itself.
const (
	CodeProviderRejected ErrorCode = "PROVIDER_REJECTED"
	CodeProviderTimeout  ErrorCode = "PROVIDER_TIMEOUT"
	CodeTokenInvalid     ErrorCode = "TOKEN_INVALID"
	CodeAccountInvalid   ErrorCode = "ACCOUNT_INVALID"
)

// retryableCodes lists codes for which the delay-queue reconciliation path is
// the only permitted retry mechanism. None of them are retried synchronously.
var retryableCodes = map[ErrorCode]bool{
	CodeProviderTimeout: true,
	CodeLockTimeout:     true,
}

// IsRetryable reports whether the reconciliation path may act on this code
func IsRetryable(code ErrorCode) bool {
	return retryableCodes[code]
}
