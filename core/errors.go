package core

// Sentinel error types, checked with errors.As throughout the service layer.
// Mirrors the small typed-error convention used across every repository in
// this tree rather than bare string errors.

type ErrorNotFound struct{}

func (e ErrorNotFound) Error() string { return "not found" }

func NewErrorNotFound() ErrorNotFound { return ErrorNotFound{} }

type ErrorAlreadyExists struct{}

func (e ErrorAlreadyExists) Error() string { return "already exists" }

func NewErrorAlreadyExists() ErrorAlreadyExists { return ErrorAlreadyExists{} }

type ErrorPermissionDenied struct{}

func (e ErrorPermissionDenied) Error() string { return "permission denied" }

func NewErrorPermissionDenied() ErrorPermissionDenied { return ErrorPermissionDenied{} }

type ErrorAlreadyDeleted struct{}

func (e ErrorAlreadyDeleted) Error() string { return "already deleted" }

func NewErrorAlreadyDeleted() ErrorAlreadyDeleted { return ErrorAlreadyDeleted{} }

// ErrorProtected marks an account or setting that cannot be mutated or
// removed through the normal write path (RootAdmin, Mediator, last-admin).
type ErrorProtected struct {
	Reason string
}

func (e ErrorProtected) Error() string { return "protected: " + e.Reason }

func NewErrorProtected(reason string) ErrorProtected { return ErrorProtected{Reason: reason} }

// ErrorRetryable wraps an underlying error to flag it as retryable per the
// taxonomy in §7 (storage-connection and queue-saturation faults).
type ErrorRetryable struct {
	Err error
}

func (e ErrorRetryable) Error() string { return e.Err.Error() }

func (e ErrorRetryable) Unwrap() error { return e.Err }

func NewErrorRetryable(err error) ErrorRetryable { return ErrorRetryable{Err: err} }

// ErrQueueFull marks a bounded collection (mailbox queue, forward work
// queue) that has reached its configured hard cap.
type ErrQueueFull struct{}

func (e ErrQueueFull) Error() string { return "queue full" }
