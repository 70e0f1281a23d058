package proxy

import "errors"

var (
	// ErrBackendRequired is returned when a proxy is created without a backend.
	ErrBackendRequired = errors.New("backend required")

	// ErrOperationRequired is returned when a verb is called with a nil operation.
	ErrOperationRequired = errors.New("operation required")

	// ErrOperationStarted is returned when an operation is submitted twice.
	ErrOperationStarted = errors.New("operation already started")

	// ErrInvalidAction is returned for an operation whose action the verb cannot run.
	ErrInvalidAction = errors.New("invalid operation action")

	// ErrNoSupportedBackend is returned when no candidate backend passes its probe.
	ErrNoSupportedBackend = errors.New("no supported backend")

	// ErrDuplicateCandidate is returned when a backend name is registered twice.
	ErrDuplicateCandidate = errors.New("backend candidate already registered")

	// ErrInvalidCandidate is returned for a candidate without a name or factory.
	ErrInvalidCandidate = errors.New("invalid backend candidate")
)
