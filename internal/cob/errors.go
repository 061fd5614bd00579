package cob

import "errors"

// Error definitions
var (
	// ErrInvalidSignature marks a malformed or forged operation. Such
	// operations are rejected before entering any log and never stored.
	ErrInvalidSignature = errors.New("invalid operation signature")

	// ErrUnknownParent means an operation references an ancestor that is
	// not locally known. Retryable: fetch more history first.
	ErrUnknownParent = errors.New("unknown parent operation")

	// ErrCyclicReference means admitting the operation would create a
	// cycle in the DAG. Honest peers never produce this.
	ErrCyclicReference = errors.New("cyclic operation reference")

	// ErrUnknownObject means the referenced COB does not exist locally.
	ErrUnknownObject = errors.New("unknown collaborative object")

	// ErrWrongKind means an operation is not valid for the object's kind,
	// e.g. a revision on an issue.
	ErrWrongKind = errors.New("action not valid for object kind")
)
