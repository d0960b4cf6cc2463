package model

import "errors"

// Error taxonomy shared by the storage engine and the service facade.
// Callers match with errors.Is; producers wrap with fmt.Errorf("%w: ...").
var (
	// ErrNotFound means an id or key has no matching entity.
	ErrNotFound = errors.New("not found")

	// ErrUnknownType means an operation references a type identifier
	// that is not registered, or a node has no membership edge.
	ErrUnknownType = errors.New("unknown type")

	// ErrAmbiguousType means a node has more than one membership edge.
	ErrAmbiguousType = errors.New("ambiguous type")

	// ErrGraphInconsistency means a structural invariant of the meta-model
	// is violated, e.g. the field-sequence chain disagrees with the declared fields.
	ErrGraphInconsistency = errors.New("graph inconsistency")

	// ErrFormat means a schema description is malformed.
	ErrFormat = errors.New("format error")

	// ErrConfiguration means a schema value is unusable at runtime,
	// e.g. an unrecognized indexing mode.
	ErrConfiguration = errors.New("configuration error")

	// ErrContractViolation means a caller broke an operation's preconditions.
	ErrContractViolation = errors.New("contract violation")
)
