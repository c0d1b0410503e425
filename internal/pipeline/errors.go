package pipeline

import "errors"

// Sentinel errors matching spec.md §7's PipelineError taxonomy
// (InvalidInput, Verification, Signature, Version, Io, Serialization,
// Audit). Concrete failures wrap one of these with fmt.Errorf("...: %w",
// ...) so callers can errors.Is against the category.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidName   = errors.New("invalid pack name")
	ErrVerification  = errors.New("verification failed")
	ErrSignature     = errors.New("signature invalid")
	ErrVersion       = errors.New("invalid version")
	ErrIO            = errors.New("pipeline io error")
	ErrSerialization = errors.New("serialization error")
	ErrAudit         = errors.New("audit ledger error")
)
