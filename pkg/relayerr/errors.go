// Package relayerr defines the named error kinds surfaced across the relay,
// the MLS gateway, and the service-action dispatcher.
package relayerr

import "errors"

var (
	ErrInvalidFrame          = errors.New("invalid-frame")
	ErrSignatureFailure      = errors.New("signature-failure")
	ErrIdentifierMismatch    = errors.New("identifier-mismatch")
	ErrTimestampOutOfWindow  = errors.New("timestamp-out-of-window")
	ErrLimitExceeded         = errors.New("limit-exceeded")
	ErrRateLimited           = errors.New("rate-limited")
	ErrDuplicate             = errors.New("duplicate")
	ErrNotAuthorized         = errors.New("not-authorized")
	ErrNotAuthenticated      = errors.New("not-authenticated")
	ErrStorageIO             = errors.New("storage-io")
	ErrEncodingInvalid       = errors.New("encoding-invalid")
	ErrConflict              = errors.New("conflict")
	ErrNonMonotonicSequence  = errors.New("non-monotonic-sequence")
	ErrUnknownKindForExt     = errors.New("unknown-kind-for-extension")
	ErrPolicyViolation       = errors.New("policy-violation")
	ErrExternalDependency    = errors.New("external-dependency-failure")
	ErrOwnerMismatch         = errors.New("owner-mismatch")
	ErrUnauthorizedOp        = errors.New("unauthorized-op")
	ErrNotFound              = errors.New("not-found")
)
