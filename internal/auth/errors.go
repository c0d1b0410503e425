package auth

import "errors"

// Sentinel errors matching spec.md §7's AuthError taxonomy.
var (
	ErrNoCredentials  = errors.New("no usable credentials")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrPoolExhausted  = errors.New("no account available for rotation")
	ErrRotationDisabled = errors.New("rotation is disabled")
)
