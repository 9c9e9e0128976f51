package authgate

import "errors"

var (
	// ErrNotReady is returned when a [Stack] method is called before a
	// successful [Builder.Build].
	ErrNotReady = errors.New("authgate: stack not initialized")
	// ErrMissingRedis is returned by [Builder.Build] when no Redis
	// client or cache was supplied.
	ErrMissingRedis = errors.New("authgate: redis client required")
)
