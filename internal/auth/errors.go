package auth

import "errors"

var (
	// ErrAuthentication is returned when a username/password pair is rejected.
	ErrAuthentication = errors.New("auth: invalid credentials")
	// ErrSessionInvalid means the stored or presented token is stale or unknown.
	ErrSessionInvalid = errors.New("auth: session invalid")
	// ErrNotAuthenticated means no session is committed.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrNotFound         = errors.New("auth: not found")
	// ErrInvalidToken indicates the token failed signature or claim validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)
