package backend

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned by adapters for operations outside their
// capability set.
var ErrNotSupported = errors.New("backend: operation not supported")

// AuthError indicates that authentication failed or expired for a
// backend. It is returned by adapters on login failure.
type AuthError struct {
	Backend string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Backend, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
