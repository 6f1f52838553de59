package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the user id of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

// HeaderAuthenticator trusts a user id header set by the upstream gateway
// after it verified the caller's token.
type HeaderAuthenticator struct {
	Header string
}

// Authenticate parses the configured header as a positive user id.
//
// Postcondition: Returns the user id, or an error wrapping ErrUnauthenticated.
func (a HeaderAuthenticator) Authenticate(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(a.Header))
	if raw == "" {
		return 0, fmt.Errorf("missing %s header: %w", a.Header, ErrUnauthenticated)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s header %q: %w", a.Header, raw, ErrUnauthenticated)
	}
	return id, nil
}
