package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/jwt"
)

const (
	HeaderAuthenticatedUser = "X-Authenticated-User"
	HeaderAuthenticatedRole = "X-Authenticated-Role"
	HeaderProxySecret       = "X-Proxy-Secret"
)

// TrustedHeaderAuthenticator accepts the identity asserted by an upstream
// identity provider in request headers. The proxy must present Secret in
// X-Proxy-Secret; an empty Secret rejects every request.
type TrustedHeaderAuthenticator struct {
	Secret string
	// DefaultRole applies when the role header is absent.
	DefaultRole tokengate.Role
}

func (a TrustedHeaderAuthenticator) Authenticate(_ context.Context, r *http.Request) (string, tokengate.Role, error) {
	got := r.Header.Get(HeaderProxySecret)
	if a.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.Secret)) != 1 {
		return "", 0, ErrAuthenticationFailed
	}

	userID := strings.TrimSpace(r.Header.Get(HeaderAuthenticatedUser))
	if userID == "" {
		return "", 0, fmt.Errorf("%w: missing %s", errBadRequest, HeaderAuthenticatedUser)
	}

	role := a.DefaultRole
	if name := r.Header.Get(HeaderAuthenticatedRole); name != "" {
		parsed, err := jwt.ParseRole(name)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		role = parsed
	}
	if !role.Valid() {
		role = tokengate.RoleUser
	}
	return userID, role, nil
}
