package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/tokengate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustedHeaderAuthenticator(t *testing.T) {
	auth := TrustedHeaderAuthenticator{Secret: "s3cret"}

	newReq := func(secret, user, role string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/tokens", nil)
		if secret != "" {
			r.Header.Set(HeaderProxySecret, secret)
		}
		if user != "" {
			r.Header.Set(HeaderAuthenticatedUser, user)
		}
		if role != "" {
			r.Header.Set(HeaderAuthenticatedRole, role)
		}
		return r
	}

	user, role, err := auth.Authenticate(context.Background(), newReq("s3cret", "alice", ""))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, tokengate.RoleUser, role)

	_, role, err = auth.Authenticate(context.Background(), newReq("s3cret", "root", "ADMIN"))
	require.NoError(t, err)
	assert.Equal(t, tokengate.RoleAdmin, role)

	_, _, err = auth.Authenticate(context.Background(), newReq("wrong", "alice", ""))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	_, _, err = auth.Authenticate(context.Background(), newReq("s3cret", "", ""))
	assert.ErrorIs(t, err, errBadRequest)

	_, _, err = auth.Authenticate(context.Background(), newReq("s3cret", "alice", "superuser"))
	assert.ErrorIs(t, err, errBadRequest)

	_, _, err = TrustedHeaderAuthenticator{}.Authenticate(context.Background(), newReq("", "alice", ""))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
