package tokengate

import (
	"time"

	"github.com/MrEthical07/tokengate/jwt"
)

// Role aliases [jwt.Role] so callers of this package need not import jwt.
type Role = jwt.Role

const (
	RoleGuest = jwt.RoleGuest
	RoleUser  = jwt.RoleUser
	RoleAdmin = jwt.RoleAdmin
)

// TokenPair is the result of issuance and rotation. The refresh token is
// meant for an HttpOnly cookie, the access token for the Authorization header.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthResult is the identity established from a verified access token.
type AuthResult struct {
	UserID    string
	Role      Role
	ExpiresAt time.Time
}

// IssueOption customizes a single [Service.Issue] call.
type IssueOption func(*issueOptions)

type issueOptions struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// WithAccessTTL overrides the access token lifetime for one call.
func WithAccessTTL(d time.Duration) IssueOption {
	return func(o *issueOptions) {
		if d > 0 {
			o.accessTTL = d
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime for one call. It also
// sets the store TTL of the new record.
func WithRefreshTTL(d time.Duration) IssueOption {
	return func(o *issueOptions) {
		if d > 0 {
			o.refreshTTL = d
		}
	}
}
