package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/refresh"
)

type LogoutStore interface {
	Delete(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Verifier RefreshVerifier
	Store    LogoutStore
}

type LogoutResult struct {
	UserID  string
	TokenID string
	// Skipped is set when the token did not verify and nothing was deleted.
	Skipped bool
	Err     error
}

// RunLogout deletes the record of refreshToken. Tokens that fail
// verification are ignored; an expired but authentic token is still deleted.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	tokenID := refresh.TokenID(refreshToken)

	var userID string
	claims, err := deps.Verifier.VerifyRefresh(refreshToken)
	switch {
	case err == nil:
		userID = claims.Subject
	case errors.Is(err, jwt.ErrExpired):
	default:
		return LogoutResult{TokenID: tokenID, Skipped: true}
	}

	return LogoutResult{
		UserID:  userID,
		TokenID: tokenID,
		Err:     deps.Store.Delete(ctx, refreshToken),
	}
}

// RunLogoutAll deletes every refresh token of userID and returns how many
// records were removed.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) (int, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	return deps.Store.DeleteAllForUser(ctx, userID)
}
