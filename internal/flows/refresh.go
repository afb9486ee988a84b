package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/refresh"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureExpired
	RefreshFailureInvalid
	RefreshFailureNotFound
	RefreshFailureReuse
	RefreshFailureSubjectMismatch
	RefreshFailureStore
	RefreshFailureIssue
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureExpired:
		return "expired"
	case RefreshFailureInvalid:
		return "invalid"
	case RefreshFailureNotFound:
		return "not_found"
	case RefreshFailureReuse:
		return "reuse"
	case RefreshFailureSubjectMismatch:
		return "subject_mismatch"
	case RefreshFailureStore:
		return "store"
	case RefreshFailureIssue:
		return "issue"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error
	UserID  string
	// TokenID identifies the presented token in logs and audit events.
	TokenID string
	Role    jwt.Role
	// Revoked counts records removed by a reuse sweep.
	Revoked int

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type RefreshVerifier interface {
	VerifyRefresh(token string) (*jwt.Claims, error)
}

type RefreshStore interface {
	Find(ctx context.Context, token string) (*refresh.Record, error)
	MarkUsed(ctx context.Context, token string) (refresh.MarkResult, error)
	Delete(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
	Create(ctx context.Context, userID string, role jwt.Role, ttl time.Duration) (string, *refresh.Record, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Verifier    RefreshVerifier
	Store       RefreshStore
	IssueAccess func(userID string, role jwt.Role) (string, time.Time, error)
	RefreshTTL  time.Duration
	Warn        func(string, ...any)
}

// RunRefresh redeems refreshToken exactly once and issues a new pair.
//
// Order matters: signature and expiry are checked before the store is read,
// a used record triggers revocation of every token of its owner, and the
// compare-and-set on the used flag decides races between concurrent callers.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	tokenID := refresh.TokenID(refreshToken)

	claims, err := deps.Verifier.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			if delErr := deps.Store.Delete(ctx, refreshToken); delErr != nil {
				warn(deps, "tokengate: delete of expired refresh record failed", "token_id", tokenID, "error", delErr)
			}
			return RefreshResult{Failure: RefreshFailureExpired, Err: err, TokenID: tokenID}
		}
		return RefreshResult{Failure: RefreshFailureInvalid, Err: err, TokenID: tokenID}
	}

	rec, err := deps.Store.Find(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrNotFound):
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err, UserID: claims.Subject, TokenID: tokenID}
		case errors.Is(err, refresh.ErrCorruptRecord):
			return RefreshResult{Failure: RefreshFailureInvalid, Err: err, UserID: claims.Subject, TokenID: tokenID}
		default:
			return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: claims.Subject, TokenID: tokenID}
		}
	}

	if rec.Used {
		return revokeOnReuse(ctx, rec.UserID, tokenID, deps)
	}

	if claims.Subject != rec.UserID {
		if delErr := deps.Store.Delete(ctx, refreshToken); delErr != nil {
			warn(deps, "tokengate: delete of mismatched refresh record failed", "token_id", tokenID, "error", delErr)
		}
		return RefreshResult{
			Failure: RefreshFailureSubjectMismatch,
			Err:     errors.New("refresh subject does not match record owner"),
			UserID:  rec.UserID,
			TokenID: tokenID,
		}
	}

	mark, err := deps.Store.MarkUsed(ctx, refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err, UserID: rec.UserID, TokenID: tokenID}
	}
	switch mark {
	case refresh.Marked:
	case refresh.AlreadyUsed:
		return revokeOnReuse(ctx, rec.UserID, tokenID, deps)
	default:
		return RefreshResult{Failure: RefreshFailureNotFound, Err: refresh.ErrNotFound, UserID: rec.UserID, TokenID: tokenID}
	}

	access, accessExp, err := deps.IssueAccess(rec.UserID, rec.Role)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, UserID: rec.UserID, TokenID: tokenID, Role: rec.Role}
	}

	next, nextRec, err := deps.Store.Create(ctx, rec.UserID, rec.Role, deps.RefreshTTL)
	if err != nil {
		failure := RefreshFailureIssue
		if errors.Is(err, refresh.ErrStoreUnavailable) {
			failure = RefreshFailureStore
		}
		return RefreshResult{Failure: failure, Err: err, UserID: rec.UserID, TokenID: tokenID, Role: rec.Role}
	}

	return RefreshResult{
		Failure:          RefreshFailureNone,
		UserID:           rec.UserID,
		TokenID:          tokenID,
		Role:             rec.Role,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     next,
		RefreshExpiresAt: nextRec.ExpiresAt,
	}
}

// revokeOnReuse removes every refresh token of userID. A failed sweep is
// reported in Err but the result stays a reuse failure.
func revokeOnReuse(ctx context.Context, userID, tokenID string, deps RefreshDeps) RefreshResult {
	removed, err := deps.Store.DeleteAllForUser(ctx, userID)
	if err != nil {
		warn(deps, "tokengate: reuse revocation failed", "user_id", userID, "error", err)
	}
	return RefreshResult{
		Failure: RefreshFailureReuse,
		Err:     err,
		UserID:  userID,
		TokenID: tokenID,
		Revoked: removed,
	}
}

func warn(deps RefreshDeps, msg string, kv ...any) {
	if deps.Warn != nil {
		deps.Warn(msg, kv...)
	}
}
