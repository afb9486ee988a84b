package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/internal/respond"
	"github.com/MrEthical07/tokengate/jwt"
)

const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"

	// One message for missing, invalid and expired tokens.
	msgUnauthorized = "authentication required"
)

// Verifier verifies bearer access tokens. [jwt.Signer] and
// [tokengate.Service] satisfy it.
type Verifier interface {
	VerifyAccess(token string) (*jwt.Claims, error)
}

type authResultContextKey struct{}

// WithAuthResult attaches a verified identity to ctx.
func WithAuthResult(ctx context.Context, res *tokengate.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// AuthFromContext returns the identity placed by [Gate] or [Guard].
func AuthFromContext(ctx context.Context) (*tokengate.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*tokengate.AuthResult)
	return res, ok && res != nil
}

func authResultFromClaims(claims *jwt.Claims) *tokengate.AuthResult {
	res := &tokengate.AuthResult{
		UserID: claims.Subject,
		Role:   claims.Role,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res
}

// Guard verifies the bearer token itself and rejects the request with 401
// when it is missing or does not verify. Use it on routes not behind [Gate].
func Guard(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
				return
			}

			ctx := WithAuthResult(r.Context(), authResultFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that reached it without a verified identity
// in the context.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := AuthFromContext(r.Context()); !ok {
				respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole is RequireAuth plus a 403 when the identity holds none of roles.
func RequireRole(roles ...jwt.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthFromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
				return
			}
			if !slices.Contains(roles, res.Role) {
				respond.Error(w, http.StatusForbidden, codeForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
