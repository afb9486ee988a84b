package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/internal/respond"
	"github.com/MrEthical07/tokengate/jwt"
	"github.com/MrEthical07/tokengate/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

type handler struct {
	svc     *tokengate.Service
	auth    Authenticator
	cookie  tokengate.CookieConfig
	refresh time.Duration
	logger  *zap.Logger
}

type accessResponse struct {
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

type testTokenRequest struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	LongLived bool   `json:"longLived"`
}

type testTokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, role, err := h.auth.Authenticate(ctx, r)
	if err != nil {
		if !errors.Is(err, ErrAuthenticationFailed) && !errors.Is(err, errBadRequest) {
			err = fmt.Errorf("authenticate: %w", err)
		}
		h.writeError(w, r, err)
		return
	}

	pair, err := h.svc.Issue(ctx, userID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookie.RefreshCookie(pair.RefreshToken, h.refresh))
	respond.JSON(w, http.StatusOK, accessResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

// rotate answers every failure with the same 401 so a client cannot tell a
// replay from an expired or unknown token.
func (h *handler) rotate(w http.ResponseWriter, r *http.Request) {
	token := h.refreshCookie(r)
	if token == "" {
		respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
		return
	}

	http.SetCookie(w, h.cookie.RefreshCookie(pair.RefreshToken, h.refresh))
	respond.JSON(w, http.StatusOK, accessResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, ok := middleware.AuthFromContext(ctx)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, codeUnauthorized, msgUnauthorized)
		return
	}

	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	token := h.refreshCookie(r)

	var err error
	if all || token == "" {
		_, err = h.svc.LogoutAll(ctx, auth.UserID)
	} else {
		err = h.svc.Logout(ctx, token)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, h.cookie.ClearRefreshCookie())
	w.WriteHeader(http.StatusNoContent)
}

// testTokens returns both tokens in the body; it is for operators and
// automated tests, never for browsers.
func (h *handler) testTokens(w http.ResponseWriter, r *http.Request) {
	var req testTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		h.writeError(w, r, fmt.Errorf("%w: userId required", errBadRequest))
		return
	}

	role := tokengate.RoleUser
	if req.Role != "" {
		parsed, err := jwt.ParseRole(req.Role)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		role = parsed
	}

	var (
		pair *tokengate.TokenPair
		err  error
	)
	if req.LongLived {
		pair, err = h.svc.IssueLongLived(r.Context(), req.UserID, role)
	} else {
		pair, err = h.svc.Issue(r.Context(), req.UserID, role)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, testTokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

func (h *handler) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(h.cookie.CookieName())
	if err != nil {
		return ""
	}
	return c.Value
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
