//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/ratelimit"
)

func TestCompatRotationAndReuse(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t, mode.setup(t), nil)

			laptop, err := svc.Issue(ctx, "compat-user", tokengate.RoleUser)
			if err != nil {
				t.Fatalf("Issue failed: %v", err)
			}
			phone, err := svc.Issue(ctx, "compat-user", tokengate.RoleUser)
			if err != nil {
				t.Fatalf("Issue failed: %v", err)
			}

			rotated, err := svc.Refresh(ctx, laptop.RefreshToken)
			if err != nil {
				t.Fatalf("Refresh failed: %v", err)
			}
			if claims, err := svc.VerifyAccess(rotated.AccessToken); err != nil || claims.Subject != "compat-user" {
				t.Fatalf("rotated access token did not verify: %v", err)
			}

			_, err = svc.Refresh(ctx, laptop.RefreshToken)
			if !errors.Is(err, tokengate.ErrTokenInvalid) || !errors.Is(err, tokengate.ErrRefreshReuse) {
				t.Fatalf("expected reuse rejection, got %v", err)
			}

			for name, token := range map[string]string{"rotated": rotated.RefreshToken, "phone": phone.RefreshToken} {
				if _, err := svc.Refresh(ctx, token); !errors.Is(err, tokengate.ErrTokenInvalid) {
					t.Fatalf("%s token survived revocation: %v", name, err)
				}
			}

			n, err := svc.Store().ActiveCount(ctx, "compat-user")
			if err != nil {
				t.Fatalf("ActiveCount failed: %v", err)
			}
			if n != 0 {
				t.Fatalf("expected no active tokens, got %d", n)
			}
		})
	}
}

func TestCompatLogoutAll(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t, mode.setup(t), nil)

			var tokens []string
			for i := 0; i < 3; i++ {
				pair, err := svc.Issue(ctx, "quitter", tokengate.RoleUser)
				if err != nil {
					t.Fatalf("Issue failed: %v", err)
				}
				tokens = append(tokens, pair.RefreshToken)
			}

			removed, err := svc.LogoutAll(ctx, "quitter")
			if err != nil {
				t.Fatalf("LogoutAll failed: %v", err)
			}
			if removed != 3 {
				t.Fatalf("expected 3 removed, got %d", removed)
			}
			for _, tok := range tokens {
				if _, err := svc.Refresh(ctx, tok); !errors.Is(err, tokengate.ErrTokenInvalid) {
					t.Fatalf("expected invalid after LogoutAll, got %v", err)
				}
			}
		})
	}
}

func TestCompatLimiterWindow(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t, mode.setup(t), func(c *tokengate.Config) {
				c.RateLimit.WriteAuthLimit = 3
				c.RateLimit.Window = time.Second
			})

			c := svc.Classifier().Classify(ratelimit.Request{
				Method:     "POST",
				Path:       "/api/v1/auth/tokens",
				ClientAddr: "203.0.113.9",
			})
			if c.Tier != ratelimit.TierWriteAuth {
				t.Fatalf("expected write tier, got %s", c.Tier)
			}

			for i := int64(1); i <= 3; i++ {
				d, err := svc.Limiter().Allow(ctx, c)
				if err != nil || !d.Allowed || d.Count != i {
					t.Fatalf("request %d: decision=%+v err=%v", i, d, err)
				}
			}
			d, err := svc.Limiter().Allow(ctx, c)
			if err != nil || d.Allowed {
				t.Fatalf("4th request should be denied: decision=%+v err=%v", d, err)
			}
			if d.ResetAfter <= 0 || d.ResetAfter > time.Second {
				t.Fatalf("unexpected reset %s", d.ResetAfter)
			}
		})
	}
}
