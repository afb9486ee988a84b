package tokengate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokengate/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

type serviceFixture struct {
	svc   *Service
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
}

func (f *serviceFixture) recordKey(token string) string {
	return f.svc.config.Refresh.Prefix + ":" + refresh.TokenID(token)
}

func newServiceFixture(t *testing.T, mutate func(*Config), sink AuditSink) *serviceFixture {
	t.Helper()

	cfg := validTestConfig()
	cfg.Store.OpTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	svc, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClock(clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		svc.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &serviceFixture{svc: svc, mr: mr, rdb: rdb, clock: clock}
}

func mustIssue(t *testing.T, svc *Service, userID string, opts ...IssueOption) *TokenPair {
	t.Helper()
	pair, err := svc.Issue(context.Background(), userID, RoleUser, opts...)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	return pair
}

func TestBuilderRequiresRedisAndValidConfig(t *testing.T) {
	if _, err := New().WithConfig(validTestConfig()).Build(); err == nil {
		t.Fatal("expected error without redis client")
	}

	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := validTestConfig()
	cfg.JWT.Secret = ""
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	b := New().WithConfig(validTestConfig()).WithRedis(rdb)
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestIssueAndVerifyAccess(t *testing.T) {
	f := newServiceFixture(t, nil, nil)

	for _, role := range []Role{RoleGuest, RoleUser, RoleAdmin} {
		pair, err := f.svc.Issue(context.Background(), "u1", role)
		if err != nil {
			t.Fatalf("issue %s failed: %v", role, err)
		}
		claims, err := f.svc.VerifyAccess(pair.AccessToken)
		if err != nil {
			t.Fatalf("verify %s failed: %v", role, err)
		}
		if claims.Subject != "u1" || claims.Role != role {
			t.Fatalf("unexpected claims %+v", claims)
		}
	}

	if _, err := f.svc.Issue(context.Background(), "", RoleUser); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if _, err := f.svc.Issue(context.Background(), "u1", Role(0)); err == nil {
		t.Fatal("expected error for invalid role")
	}
}

func TestIssueTTLOverridesArePerCall(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	now := f.clock.Now()

	pair := mustIssue(t, f.svc, "u1", WithAccessTTL(time.Minute), WithRefreshTTL(time.Hour))
	if !pair.AccessExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected access expiry %v, got %v", now.Add(time.Minute), pair.AccessExpiresAt)
	}
	if !pair.RefreshExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected refresh expiry %v, got %v", now.Add(time.Hour), pair.RefreshExpiresAt)
	}
	if ttl := f.mr.TTL(f.recordKey(pair.RefreshToken)); ttl != time.Hour {
		t.Fatalf("expected store ttl 1h, got %v", ttl)
	}

	next := mustIssue(t, f.svc, "u1")
	if !next.AccessExpiresAt.Equal(now.Add(f.svc.config.JWT.AccessTTL)) {
		t.Fatalf("override leaked into later call: %v", next.AccessExpiresAt)
	}
	if ttl := f.mr.TTL(f.recordKey(next.RefreshToken)); ttl != f.svc.config.Refresh.TTL {
		t.Fatalf("expected default store ttl, got %v", ttl)
	}
}

func TestRefreshRotatesAndOldTokenFails(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	login := mustIssue(t, f.svc, "u1")
	rotated, err := f.svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.RefreshToken == login.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	claims, err := f.svc.VerifyAccess(rotated.AccessToken)
	if err != nil {
		t.Fatalf("verify rotated access failed: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != RoleUser {
		t.Fatalf("rotation lost identity: %+v", claims)
	}

	if _, err := f.svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected old token to fail with ErrTokenInvalid, got %v", err)
	}
}

func TestDoubleRedemptionRevokesUser(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	pair := mustIssue(t, f.svc, "u1")
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}

	_, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on replay, got %v", err)
	}
	if !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected replay to be classified as reuse, got %v", err)
	}

	active, err := f.svc.Store().ActiveCount(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected no active tokens after reuse, got %d", active)
	}
	if got := f.svc.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected reuse metric 1, got %d", got)
	}
}

func TestTokensIssuedAfterLogoutAllSurvive(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	old := mustIssue(t, f.svc, "u1")
	if removed, err := f.svc.LogoutAll(ctx, "u1"); err != nil || removed != 1 {
		t.Fatalf("LogoutAll: %d %v", removed, err)
	}

	fresh := mustIssue(t, f.svc, "u1")
	if active, err := f.svc.Store().ActiveCount(ctx, "u1"); err != nil || active != 1 {
		t.Fatalf("expected one active token, got %d %v", active, err)
	}
	rotated, err := f.svc.Refresh(ctx, fresh.RefreshToken)
	if err != nil {
		t.Fatalf("refresh of post-sweep token failed: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, old.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected swept token invalid, got %v", err)
	}

	if _, err := f.svc.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("second LogoutAll: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected second sweep to revoke, got %v", err)
	}
}

func TestReuseRevokesAcrossDevices(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	deviceA := mustIssue(t, f.svc, "u1")
	deviceB := mustIssue(t, f.svc, "u1")
	bystander := mustIssue(t, f.svc, "u2")

	rotatedA, err := f.svc.Refresh(ctx, deviceA.RefreshToken)
	if err != nil {
		t.Fatalf("refresh A failed: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, deviceA.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected reuse on replay of A, got %v", err)
	}

	if _, err := f.svc.Refresh(ctx, deviceB.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected device B revoked, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, rotatedA.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected rotated A revoked, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, bystander.RefreshToken); err != nil {
		t.Fatalf("other users must be unaffected: %v", err)
	}
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	pair := mustIssue(t, f.svc, "u1")

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrTokenInvalid) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}
}

func TestRefreshExpiredDeletesRecord(t *testing.T) {
	f := newServiceFixture(t, nil, nil)

	pair := mustIssue(t, f.svc, "u1", WithRefreshTTL(time.Hour))
	key := f.recordKey(pair.RefreshToken)
	if !f.mr.Exists(key) {
		t.Fatal("expected record to exist")
	}

	// Only the signing clock moves, so the record outlives the token.
	f.clock.Advance(time.Hour)

	if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if f.mr.Exists(key) {
		t.Fatal("expected expired record to be deleted")
	}
}

func TestRefreshRejectsForgedAndMistypedTokens(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	pair := mustIssue(t, f.svc, "u1")
	before := f.mr.Keys()

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"access token": pair.AccessToken,
		"tampered":     pair.RefreshToken[:len(pair.RefreshToken)-2] + "xx",
	} {
		if _, err := f.svc.Refresh(ctx, token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}

	if after := f.mr.Keys(); len(after) != len(before) {
		t.Fatalf("invalid tokens must not mutate the store: %v -> %v", before, after)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("legitimate token must still work: %v", err)
	}
}

func TestRefreshFailsClosedWhenStoreUnavailable(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	pair := mustIssue(t, f.svc, "u1")

	f.mr.Close()

	_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrTokenInvalid joined with ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrRefreshReuse) {
		t.Fatal("store failure must not be reported as reuse")
	}

	if _, err := f.svc.Issue(context.Background(), "u1", RoleUser); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected issue to fail with ErrStoreUnavailable, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	pair := mustIssue(t, f.svc, "u1")
	if err := f.svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if f.mr.Exists(f.recordKey(pair.RefreshToken)) {
		t.Fatal("expected record deleted")
	}

	_, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected plain ErrTokenInvalid after logout, got %v", err)
	}

	if err := f.svc.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("unverifiable tokens must be ignored, got %v", err)
	}
	if err := f.svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout must be idempotent, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	ctx := context.Background()

	first := mustIssue(t, f.svc, "u1")
	mustIssue(t, f.svc, "u1")
	other := mustIssue(t, f.svc, "u2")

	removed, err := f.svc.LogoutAll(ctx, "u1")
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, err := f.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, other.RefreshToken); err != nil {
		t.Fatalf("other user must be unaffected: %v", err)
	}
	if _, err := f.svc.LogoutAll(ctx, ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestVerifyAccessExpiredAndInvalid(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	pair := mustIssue(t, f.svc, "u1", WithAccessTTL(time.Minute))

	f.clock.Advance(time.Minute)
	if _, err := f.svc.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := f.svc.VerifyAccess(pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh token rejected as access, got %v", err)
	}
}

func TestIssueLongLivedRequiresTooling(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	if _, err := f.svc.IssueLongLived(context.Background(), "u1", RoleAdmin); !errors.Is(err, ErrToolingDisabled) {
		t.Fatalf("expected ErrToolingDisabled, got %v", err)
	}

	f = newServiceFixture(t, func(c *Config) {
		c.Tooling.Enabled = true
		c.Tooling.LongLivedTTL = 24 * time.Hour * 365
	}, nil)
	now := f.clock.Now()
	pair, err := f.svc.IssueLongLived(context.Background(), "ops", RoleAdmin)
	if err != nil {
		t.Fatalf("IssueLongLived failed: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(now.Add(24 * time.Hour * 365)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}
	if got := f.svc.MetricsSnapshot().Counters[MetricLongLivedIssued]; got != 1 {
		t.Fatalf("expected long-lived metric 1, got %d", got)
	}
}

func TestNilServiceNotReady(t *testing.T) {
	var s *Service
	if _, err := s.Issue(context.Background(), "u1", RoleUser); !errors.Is(err, ErrServiceNotReady) {
		t.Fatalf("expected ErrServiceNotReady, got %v", err)
	}
	if _, err := s.Refresh(context.Background(), "x"); !errors.Is(err, ErrServiceNotReady) {
		t.Fatalf("expected ErrServiceNotReady, got %v", err)
	}
	s.Close()
}
