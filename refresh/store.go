package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/tokengate/jwt"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no record exists for a token: it was never
	// issued, it expired, or it was revoked.
	ErrNotFound = errors.New("refresh record not found")
	// ErrStoreUnavailable wraps every Redis transport failure and timeout.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
	// ErrCorruptRecord is returned when a stored hash is missing fields or holds unparsable values.
	ErrCorruptRecord = errors.New("refresh record corrupt")
)

// MarkResult is the outcome of [Store.MarkUsed].
type MarkResult int

const (
	// NotFound means no record exists for the token.
	NotFound MarkResult = iota
	// AlreadyUsed means another caller consumed the token first.
	AlreadyUsed
	// Marked means this call flipped the record from unused to used.
	Marked
)

func (r MarkResult) String() string {
	switch r {
	case Marked:
		return "marked"
	case AlreadyUsed:
		return "already_used"
	default:
		return "not_found"
	}
}

const (
	defaultPrefix     = "rt"
	defaultUserPrefix = "rtu:"
	defaultOpTimeout  = 500 * time.Millisecond
	pruneSample       = 8
)

// Fields: uid, role, iat (unix ms), exp (unix ms), used (0/1).
// The user index TTL only ever grows so it outlives its longest member.
// Each create drops up to pruneSample index members whose record has expired,
// so the index tracks live records rather than every rotation.
const createScript = `
local ttl = tonumber(ARGV[5])
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local sample = redis.call("SRANDMEMBER", KEYS[2], tonumber(ARGV[6]))
for _, member in ipairs(sample) do
  if redis.call("EXISTS", member) == 0 then
    redis.call("SREM", KEYS[2], member)
  end
end
redis.call("HSET", KEYS[1], "uid", ARGV[1], "role", ARGV[2], "iat", ARGV[3], "exp", ARGV[4], "used", "0")
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SADD", KEYS[2], KEYS[1])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var createLua = redis.NewScript(createScript)

// HSET on an existing field keeps the key's remaining TTL.
const markUsedScript = `
local used = redis.call("HGET", KEYS[1], "used")
if not used then
  return 0
end
if used == "1" then
  return 1
end
redis.call("HSET", KEYS[1], "used", "1")
return 2
`

var markUsedLua = redis.NewScript(markUsedScript)

const deleteScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
local deleted = redis.call("DEL", KEYS[1])
if uid then
  redis.call("SREM", ARGV[1] .. uid, KEYS[1])
end
return deleted
`

var deleteLua = redis.NewScript(deleteScript)

const deleteAllScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, key in ipairs(members) do
  removed = removed + redis.call("DEL", key)
end
redis.call("DEL", KEYS[1])
return removed
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// Minter signs new refresh tokens. [jwt.Signer] satisfies it.
type Minter interface {
	IssueRefresh(subject string, ttl time.Duration) (string, *jwt.Claims, error)
}

// Config configures a [Store].
type Config struct {
	// Prefix namespaces record keys: <Prefix>:<hash>.
	Prefix string
	// UserPrefix namespaces the per-user index: <UserPrefix><userID>.
	UserPrefix string
	// OpTimeout bounds every Redis round trip.
	OpTimeout time.Duration
}

// Record is the server-side state of one refresh token.
type Record struct {
	// ID is the hashed token identifier; safe to log.
	ID        string
	UserID    string
	Role      jwt.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Store is the Redis-backed authority on refresh token validity. A token is
// redeemable only while its record exists and is unused. Records are written
// under a hash of the token, never the token itself.
//
// Used records stay in place until their TTL so a replay can be recognized
// and traced back to its owner.
type Store struct {
	redis      redis.UniversalClient
	minter     Minter
	prefix     string
	userPrefix string
	opTimeout  time.Duration
}

// NewStore creates a refresh [Store]. Zero config fields take defaults.
func NewStore(client redis.UniversalClient, minter Minter, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.UserPrefix == "" {
		cfg.UserPrefix = defaultUserPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	return &Store{
		redis:      client,
		minter:     minter,
		prefix:     cfg.Prefix,
		userPrefix: cfg.UserPrefix,
		opTimeout:  cfg.OpTimeout,
	}
}

// TokenID returns the stable, non-reversible identifier of a token.
func TokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *Store) key(token string) string {
	return s.prefix + ":" + TokenID(token)
}

func (s *Store) userKey(userID string) string {
	return s.userPrefix + userID
}

// opContext detaches ctx from caller cancellation so a started mutation is
// not abandoned half way, and bounds it by the op timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
}

// Create mints a refresh token for userID and records it with store TTL = ttl.
// The record and its user-index membership are written in one script.
func (s *Store) Create(ctx context.Context, userID string, role jwt.Role, ttl time.Duration) (string, *Record, error) {
	if ttl <= 0 {
		return "", nil, errors.New("refresh ttl must be positive")
	}
	if !role.Valid() {
		return "", nil, jwt.ErrInvalidRole
	}

	token, claims, err := s.minter.IssueRefresh(userID, ttl)
	if err != nil {
		return "", nil, err
	}

	rec := &Record{
		ID:        TokenID(token),
		UserID:    userID,
		Role:      role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	created, err := createLua.Run(ctx, s.redis,
		[]string{s.key(token), s.userKey(userID)},
		userID,
		role.String(),
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
		pruneSample,
	).Int()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created != 1 {
		return "", nil, errors.New("refresh record already exists")
	}

	return token, rec, nil
}

// Find returns the record for token without mutating anything.
//
//	Performance: 1 Redis HGETALL.
func (s *Store) Find(ctx context.Context, token string) (*Record, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	fields, err := s.redis.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := decodeRecord(fields)
	if err != nil {
		return nil, err
	}
	rec.ID = TokenID(token)
	return rec, nil
}

func decodeRecord(fields map[string]string) (*Record, error) {
	uid := fields["uid"]
	if uid == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrCorruptRecord)
	}
	role, err := jwt.ParseRole(fields["role"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: iat: %v", ErrCorruptRecord, err)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrCorruptRecord, err)
	}

	var used bool
	switch fields["used"] {
	case "0":
	case "1":
		used = true
	default:
		return nil, fmt.Errorf("%w: used flag", ErrCorruptRecord)
	}

	return &Record{
		UserID:    uid,
		Role:      role,
		IssuedAt:  time.UnixMilli(iat),
		ExpiresAt: time.UnixMilli(exp),
		Used:      used,
	}, nil
}

// MarkUsed atomically flips the record's used flag. Among concurrent callers
// for the same token exactly one observes [Marked].
//
//	Performance: 1 Lua script.
func (s *Store) MarkUsed(ctx context.Context, token string) (MarkResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := markUsedLua.Run(ctx, s.redis, []string{s.key(token)}).Int()
	if err != nil {
		return NotFound, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch res {
	case 2:
		return Marked, nil
	case 1:
		return AlreadyUsed, nil
	default:
		return NotFound, nil
	}
}

// Delete removes the record for token and its index membership. Deleting an
// absent record is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := deleteLua.Run(ctx, s.redis, []string{s.key(token)}, s.userPrefix).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every record of userID, used or not, and the
// user's index. It returns the number of records removed.
//
// ATOMICITY NOTE: the index read and the deletes run in a single Lua script,
// so on one Redis node no record created before the call survives it and no
// record created after it is touched. Record keys are derived inside the
// script, so the user's records must live on the same node as the index.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	removed, err := deleteAllLua.Run(ctx, s.redis, []string{s.userKey(userID)}).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return removed, nil
}

// ActiveCount returns how many live, unused records userID holds.
// It reads the index and every member, so keep it off request hot paths.
// Members whose record has expired are removed from the index.
func (s *Store) ActiveCount(ctx context.Context, userID string) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	keys, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGet(ctx, key, "used")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var (
		active int
		stale  []interface{}
	)
	for i, cmd := range cmds {
		used, cmdErr := cmd.Result()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, keys[i])
				continue
			}
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, cmdErr)
		}
		if used == "0" {
			active++
		}
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.userKey(userID), stale...).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return active, nil
}
