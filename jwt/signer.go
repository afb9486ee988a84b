package jwt

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func init() {
	// Expirations are compared at millisecond precision, so numeric dates
	// are encoded with fractional seconds. This is a process-wide setting of
	// golang-jwt.
	jwt.TimePrecision = time.Millisecond
}

var (
	// ErrExpired is returned by Verify when the signature is valid but the token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned by Verify for every other failure: bad signature, wrong algorithm,
	// malformed structure, unknown key id, issuer/audience mismatch, or wrong token type.
	ErrInvalid = errors.New("token invalid")
)

const minHMACSecretSize = 32

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// TokenType distinguishes access tokens from refresh tokens so one cannot be
// presented in place of the other.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Config configures a [Signer].
//
// For HS256, PrivateKey holds the shared secret (at least 32 bytes). For Ed25519,
// PrivateKey/PublicKey accept raw keys or PEM. VerifyKeys enables key rotation by kid.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	// Leeway tolerates issuer clock skew on iat. It never extends exp.
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Claims is the payload of both token kinds. Role is omitted on refresh tokens.
type Claims struct {
	Role Role      `json:"role,omitempty"`
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// Signer creates and verifies signed tokens. It holds no mutable state and is
// safe for concurrent use.
type Signer struct {
	config Config
	now    func() time.Time
}

// DecodeSecret decodes a base64 (standard or URL alphabet, padded or not) HMAC secret.
func DecodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(secret); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("secret is not valid base64")
}

// NewSigner validates cfg and returns a [Signer].
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACSecretSize {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHMACSecretSize)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Signer{config: cfg, now: now}, nil
}

// IssueAccess signs an access token for subject with the given role. The
// token expires at now+ttl.
func (s *Signer) IssueAccess(subject string, role Role, ttl time.Duration) (string, error) {
	token, _, err := s.MintAccess(subject, role, ttl)
	return token, err
}

// MintAccess is IssueAccess that also returns the signed claims, for callers
// that report the expiry.
func (s *Signer) MintAccess(subject string, role Role, ttl time.Duration) (string, *Claims, error) {
	if !role.Valid() {
		return "", nil, ErrInvalidRole
	}
	return s.issue(subject, role, TypeAccess, ttl, "")
}

// IssueRefresh signs a refresh token for subject. The token carries a random
// jti so every issuance yields a distinct value. It carries no role, and its
// signature alone never grants anything: the refresh store decides validity.
func (s *Signer) IssueRefresh(subject string, ttl time.Duration) (string, *Claims, error) {
	return s.issue(subject, 0, TypeRefresh, ttl, uuid.NewString())
}

func (s *Signer) issue(subject string, role Role, typ TokenType, ttl time.Duration, jti string) (string, *Claims, error) {
	if strings.TrimSpace(subject) == "" {
		return "", nil, errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("ttl must be positive")
	}

	now := s.now()
	claims := &Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.config.Audience}
	}

	token := jwt.NewWithClaims(s.method(), claims)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}

	signKey, err := s.signKey()
	if err != nil {
		return "", nil, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// VerifyAccess verifies tokenStr and requires it to be an access token.
func (s *Signer) VerifyAccess(tokenStr string) (*Claims, error) {
	return s.verifyType(tokenStr, TypeAccess)
}

// VerifyRefresh verifies tokenStr and requires it to be a refresh token.
func (s *Signer) VerifyRefresh(tokenStr string) (*Claims, error) {
	return s.verifyType(tokenStr, TypeRefresh)
}

func (s *Signer) verifyType(tokenStr string, typ TokenType) (*Claims, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalid, claims.Type)
	}
	return claims, nil
}

// Verify checks the signature and registered claims of tokenStr.
//
// It returns [ErrExpired] only when the signature is valid and every other
// check passed except expiry; any other failure is [ErrInvalid]. Expiry is
// exact: a token is expired from the instant now >= exp. Config.Leeway only
// widens the issued-at bound.
func (s *Signer) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		options = append(options, jwt.WithAudience(s.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, s.keyFunc)
	if err != nil {
		if isOnlyExpired(err) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	switch claims.Type {
	case TypeAccess:
		if !claims.Role.Valid() {
			return nil, fmt.Errorf("%w: missing role", ErrInvalid)
		}
	case TypeRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown token type", ErrInvalid)
	}
	if claims.IssuedAt != nil && s.config.MaxFutureIAT > 0 {
		maxAllowed := s.now().Add(s.config.MaxFutureIAT + s.config.Leeway)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
		}
	}

	return claims, nil
}

// isOnlyExpired reports whether the parse failed solely because of expiry.
// Signature verification happens before claim validation, so an expiry error
// implies the signature was valid.
func isOnlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

func (s *Signer) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != s.method().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(s.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := s.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return s.keyBytesToVerifyKey(key)
	}

	if s.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		if kid != s.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return s.verifyKey()
}

func (s *Signer) method() jwt.SigningMethod {
	switch s.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (s *Signer) signKey() (interface{}, error) {
	switch s.config.SigningMethod {
	case MethodHS256:
		return s.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(s.config.PrivateKey)
	}
}

func (s *Signer) verifyKey() (interface{}, error) {
	switch s.config.SigningMethod {
	case MethodHS256:
		return s.config.PrivateKey, nil
	default:
		return parseEdPublicKey(s.config.PublicKey)
	}
}

func (s *Signer) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch s.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
