package ratelimit

import (
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/MrEthical07/tokengate/jwt"
)

// Tier is a request cost class with its own threshold.
type Tier uint8

const (
	TierNone Tier = iota
	TierRead
	TierWriteAuth
)

func (t Tier) String() string {
	switch t {
	case TierRead:
		return "read"
	case TierWriteAuth:
		return "write"
	default:
		return "none"
	}
}

// Rules lists the endpoint patterns of each tier. A '*' matches exactly one
// path segment.
type Rules struct {
	ReadPatterns      []string `mapstructure:"read_patterns"`
	WriteAuthPatterns []string `mapstructure:"write_auth_patterns"`
	// HighLatencyReads are GET endpoints in the write/auth set that are
	// expensive enough to be charged per identity like writes.
	HighLatencyReads []string `mapstructure:"high_latency_reads"`
}

// DefaultRules returns the route table of the festival chat API.
func DefaultRules() Rules {
	return Rules{
		WriteAuthPatterns: []string{
			"/api/v1/auth/tokens",
			"/api/v1/locations/verification/festivals/*",
			"/api/v1/user/me",
			"/api/v1/user/me/quit",
			"/api/v1/festivals/*/chat-rooms",
			"/api/v1/chat-rooms/my-rooms",
			"/api/v1/chat-rooms/*/join",
			"/api/v1/chat-rooms/*/leave",
			"/api/v1/messages/*/like",
		},
		ReadPatterns: []string{
			"/api/v1/festivals",
			"/api/v1/festivals/*",
			"/api/v1/festivals/regions",
			"/api/v1/festivals/count",
			"/api/v1/search",
			"/api/v1/search/festivals",
			"/api/v1/search/chat-rooms",
			"/api/v1/festivals/*/chat-rooms",
		},
		HighLatencyReads: []string{
			"/api/v1/user/me",
			"/api/v1/chat-rooms/my-rooms",
		},
	}
}

// Verifier verifies a bearer access token. [jwt.Signer] satisfies it.
type Verifier interface {
	VerifyAccess(token string) (*jwt.Claims, error)
}

// Request is the part of an HTTP request the classifier looks at.
type Request struct {
	Method      string
	Path        string
	BearerToken string
	ClientAddr  string
	// Subject is an identity the caller already verified. When set, the
	// classifier uses it and never looks at BearerToken.
	Subject string
}

// Classification says which counter, if any, a request is charged to.
type Classification struct {
	Tier Tier
	// Key is <kind>:<identity-or-address>:<pattern>, kind being user or ip.
	Key     string
	Pattern string
}

// Classifier maps requests to a tier and limit key. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	read        []string
	writeAuth   []string
	highLatency []string
	verifier    Verifier
}

// NewClassifier validates rules and returns a [Classifier]. A nil verifier
// keys every request by client address.
func NewClassifier(rules Rules, verifier Verifier) (*Classifier, error) {
	read, err := compilePatterns(rules.ReadPatterns)
	if err != nil {
		return nil, err
	}
	writeAuth, err := compilePatterns(rules.WriteAuthPatterns)
	if err != nil {
		return nil, err
	}
	highLatency, err := compilePatterns(rules.HighLatencyReads)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		read:        read,
		writeAuth:   writeAuth,
		highLatency: highLatency,
		verifier:    verifier,
	}, nil
}

// compilePatterns validates and orders patterns so literal ones win over
// wildcard ones when both match.
func compilePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = normalizePath(p)
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("rate limit pattern %q must start with /", p)
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("rate limit pattern %q: %w", p, err)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.Count(out[i], "*") < strings.Count(out[j], "*")
	})
	return out, nil
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

func matchFirst(patterns []string, p string) (string, bool) {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, p); ok {
			return pattern, true
		}
	}
	return "", false
}

// Classify decides the tier and limit key for req.
//
// Write/auth endpoints hit with a write method, or with a GET on a
// high-latency endpoint, are charged per verified identity. Everything else
// is charged per client address. Cheap GETs on write/auth endpoints fall back
// to the read threshold when the endpoint is also public.
func (c *Classifier) Classify(req Request) Classification {
	method := strings.ToUpper(req.Method)
	if method == http.MethodOptions {
		return Classification{Tier: TierNone}
	}

	p := normalizePath(req.Path)
	authPattern, inAuth := matchFirst(c.writeAuth, p)
	readPattern, inRead := matchFirst(c.read, p)

	if inAuth {
		if c.isHighCost(method, p) {
			return Classification{
				Tier:    TierWriteAuth,
				Key:     c.identityKey(req) + ":" + authPattern,
				Pattern: authPattern,
			}
		}
		// A cheap GET on an endpoint that is also public is charged at the
		// read threshold, per address.
		if isRead(method) && inRead {
			return Classification{
				Tier:    TierRead,
				Key:     addressKey(req) + ":" + readPattern,
				Pattern: readPattern,
			}
		}
		return Classification{
			Tier:    TierWriteAuth,
			Key:     addressKey(req) + ":" + authPattern,
			Pattern: authPattern,
		}
	}

	if inRead {
		return Classification{
			Tier:    TierRead,
			Key:     addressKey(req) + ":" + readPattern,
			Pattern: readPattern,
		}
	}

	return Classification{Tier: TierNone}
}

func (c *Classifier) isHighCost(method, p string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	case http.MethodGet, http.MethodHead:
		_, ok := matchFirst(c.highLatency, p)
		return ok
	default:
		return false
	}
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// identityKey prefers a pre-verified subject, then the verified subject of the
// bearer token, and falls back to the client address. An unverifiable token is
// treated as absent.
func (c *Classifier) identityKey(req Request) string {
	if req.Subject != "" {
		return "user:" + req.Subject
	}
	if c.verifier != nil && req.BearerToken != "" {
		if claims, err := c.verifier.VerifyAccess(req.BearerToken); err == nil && claims.Subject != "" {
			return "user:" + claims.Subject
		}
	}
	return addressKey(req)
}

func addressKey(req Request) string {
	addr := strings.TrimSpace(req.ClientAddr)
	if addr == "" {
		addr = "unknown"
	}
	return "ip:" + addr
}
