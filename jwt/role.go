package jwt

import (
	"errors"
	"strings"
)

// ErrInvalidRole is returned when a role name or value is not one of the known roles.
var ErrInvalidRole = errors.New("invalid role")

// Role is the single authority level carried by an access token.
//
// The zero value is not a valid role; refresh tokens carry no role and omit the claim.
type Role uint8

const (
	RoleGuest Role = iota + 1
	RoleUser
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleGuest: "guest",
	RoleUser:  "user",
	RoleAdmin: "admin",
}

// ParseRole converts a role name to a [Role]. Matching is case-insensitive.
func ParseRole(name string) (Role, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for r, rn := range roleNames {
		if rn == n {
			return r, nil
		}
	}
	return 0, ErrInvalidRole
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the role as its lowercase name.
func (r Role) MarshalText() ([]byte, error) {
	name, ok := roleNames[r]
	if !ok {
		return nil, ErrInvalidRole
	}
	return []byte(name), nil
}

// UnmarshalText decodes a role name. Unknown names fail, which makes the
// surrounding token parse fail.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
