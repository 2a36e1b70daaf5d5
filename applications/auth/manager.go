// Package auth issues and validates the JWT subject carrier that backs
// ABACMiddleware's SubjectResolver: a signed token naming the caller's
// tenant, role set, vendor id (if any), and current MFA level.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mabumohsen/veggieshop-sub000/pkg/abac"
	"github.com/mabumohsen/veggieshop-sub000/pkg/tenant"
)

// User is a password-authenticated principal.
type User struct {
	Username string
	Password string
	Role     string
}

var ErrUnauthorised = errors.New("unauthorised")

// Claims is the JWT payload: the subject attributes ABACMiddleware
// needs to build an abac.Subject, plus the registered claims jwt/v5
// validates (exp, iat, sub).
type Claims struct {
	Username       string   `json:"sub"`
	Role           string   `json:"role"`
	Roles          []string `json:"roles,omitempty"`
	Tenant         string   `json:"tenant,omitempty"`
	VendorID       string   `json:"vendor_id,omitempty"`
	MFALevel       string   `json:"mfa_level,omitempty"`
	ElevationUntil *int64   `json:"elevation_until,omitempty"` // unix seconds
	jwt.RegisteredClaims
}

// Manager issues and validates JWTs over a shared HMAC secret.
type Manager struct {
	secret []byte
	users  map[string]User
}

// NewManager builds a JWT-backed auth manager. The secret must be non-empty to issue tokens.
func NewManager(secret string, users []User) *Manager {
	userMap := make(map[string]User)
	for _, u := range users {
		u.Username = strings.TrimSpace(u.Username)
		if u.Username == "" {
			continue
		}
		if u.Role == "" {
			u.Role = "user"
		}
		userMap[strings.ToLower(u.Username)] = u
	}
	return &Manager{
		secret: []byte(strings.TrimSpace(secret)),
		users:  userMap,
	}
}

// HasUsers reports whether any user is configured.
func (m *Manager) HasUsers() bool {
	return len(m.users) > 0 && len(m.secret) > 0
}

// Authenticate returns the user if username/password match.
func (m *Manager) Authenticate(username, password string) (User, error) {
	u, ok := m.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok || strings.TrimSpace(password) == "" || u.Password != password {
		return User{}, errors.New("invalid credentials")
	}
	return u, nil
}

// Issue returns a signed JWT for the provided user within tenantID.
func (m *Manager) Issue(user User, tenantID tenant.ID, ttl time.Duration) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	exp := time.Now().Add(ttl)
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		Tenant:   string(tenantID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.Username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	return signed, exp, err
}

// Validate parses and validates a JWT token.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrUnauthorised
}

// Resolve implements httpbinding.SubjectResolver: it reads the bearer
// token, validates it, and builds the abac.Subject the ABAC engine
// evaluates against. Roles may be carried either as a Roles slice or a
// single comma-joined Role claim; both are folded together.
func (m *Manager) Resolve(r *http.Request) (abac.Subject, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return abac.Subject{}, ErrUnauthorised
	}
	claims, err := m.Validate(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return abac.Subject{}, err
	}

	roles := make(map[abac.Role]bool)
	for _, role := range claims.Roles {
		roles[abac.Role(strings.ToUpper(strings.TrimSpace(role)))] = true
	}
	for _, role := range strings.Split(claims.Role, ",") {
		if role = strings.ToUpper(strings.TrimSpace(role)); role != "" {
			roles[abac.Role(role)] = true
		}
	}

	subject := abac.Subject{
		UserID:   claims.Username,
		TenantID: tenant.ID(claims.Tenant),
		Roles:    roles,
		VendorID: claims.VendorID,
		MFALevel: abac.MFALevel(claims.MFALevel),
	}
	if claims.ElevationUntil != nil {
		until := time.Unix(*claims.ElevationUntil, 0)
		subject.ElevationUntil = &until
	}
	return subject, nil
}
