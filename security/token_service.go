// Copyright 2025 SentryGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the coarse identity class carried in a token.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleService  Role = "service"
	RoleReadOnly Role = "read_only"
)

// Permission is a single grantable action.
type Permission string

const (
	PermRead            Permission = "read"
	PermWrite           Permission = "write"
	PermExecute         Permission = "execute"
	PermAdmin           Permission = "admin"
	PermPIIAccess       Permission = "pii_access"
	PermSensitiveAccess Permission = "sensitive_access"
)

// rolePermissions is the role to permission closure applied on top of
// the permissions carried in a token.
var rolePermissions = map[Role][]Permission{
	RoleAdmin:    {PermRead, PermWrite, PermExecute, PermAdmin, PermPIIAccess, PermSensitiveAccess},
	RoleService:  {PermRead, PermExecute},
	RoleReadOnly: {PermRead},
}

// Principal is the authenticated identity derived from a token. It is
// rebuilt on every request and never persisted.
type Principal struct {
	Subject     string
	Role        Role
	Permissions map[Permission]bool
	ExpiresAt   time.Time
}

// HasPermission reports whether the principal holds perm. Admin implies
// every permission.
func (p *Principal) HasPermission(perm Permission) bool {
	return p.Permissions[perm] || p.Permissions[PermAdmin]
}

// Authentication failures. ErrTokenExpired is the only detail exposed
// to callers; everything else collapses to ErrTokenInvalid so the
// response never reveals which check failed.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenService issues and verifies HS256 bearer tokens and HMAC payload
// signatures. Stateless and safe for concurrent use.
type TokenService struct {
	jwtSecret  []byte
	hmacSecret []byte
	tokenTTL   time.Duration
}

// NewTokenService creates a TokenService. The secrets come from config
// and must never be logged.
func NewTokenService(jwtSecret, hmacSecret string, tokenTTL time.Duration) *TokenService {
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &TokenService{
		jwtSecret:  []byte(jwtSecret),
		hmacSecret: []byte(hmacSecret),
		tokenTTL:   tokenTTL,
	}
}

// IssueToken mints a signed token for a subject. Used by tests and the
// ops bootstrap path.
func (s *TokenService) IssueToken(subject string, role Role, permissions []Permission) (string, error) {
	now := time.Now()

	perms := make([]string, len(permissions))
	for i, p := range permissions {
		perms[i] = string(p)
	}

	claims := jwt.MapClaims{
		"sub":         subject,
		"role":        string(role),
		"permissions": perms,
		"iat":         now.Unix(),
		"exp":         now.Add(s.tokenTTL).Unix(),
		"jti":         randomJTI(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies a bearer token and returns the Principal. The
// role's default permissions are merged with the token's claims.
func (s *TokenService) Authenticate(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	subject := getClaimString(claims, "sub")
	role := Role(getClaimString(claims, "role"))
	if subject == "" || rolePermissions[role] == nil {
		return nil, ErrTokenInvalid
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrTokenInvalid
	}

	principal := &Principal{
		Subject:     subject,
		Role:        role,
		Permissions: make(map[Permission]bool),
		ExpiresAt:   exp.Time,
	}

	for _, p := range rolePermissions[role] {
		principal.Permissions[p] = true
	}
	if raw, ok := claims["permissions"].([]interface{}); ok {
		for _, v := range raw {
			if str, ok := v.(string); ok {
				principal.Permissions[Permission(str)] = true
			}
		}
	}

	return principal, nil
}

// SignPayload computes the hex HMAC-SHA256 of the raw payload bytes.
func (s *TokenService) SignPayload(payload []byte) string {
	mac := hmac.New(sha256.New, s.hmacSecret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayloadSignature checks a caller-supplied payload signature in
// constant time.
func (s *TokenService) VerifyPayloadSignature(payload []byte, signature string) bool {
	expected := s.SignPayload(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PrincipalHash returns the audit-safe identifier for a subject. Events
// and audit records carry this hash, never the raw subject alongside
// payload data.
func PrincipalHash(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])[:16]
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func randomJTI() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
