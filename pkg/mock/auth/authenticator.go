// Package auth guards the admin control plane. Callers present either the
// configured static bearer token or an HS256 JWT carrying the admin scope.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	mockconfig "github.com/theroutercompany/mock_api/pkg/mock/config"
)

// AdminScope is required on JWTs presented to the admin plane.
const AdminScope = "mock.admin"

// ErrNotConfigured is returned by New when neither a token nor a JWT secret is set.
var ErrNotConfigured = errors.New("admin credentials not configured")

// Principal represents the authenticated caller.
type Principal struct {
	Subject string
	Scopes  []string
	Token   string
}

// HasScope reports whether the principal owns scope.
func (p *Principal) HasScope(scope string) bool {
	for _, owned := range p.Scopes {
		if owned == scope {
			return true
		}
	}
	return false
}

// Error categorises authentication failures.
type Error struct {
	Status int
	Title  string
	Detail string
}

func (e Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

var (
	errMissingAuthorization = Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: "Missing authorization header"}
	errMalformedHeader      = Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: "Malformed authorization header"}
	errTokenInvalid         = Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: "Invalid or expired token"}
	errMissingScope         = Error{Status: http.StatusForbidden, Title: "Forbidden", Detail: "Token lacks the " + AdminScope + " scope"}
)

// Authenticator validates admin bearer credentials.
type Authenticator struct {
	token  []byte
	secret []byte
	issuer string
}

// New constructs an authenticator from the admin configuration.
func New(cfg mockconfig.AdminConfig) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.Token)
	secret := strings.TrimSpace(cfg.JWTSecret)
	if token == "" && secret == "" {
		return nil, ErrNotConfigured
	}
	a := &Authenticator{issuer: strings.TrimSpace(cfg.JWTIssuer)}
	if token != "" {
		a.token = []byte(token)
	}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a, nil
}

// Authenticate validates the request's bearer credential. A static token
// match yields a principal with the admin scope; otherwise the credential
// must be a JWT signed with the configured secret.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errMissingAuthorization
	}

	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, errMalformedHeader
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errMalformedHeader
	}

	if len(a.token) > 0 && subtle.ConstantTimeCompare(a.token, []byte(credential)) == 1 {
		return &Principal{Subject: "admin-token", Scopes: []string{AdminScope}, Token: credential}, nil
	}
	if len(a.secret) == 0 {
		return nil, errTokenInvalid
	}

	principal, err := a.parseToken(credential)
	if err != nil {
		var authErr Error
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, errTokenInvalid
	}
	if !principal.HasScope(AdminScope) {
		return nil, errMissingScope
	}

	principal.Token = credential
	return principal, nil
}

// Issue mints a JWT with the admin scope, valid for ttl. The CLI uses it to
// call a running admin plane that only has a JWT secret configured.
func (a *Authenticator) Issue(subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	claims := adminClaims{
		Scope: AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parseToken(tokenString string) (*Principal, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}

	parser := jwt.NewParser(options...)
	claims := &adminClaims{}

	token, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, Error{Status: http.StatusUnauthorized, Title: "Authentication Required", Detail: err.Error()}
	}

	if !token.Valid {
		return nil, errTokenInvalid
	}

	return &Principal{
		Subject: claims.Subject,
		Scopes:  claims.Scopes(),
	}, nil
}

type adminClaims struct {
	Scope string   `json:"scope,omitempty"`
	Scp   []string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

func (c *adminClaims) Scopes() []string {
	if len(c.Scp) > 0 {
		return c.Scp
	}
	if c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}
