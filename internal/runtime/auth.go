package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/askrepo/askrepo/config"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "auth"

// Identity is the resolved caller of a request.
type Identity struct {
	UserID string
}

// Authenticator resolves an identity from a request, or reports that it
// cannot. Strategies are tried in order; the first non-empty credential
// wins.
type Authenticator interface {
	// Authenticate returns the identity, or false when this strategy's
	// credential is absent from the request. A present-but-invalid
	// credential is an error.
	Authenticate(r *http.Request) (Identity, bool, error)
}

// LoadJWTSecret resolves the shared JWT secret from config.
func LoadJWTSecret(cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Server.JWTSecret != "" {
		return []byte(cfg.Server.JWTSecret), nil
	}
	return nil, errors.New("jwt secret not configured (server.jwt_secret)")
}

// SignJWT issues a signed token with the provided subject and TTL.
func SignJWT(subject string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

var errInvalidToken = errors.New("invalid token")

func parseSubject(tok string, secret []byte) (string, error) {
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil })
	if err != nil || !parsed.Valid {
		return "", errInvalidToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errInvalidToken
	}
	return sub, nil
}

// CookieAuthenticator resolves identity from the session cookie.
type CookieAuthenticator struct {
	Secret []byte
}

func (a *CookieAuthenticator) Authenticate(r *http.Request) (Identity, bool, error) {
	ck, err := r.Cookie(SessionCookieName)
	if err != nil || ck.Value == "" {
		return Identity{}, false, nil
	}
	sub, err := parseSubject(ck.Value, a.Secret)
	if err != nil {
		return Identity{}, true, err
	}
	return Identity{UserID: sub}, true, nil
}

// BearerAuthenticator resolves identity from the Authorization header.
type BearerAuthenticator struct {
	Secret []byte
}

func (a *BearerAuthenticator) Authenticate(r *http.Request) (Identity, bool, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return Identity{}, false, nil
	}
	sub, err := parseSubject(strings.TrimPrefix(h, "Bearer "), a.Secret)
	if err != nil {
		return Identity{}, true, err
	}
	return Identity{UserID: sub}, true, nil
}

// NewAuthenticators returns the standard strategy chain: bearer token
// first, session cookie second.
func NewAuthenticators(secret []byte) []Authenticator {
	return []Authenticator{
		&BearerAuthenticator{Secret: secret},
		&CookieAuthenticator{Secret: secret},
	}
}

// Resolve runs the strategy chain against a request.
func Resolve(r *http.Request, chain []Authenticator) (Identity, error) {
	for _, a := range chain {
		id, present, err := a.Authenticate(r)
		if err != nil {
			return Identity{}, err
		}
		if present {
			return id, nil
		}
	}
	return Identity{}, errors.New("missing credentials")
}

// EchoAuthMiddleware validates the request credential chain and stores
// the user id on the echo context and the request context.
func EchoAuthMiddleware(secret []byte) echo.MiddlewareFunc {
	chain := NewAuthenticators(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := Resolve(c.Request(), chain)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			c.Set("user_id", id.UserID)
			reqCtx := context.WithValue(c.Request().Context(), subjectKey{}, id.UserID)
			c.SetRequest(c.Request().WithContext(reqCtx))
			return next(c)
		}
	}
}

type subjectKey struct{}

// SubjectFromContext returns the user id if stored in context via middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v := ctx.Value(subjectKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// UserID extracts the authenticated user id from an echo context.
func UserID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return ""
}
