package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

// TokenCookie is the cookie consulted when no Authorization header is sent.
const TokenCookie = "token"

// Claims is the JWT payload identifying a caller.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// Identity verifies HS256 bearer tokens issued by the account service.
type Identity struct {
	secret []byte
}

// NewIdentity returns an Identity for secret, or nil when secret is empty,
// which leaves every caller anonymous.
func NewIdentity(secret string) *Identity {
	if secret == "" {
		return nil
	}
	return &Identity{secret: []byte(secret)}
}

// Issue signs a token for userID valid for ttl.
func (id *Identity) Issue(userID string, ttl time.Duration) (string, error) {
	if id == nil {
		return "", errors.New("identity is not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))},
		UserID:           userID,
	})
	return token.SignedString(id.secret)
}

// Verify parses a token and returns its user id.
func (id *Identity) Verify(raw string) (string, error) {
	if id == nil {
		return "", errors.New("identity is not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return id.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserID == "" {
		return "", errors.New("invalid token")
	}
	return claims.UserID, nil
}

type identityCtxKey struct{}

// Middleware attaches the caller's user id to the request context when a
// valid token is presented. Missing or invalid tokens leave the request
// anonymous; routes that need an identity use requireIdentity.
func (id *Identity) Middleware(next http.Handler) http.Handler {
	if id == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := id.Verify(raw)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityCtxKey{}, userID)))
	})
}

// UserID returns the authenticated caller, or "" when anonymous.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(identityCtxKey{}).(string)
	return id
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if hdr := r.Header.Get("Authorization"); len(hdr) > len(prefix) && strings.EqualFold(hdr[:len(prefix)], prefix) {
		return strings.TrimSpace(hdr[len(prefix):])
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			h.writeError(r.Context(), w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
