package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCookie carries the credential for transports that cannot set
// headers on the channel-open request. It goes through the same
// verification as a bearer token, never implicit trust.
const TokenCookie = "gc_token"

var ErrInvalidCredential = errors.New("invalid_credential")

type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Verifier resolves a presented credential to a userID or fails closed.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates an HMAC-signed token, returning the userID
// it carries.
func (v *Verifier) Verify(tokenStr string) (string, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return "", ErrInvalidCredential
	}
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKey
		}
		return v.secret, nil
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, keyFunc)
	if err != nil || !token.Valid {
		return "", ErrInvalidCredential
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return "", ErrInvalidCredential
	}
	return claims.UserID, nil
}

// TokenFromRequest extracts the cookie-mode credential from the request
// that established the channel. Empty when the cookie is absent.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(TokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// Sign mints a token for userID. Used by the dev token endpoint and tests;
// production tokens come from the external login exchange.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
