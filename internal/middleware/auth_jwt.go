package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenClaims is the HS256 JWT payload carried by API callers. Sub is the
// owner identity every job and reference is scoped to.
type TokenClaims struct {
	Sub      string `json:"sub"`
	Locale   string `json:"locale,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

type userKey string

const userIDKey userKey = "user_id"

var errInvalidToken = errors.New("invalid token")

var b64 = base64.RawURLEncoding

// SignJWT issues an HS256 token for the given claims.
func SignJWT(secret string, claims TokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	signing := b64.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + b64.EncodeToString(payload)
	return signing + "." + sign(secret, signing), nil
}

// VerifyJWT checks the signature and expiry and returns the claims.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	signing, sig, ok := strings.Cut(token, ".")
	if ok {
		var rest string
		rest, sig, ok = strings.Cut(sig, ".")
		signing = signing + "." + rest
	}
	if !ok || strings.Contains(sig, ".") {
		return nil, errInvalidToken
	}
	if !hmac.Equal([]byte(sign(secret, signing)), []byte(sig)) {
		return nil, errInvalidToken
	}

	_, body, _ := strings.Cut(signing, ".")
	raw, err := b64.DecodeString(body)
	if err != nil {
		return nil, errInvalidToken
	}
	claims := new(TokenClaims)
	if err := json.Unmarshal(raw, claims); err != nil {
		return nil, errInvalidToken
	}
	if claims.Exp != 0 && claims.Exp < time.Now().Unix() {
		return nil, errors.New("token expired")
	}
	return claims, nil
}

func sign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return b64.EncodeToString(mac.Sum(nil))
}

// AuthJWT rejects requests without a valid bearer token and stores the
// owner identity (and token locale, when present) on the context.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
			if !found || !strings.EqualFold(scheme, "Bearer") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := VerifyJWT(secret, strings.TrimSpace(token))
			if err != nil || claims.Sub == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.Sub)
			if claims.Locale != "" {
				ctx = context.WithValue(ctx, LocaleKey, normalizeLocale(claims.Locale))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated owner id, or empty.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// ContextWithUserID injects an owner identity, used by tests and the worker.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
