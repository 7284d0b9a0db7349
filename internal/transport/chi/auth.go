package chi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDHeader carries the requester when token verification is disabled.
const UserIDHeader = "X-User-ID"

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type requesterKey struct{}

// ContextWithRequester stores the authenticated user id.
func ContextWithRequester(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, requesterKey{}, userID)
}

// RequesterFromContext returns the authenticated user id, if any.
func RequesterFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requesterKey{}).(string)
	return id, ok && id != ""
}

// JWTAuthMiddleware validates HS256 bearer tokens and puts the user id from
// claim into the request context.
// If secret is empty, verification is disabled and the requester is read from X-User-ID.
func JWTAuthMiddleware(secret, claim string) func(http.Handler) http.Handler {
	if claim == "" {
		claim = "_id"
	}
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		if secret == "" {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
					r = r.WithContext(ContextWithRequester(r.Context(), id))
				}
				next.ServeHTTP(w, r)
			})
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			userID, err := userIDFromToken(auth[len(bearerPrefix):], key, claim)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithRequester(r.Context(), userID)))
		})
	}
}

func userIDFromToken(raw string, key []byte, claim string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	id, _ := claims[claim].(string)
	if id == "" {
		return "", errors.New("token has no user id")
	}
	return id, nil
}
