package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pdfmark/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserIDKey contextKey = "userID"

// AnonymousUser is the user id given to every request when auth is disabled.
const AnonymousUser = "anonymous"

// AuthMiddleware validates an HMAC-signed JWT from the token query parameter or
// the Authorization header and stores its sub claim under UserIDKey. With an
// empty secret every request passes as AnonymousUser.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				ctx := context.WithValue(r.Context(), UserIDKey, AnonymousUser)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Browsers cannot set headers on WebSocket requests.
			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				authHeader := r.Header.Get("Authorization")
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if tokenString == "" {
				http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})

			if err != nil || !token.Valid {
				logger.Sugar.Warnf("Invalid token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Unauthorized: Could not parse token claims", http.StatusUnauthorized)
				return
			}
			userID, ok := claims["sub"].(string)
			if !ok || userID == "" {
				http.Error(w, "Unauthorized: User ID (sub) claim is missing or invalid", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
