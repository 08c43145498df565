package middleware

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"chathub/internal/auth"
	"chathub/internal/models"
	"chathub/internal/repository"

	"github.com/jackc/pgx/v5"
)

type contextKey string

const UserKey contextKey = "user"

func GetIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.Split(forwarded, ",")[0]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserFrom extracts the authenticated user placed on the context by
// Authenticate.
func UserFrom(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserKey).(*models.User)
	return user, ok
}

func Authenticate(tokens *auth.Service, repo repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			currentIP := GetIP(r)
			currentUserAgent := r.UserAgent()

			cookie, err := r.Cookie("access_token")
			if err != nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateToken(cookie.Value)
			if err != nil {
				log.Printf("[AUTH] Invalid token from %s: %v", currentIP, err)
				http.Error(w, "Session expired or invalid", http.StatusUnauthorized)
				return
			}

			expectedFingerprint := auth.GenerateFingerprint(currentIP, currentUserAgent)
			if claims.Fingerprint != expectedFingerprint {
				log.Printf("[SECURITY ALERT] Fingerprint mismatch! User: %s, Request IP: %s",
					claims.UserID, currentIP)
				http.Error(w, "Security context violation", http.StatusForbidden)
				return
			}

			user, err := repo.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					log.Printf("[AUTH] Token valid but user no longer exists: %s", claims.UserID)
					http.Error(w, "User account not found", http.StatusUnauthorized)
					return
				}
				log.Printf("[ERROR] Middleware DB lookup failed: %v", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
