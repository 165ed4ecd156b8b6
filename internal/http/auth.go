package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/hperssn/focuswatch/internal/account"
	"github.com/hperssn/focuswatch/internal/domain"
)

type contextKey string

const userKey contextKey = "user"

// identity returns the username a request acts for. A reverse proxy doing
// basic auth sets one of the headers; direct clients pass ?user=.
func identity(r *http.Request) string {
	// Traefik BasicAuth sets this header
	username := r.Header.Get("X-Auth-User")

	// Also check common alternatives
	if username == "" {
		username = r.Header.Get("X-Forwarded-User")
	}
	if username == "" {
		username = r.Header.Get("Remote-User")
	}
	if username == "" {
		username = r.URL.Query().Get("user")
	}

	return username
}

// RequireUser resolves the caller to a user, creating it on first sight the
// way an explicit login would.
func RequireUser(accounts *account.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := identity(r)
			if username == "" {
				respondError(w, "no user logged in", http.StatusUnauthorized)
				return
			}

			user, err := accounts.Login(r.Context(), username)
			if err != nil {
				if errors.Is(err, account.ErrInvalidUsername) {
					respondError(w, err.Error(), http.StatusBadRequest)
					return
				}
				log.Printf("auth: resolve user %q: %v", username, err)
				respondError(w, "failed to resolve user", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func currentUser(r *http.Request) *domain.User {
	user, _ := r.Context().Value(userKey).(*domain.User)
	return user
}
