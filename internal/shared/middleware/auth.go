package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"bract/internal/shared/auth"
)

type ContextKey string

const (
	UserIDKey ContextKey = "user_id"
	EmailKey  ContextKey = "email"
)

// UserID returns the authenticated user's identifier from the request context.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

// Email returns the verified email claim, if the token carried one.
func Email(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

func Auth(jwt *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			// HttpOnly cookie first (browser), then Authorization header (API clients)
			if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
				token = cookie.Value
			} else {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					http.Error(w, "Authentication required", http.StatusUnauthorized)
					return
				}
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
					http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
					return
				}
				token = parts[1]
			}

			claims, err := jwt.Validate(token)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID())
			ctx = context.WithValue(ctx, EmailKey, claims.Email)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContactRecorder stores the verified contact address of an authenticated user.
type ContactRecorder interface {
	Touch(ctx context.Context, userID, email string) error
}

// RecordContact keeps the user's reminder address in sync with the email
// claim of each authenticated request. Must run after Auth. Failures are
// logged and never block the request.
func RecordContact(recorder ContactRecorder, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, ok := UserID(r.Context()); ok && Email(r.Context()) != "" {
				if err := recorder.Touch(r.Context(), userID, Email(r.Context())); err != nil {
					log.Warn("failed to record user contact", zap.String("user_id", userID), zap.Error(err))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
