package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const sessionCookieName = "sqlchat_session"

type sessionKey struct{}

// SessionMiddleware ensures every request carries a session identifier. A
// missing or empty cookie gets a fresh UUID that is also set on the
// response, so a browser keeps one conversation across requests.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			sessionID = cookie.Value
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    sessionID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(contextWithSessionID(r.Context(), sessionID)))
	})
}

func contextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFromContext returns the request's session identifier, or "" when
// the middleware did not run.
func SessionIDFromContext(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionKey{}).(string); ok {
		return sessionID
	}
	return ""
}
