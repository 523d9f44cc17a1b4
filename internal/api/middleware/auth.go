package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/avelkov/chatdesk/internal/api/response"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	SessionKey   contextKey = "session"
	ChatbotIDKey contextKey = "chatbotID"
)

// SessionCookie is the cookie name carrying the session token. The same
// token is also accepted as a bearer header; both resolve identically.
const SessionCookie = "session"

// SessionMiddleware resolves the caller's dashboard session.
type SessionMiddleware struct {
	sessions *service.SessionStore
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(sessions *service.SessionStore) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions}
}

// SessionToken extracts the session token from the Authorization header or,
// failing that, the session cookie. Returns "" when neither is present.
func SessionToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}

	return ""
}

// Resolve attaches the caller's session to the request context when a valid
// token is presented. Requests without one pass through anonymously; route
// groups that need a session stack Require on top.
func (m *SessionMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := SessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		session, err := m.sessions.Current(r.Context(), token)
		if err != nil {
			// An invalid token on an anonymous-capable route is the same as
			// no token at all.
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), SessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects requests without a resolved session.
func (m *SessionMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetSession(r.Context()); !ok {
			response.Unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSession gets the resolved session from context
func GetSession(ctx context.Context) (*domain.AuthSession, bool) {
	session, ok := ctx.Value(SessionKey).(*domain.AuthSession)
	return session, ok
}

// ChatbotContext extracts the chatbot ID from the URL and adds it to context
func ChatbotContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "chatbotID")
		if idStr == "" {
			response.BadRequest(w, "missing chatbot ID")
			return
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			response.BadRequest(w, "invalid chatbot ID")
			return
		}

		ctx := context.WithValue(r.Context(), ChatbotIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetChatbotID gets the chatbot ID from context
func GetChatbotID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ChatbotIDKey).(uuid.UUID)
	return id, ok
}
