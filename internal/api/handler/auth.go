package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/avelkov/chatdesk/internal/api/middleware"
	"github.com/avelkov/chatdesk/internal/api/response"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/service"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validationMessages turns validator errors into a field→message map.
func validationMessages(err error) any {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	errors := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errors[field] = "field is required"
		case "email":
			errors[field] = "invalid email format"
		case "min":
			errors[field] = "must be at least " + e.Param() + " characters"
		case "max":
			errors[field] = "must be at most " + e.Param() + " characters"
		default:
			errors[field] = "validation failed on " + e.Tag()
		}
	}
	return errors
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	sessions   *service.SessionStore
	sessionTTL time.Duration
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(sessions *service.SessionStore, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{sessions: sessions, sessionTTL: sessionTTL}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Register handles account registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input domain.UserCreate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	user, err := h.sessions.Register(r.Context(), input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

// Login handles user login. The session token is both set as a cookie for
// browser callers and returned in the body for API callers.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input domain.Credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	session, token, err := h.sessions.Login(r.Context(), input)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.setSessionCookie(w, token, h.sessionTTL)

	response.OK(w, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":           session.UserID,
			"display_name": session.DisplayName,
			"initials":     session.Initials,
			"role":         session.Role,
		},
	})
}

// Logout revokes the current session. Succeeds even when no valid session is
// presented; where the client navigates afterwards is its own business.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), middleware.SessionToken(r)); err != nil {
		response.FromError(w, err)
		return
	}

	h.setSessionCookie(w, "", -time.Second)
	response.OK(w, map[string]string{"status": "logged out"})
}

// Me returns the current authenticated user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		response.Unauthorized(w, "authentication required")
		return
	}

	response.OK(w, map[string]any{
		"id":           session.UserID,
		"display_name": session.DisplayName,
		"initials":     session.Initials,
		"role":         session.Role,
	})
}
