package handler

import (
	"net/http"

	"github.com/avelkov/chatdesk/internal/api/response"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/service"
	"github.com/go-chi/chi/v5"
)

// PublicHandler serves the anonymous chat widget endpoints.
type PublicHandler struct {
	tokens *service.TokenAuthority
}

// NewPublicHandler creates a new public handler
func NewPublicHandler(tokens *service.TokenAuthority) *PublicHandler {
	return &PublicHandler{tokens: tokens}
}

// ResolveChatbot validates a public token and returns the chatbot identity it
// grants access to. An unknown token and a deactivated chatbot are
// indistinguishable to the caller.
func (h *PublicHandler) ResolveChatbot(w http.ResponseWriter, r *http.Request) {
	grant, err := h.tokens.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if domain.IsKind(err, domain.KindUnauthorized) {
			response.NotFound(w, "chatbot not found")
			return
		}
		response.FromError(w, err)
		return
	}

	response.OK(w, grant)
}
