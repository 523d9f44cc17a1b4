package handler

import (
	"encoding/json"
	"net/http"

	"github.com/avelkov/chatdesk/internal/api/middleware"
	"github.com/avelkov/chatdesk/internal/api/response"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/service"
)

// ChatbotHandler handles dashboard chatbot management endpoints.
type ChatbotHandler struct {
	chatbots *service.ChatbotService
}

// NewChatbotHandler creates a new chatbot handler
func NewChatbotHandler(chatbots *service.ChatbotService) *ChatbotHandler {
	return &ChatbotHandler{chatbots: chatbots}
}

// Create provisions a new chatbot with its public token. The response is the
// same whichever persistence path the write landed on.
func (h *ChatbotHandler) Create(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		response.Unauthorized(w, "authentication required")
		return
	}

	var input domain.ChatbotCreate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	bot, _, err := h.chatbots.Create(r.Context(), session, input)
	if err != nil {
		response.FromErrorDetailed(w, err)
		return
	}

	response.Created(w, bot)
}

// List returns all chatbots of the workspace
func (h *ChatbotHandler) List(w http.ResponseWriter, r *http.Request) {
	bots, err := h.chatbots.List(r.Context())
	if err != nil {
		response.FromErrorDetailed(w, err)
		return
	}

	response.OK(w, map[string]any{"chatbots": bots})
}

// Get returns one chatbot
func (h *ChatbotHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatbotID, ok := middleware.GetChatbotID(r.Context())
	if !ok {
		response.BadRequest(w, "missing chatbot ID")
		return
	}

	bot, err := h.chatbots.Get(r.Context(), chatbotID)
	if err != nil {
		response.FromErrorDetailed(w, err)
		return
	}

	response.OK(w, bot)
}

// Update changes the mutable dashboard fields of a chatbot
func (h *ChatbotHandler) Update(w http.ResponseWriter, r *http.Request) {
	chatbotID, ok := middleware.GetChatbotID(r.Context())
	if !ok {
		response.BadRequest(w, "missing chatbot ID")
		return
	}

	var input domain.ChatbotUpdate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	bot, err := h.chatbots.Update(r.Context(), chatbotID, input)
	if err != nil {
		response.FromErrorDetailed(w, err)
		return
	}

	response.OK(w, bot)
}

// SummarySchedule returns the summary scheduler config of a chatbot
func (h *ChatbotHandler) SummarySchedule(w http.ResponseWriter, r *http.Request) {
	chatbotID, ok := middleware.GetChatbotID(r.Context())
	if !ok {
		response.BadRequest(w, "missing chatbot ID")
		return
	}

	schedule, err := h.chatbots.SummarySchedule(r.Context(), chatbotID)
	if err != nil {
		response.FromErrorDetailed(w, err)
		return
	}

	response.OK(w, schedule)
}

// SetSummarySchedule stores the summary scheduler config of a chatbot
func (h *ChatbotHandler) SetSummarySchedule(w http.ResponseWriter, r *http.Request) {
	chatbotID, ok := middleware.GetChatbotID(r.Context())
	if !ok {
		response.BadRequest(w, "missing chatbot ID")
		return
	}

	var schedule domain.SummarySchedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(schedule); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	if err := h.chatbots.SetSummarySchedule(r.Context(), chatbotID, schedule); err != nil {
		response.FromErrorDetailed(w, err)
		return
	}

	response.OK(w, schedule)
}
