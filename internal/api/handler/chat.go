package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/avelkov/chatdesk/internal/api/middleware"
	"github.com/avelkov/chatdesk/internal/api/response"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/service"
)

// ChatHandler serves message submission and transcript reads for both
// dashboard sessions and anonymous token holders.
type ChatHandler struct {
	chat        *service.ChatService
	tokens      *service.TokenAuthority
	engine      *service.DeliveryEngine
	defaultMode service.DeliveryMode
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *service.ChatService, tokens *service.TokenAuthority, engine *service.DeliveryEngine, defaultMode service.DeliveryMode) *ChatHandler {
	return &ChatHandler{chat: chat, tokens: tokens, engine: engine, defaultMode: defaultMode}
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=8000"`
	Token   string `json:"token,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// authorization builds the caller identity: dashboard session if one is on
// the request, otherwise the public token resolved through the authority.
func (h *ChatHandler) authorization(r *http.Request, token string) (service.Authorization, error) {
	if session, ok := middleware.GetSession(r.Context()); ok {
		return service.Authorization{Session: session}, nil
	}

	grant, err := h.tokens.Resolve(r.Context(), token)
	if err != nil {
		return service.Authorization{}, err
	}
	return service.Authorization{Grant: grant}, nil
}

// Send accepts a user message and delivers the assistant reply in the
// requested mode. Streaming modes answer as server-sent events; buffered mode
// answers as one JSON document.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatbotID, ok := middleware.GetChatbotID(r.Context())
	if !ok {
		response.BadRequest(w, "missing chatbot ID")
		return
	}

	var input chatRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	mode, err := service.ParseMode(input.Mode, h.defaultMode)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	authz, err := h.authorization(r, input.Token)
	if err != nil {
		response.FromError(w, err)
		return
	}

	handle, err := h.chat.Submit(r.Context(), authz, chatbotID, input.Message)
	if err != nil {
		response.FromError(w, err)
		return
	}

	if mode == service.ModeBuffered {
		h.deliverBuffered(w, r, handle)
		return
	}
	h.deliverStream(w, r, handle, mode)
}

func (h *ChatHandler) deliverBuffered(w http.ResponseWriter, r *http.Request, handle *service.ReplyHandle) {
	sink := &bufferSink{}
	session := h.engine.Deliver(r.Context(), handle, service.ModeBuffered, sink)

	switch session.State {
	case service.StateCompleted:
		response.OK(w, map[string]any{"reply": session.Reply})
	case service.StateCancelled:
		// Client is gone, nothing useful to write.
	default:
		response.FromError(w, session.Err)
	}
}

func (h *ChatHandler) deliverStream(w http.ResponseWriter, r *http.Request, handle *service.ReplyHandle, mode service.DeliveryMode) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := &sseSink{w: w, flusher: flusher}
	sink.event(streamEvent{Type: "start", Mode: string(mode)})

	h.engine.Deliver(r.Context(), handle, mode, sink)
}

// bufferSink collects the reply for a single JSON response. Failures are
// reported from the session state, not through the sink.
type bufferSink struct {
	chunks []service.Chunk
	full   string
}

func (s *bufferSink) Send(chunk service.Chunk) error {
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *bufferSink) Complete(fullText string) error {
	s.full = fullText
	return nil
}

func (s *bufferSink) Fail(kind domain.ErrorKind, message string) {}

// streamEvent is the wire shape of one SSE payload.
type streamEvent struct {
	Type  string           `json:"type"`
	Mode  string           `json:"mode,omitempty"`
	Seq   int              `json:"seq,omitempty"`
	Text  string           `json:"text,omitempty"`
	Kind  domain.ErrorKind `json:"kind,omitempty"`
	Error string           `json:"error,omitempty"`
}

// sseSink renders the reply as server-sent events and flushes after every
// event so chunks reach the client as they are produced.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) event(ev streamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Send(chunk service.Chunk) error {
	return s.event(streamEvent{Type: "delta", Seq: chunk.Seq, Text: chunk.Text})
}

func (s *sseSink) Complete(fullText string) error {
	return s.event(streamEvent{Type: "done", Text: fullText})
}

func (s *sseSink) Fail(kind domain.ErrorKind, message string) {
	s.event(streamEvent{Type: "error", Kind: kind, Error: message})
}

// Messages returns the chatbot transcript in chronological order.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	chatbotID, ok := middleware.GetChatbotID(r.Context())
	if !ok {
		response.BadRequest(w, "missing chatbot ID")
		return
	}

	authz, err := h.authorization(r, r.URL.Query().Get("token"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.BadRequest(w, "invalid limit")
			return
		}
	}

	messages, err := h.chat.Messages(r.Context(), authz, chatbotID, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, map[string]any{"messages": messages})
}
