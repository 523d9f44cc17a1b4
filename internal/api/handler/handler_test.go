package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avelkov/chatdesk/internal/api/middleware"
	"github.com/avelkov/chatdesk/internal/config"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/llm"
	"github.com/avelkov/chatdesk/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChatbotRepo holds one chatbot and its public token in memory.
type stubChatbotRepo struct {
	bot   *domain.Chatbot
	token string
}

func (r *stubChatbotRepo) Create(ctx context.Context, bot *domain.Chatbot, token *domain.PublicToken) error {
	return nil
}

func (r *stubChatbotRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Chatbot, error) {
	if r.bot != nil && r.bot.ID == id {
		return r.bot, nil
	}
	return nil, nil
}

func (r *stubChatbotRepo) List(ctx context.Context) ([]domain.Chatbot, error) {
	if r.bot == nil {
		return nil, nil
	}
	return []domain.Chatbot{*r.bot}, nil
}

func (r *stubChatbotRepo) Update(ctx context.Context, id uuid.UUID, update *domain.ChatbotUpdate) error {
	return nil
}

func (r *stubChatbotRepo) UpdateSummary(ctx context.Context, id uuid.UUID, schedule domain.SummarySchedule) error {
	return nil
}

func (r *stubChatbotRepo) ResolveToken(ctx context.Context, token string) (*domain.PublicGrant, error) {
	if r.bot != nil && r.bot.Active && token == r.token {
		return &domain.PublicGrant{Token: token, ChatbotID: r.bot.ID, ChatbotName: r.bot.Name}, nil
	}
	return nil, nil
}

func (r *stubChatbotRepo) TokenForChatbot(ctx context.Context, id uuid.UUID) (string, error) {
	return r.token, nil
}

// stubMessageRepo is an in-memory transcript.
type stubMessageRepo struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
}

func (r *stubMessageRepo) Create(ctx context.Context, message *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *message)
	return nil
}

func (r *stubMessageRepo) ListByChatbot(ctx context.Context, chatbotID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out, nil
}

// echoProvider returns a fixed reply.
type echoProvider struct{ reply string }

func (p *echoProvider) Name() string         { return "echo" }
func (p *echoProvider) DefaultModel() string { return "echo-1" }
func (p *echoProvider) IsConfigured() bool   { return true }

func (p *echoProvider) Generate(ctx context.Context, req llm.Request, model string) (*llm.Reply, error) {
	return &llm.Reply{Text: p.reply, Model: "echo-1"}, nil
}

func (p *echoProvider) Stream(ctx context.Context, req llm.Request, model string) (llm.ChunkStream, error) {
	return &echoStream{text: p.reply}, nil
}

type echoStream struct {
	text string
	done bool
}

func (s *echoStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *echoStream) Close() {}

// brokenStreamProvider emits one chunk and then fails mid-stream.
type brokenStreamProvider struct{}

func (p *brokenStreamProvider) Name() string         { return "broken" }
func (p *brokenStreamProvider) DefaultModel() string { return "broken-1" }
func (p *brokenStreamProvider) IsConfigured() bool   { return true }

func (p *brokenStreamProvider) Generate(ctx context.Context, req llm.Request, model string) (*llm.Reply, error) {
	return nil, errors.New("model overloaded")
}

func (p *brokenStreamProvider) Stream(ctx context.Context, req llm.Request, model string) (llm.ChunkStream, error) {
	return &brokenStream{}, nil
}

type brokenStream struct{ sent bool }

func (s *brokenStream) Recv() (string, error) {
	if s.sent {
		return "", errors.New("connection reset")
	}
	s.sent = true
	return "partial", nil
}

func (s *brokenStream) Close() {}

type testStack struct {
	router    chi.Router
	chatbotID uuid.UUID
	token     string
	messages  *stubMessageRepo
	engine    *service.DeliveryEngine
}

func newTestStack(t *testing.T, reply string) *testStack {
	t.Helper()
	return newTestStackWithProvider(t, &echoProvider{reply: reply})
}

func newTestStackWithProvider(t *testing.T, provider llm.Provider) *testStack {
	t.Helper()

	bot := &domain.Chatbot{ID: uuid.New(), Name: "Support Bot", Active: true}
	chatbots := &stubChatbotRepo{bot: bot, token: "public-tok"}
	messages := &stubMessageRepo{}

	llmRouter := llm.NewRouter(provider.Name())
	llmRouter.RegisterProvider(provider)

	cfg := config.DeliveryConfig{SimulatedChunk: 4, SimulatedCadence: time.Millisecond, UpstreamTimeout: time.Second}
	engine := service.NewDeliveryEngine(llmRouter, messages, cfg)

	tokenAuthority := service.NewTokenAuthority(chatbots, nil)
	chatService := service.NewChatService(chatbots, messages, nil, 20)
	chatHandler := NewChatHandler(chatService, tokenAuthority, engine, service.ModeBuffered)
	publicHandler := NewPublicHandler(tokenAuthority)

	r := chi.NewRouter()
	r.Get("/api/health", HealthCheck)
	r.Get("/api/public/chatbot/{token}", publicHandler.ResolveChatbot)
	r.Route("/api/chatbots/{chatbotID}", func(r chi.Router) {
		r.Use(middleware.ChatbotContext)
		r.Post("/chat", chatHandler.Send)
		r.Get("/messages", chatHandler.Messages)
	})

	return &testStack{router: r, chatbotID: bot.ID, token: "public-tok", messages: messages, engine: engine}
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(body.Bytes(), &envelope))
	return envelope
}

func TestHealthCheck(t *testing.T) {
	stack := newTestStack(t, "ok")

	rec := httptest.NewRecorder()
	stack.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec.Body)
	assert.Equal(t, true, envelope["success"])
}

func TestResolveChatbot(t *testing.T) {
	stack := newTestStack(t, "ok")

	t.Run("valid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		stack.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/public/chatbot/public-tok", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		envelope := decodeEnvelope(t, rec.Body)
		data := envelope["data"].(map[string]any)
		assert.Equal(t, stack.chatbotID.String(), data["id"])
		assert.Equal(t, "Support Bot", data["name"])
		// The token itself is never echoed back.
		assert.NotContains(t, rec.Body.String(), "public-tok")
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		stack.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/public/chatbot/wrong", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func postChat(t *testing.T, stack *testStack, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chatbots/"+stack.chatbotID.String()+"/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	stack.router.ServeHTTP(rec, req)
	return rec
}

func TestChatSend_Buffered(t *testing.T) {
	stack := newTestStack(t, "Sure, I can help with that.")

	rec := postChat(t, stack, map[string]any{
		"message": "can you help?",
		"token":   stack.token,
		"mode":    "buffered",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec.Body)
	data := envelope["data"].(map[string]any)
	assert.Equal(t, "Sure, I can help with that.", data["reply"])

	// Both sides of the exchange are in the transcript.
	transcript, err := stack.messages.ListByChatbot(context.Background(), stack.chatbotID, 10)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, domain.SenderUser, transcript[0].Sender)
	assert.Equal(t, domain.SenderAssistant, transcript[1].Sender)
	assert.Equal(t, "Sure, I can help with that.", transcript[1].Body)
}

func TestChatSend_SimulatedStream(t *testing.T) {
	stack := newTestStack(t, "Hello world!")

	rec := postChat(t, stack, map[string]any{
		"message": "hi",
		"token":   stack.token,
		"mode":    "simulated-stream",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var deltas []string
	var done string
	seq := 0
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Type string `json:"type"`
			Seq  int    `json:"seq"`
			Text string `json:"text"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))

		switch event.Type {
		case "delta":
			seq++
			assert.Equal(t, seq, event.Seq)
			deltas = append(deltas, event.Text)
		case "done":
			done = event.Text
		}
	}

	assert.Greater(t, len(deltas), 1)
	assert.Equal(t, "Hello world!", strings.Join(deltas, ""))
	assert.Equal(t, "Hello world!", done)
}

func TestChatSend_TrueStreamFailureReportsKind(t *testing.T) {
	stack := newTestStackWithProvider(t, &brokenStreamProvider{})

	rec := postChat(t, stack, map[string]any{
		"message": "hi",
		"token":   stack.token,
		"mode":    "true-stream",
	})
	stack.engine.Wait()

	require.Equal(t, http.StatusOK, rec.Code)

	var failure struct {
		Type  string `json:"type"`
		Kind  string `json:"kind"`
		Error string `json:"error"`
	}
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		if event.Type == "error" {
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &failure))
		}
	}

	// The terminal event names the failure class so clients can decide on
	// retry.
	assert.Equal(t, "error", failure.Type)
	assert.Equal(t, "upstream_unavailable", failure.Kind)
	assert.NotEmpty(t, failure.Error)
}

func TestChatSend_InvalidMode(t *testing.T) {
	stack := newTestStack(t, "ok")

	rec := postChat(t, stack, map[string]any{
		"message": "hi",
		"token":   stack.token,
		"mode":    "telepathy",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSend_BadToken(t *testing.T) {
	stack := newTestStack(t, "ok")

	rec := postChat(t, stack, map[string]any{
		"message": "hi",
		"token":   "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatMessages(t *testing.T) {
	stack := newTestStack(t, "Hi there!")

	postChat(t, stack, map[string]any{"message": "hello", "token": stack.token, "mode": "buffered"})

	req := httptest.NewRequest(http.MethodGet, "/api/chatbots/"+stack.chatbotID.String()+"/messages?token="+stack.token, nil)
	rec := httptest.NewRecorder()
	stack.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec.Body)
	data := envelope["data"].(map[string]any)
	messages := data["messages"].([]any)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["sender"])
	assert.Equal(t, "hello", first["body"])
	assert.Contains(t, first, "createdAt")
	assert.NotContains(t, first, "created_at")
}
