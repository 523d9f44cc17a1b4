package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUserRepository mocks the UserRepository interface
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) CountUsers(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockChatbotRepository mocks the ChatbotRepository interface
type MockChatbotRepository struct {
	mock.Mock
}

func (m *MockChatbotRepository) Create(ctx context.Context, bot *domain.Chatbot, token *domain.PublicToken) error {
	args := m.Called(ctx, bot, token)
	return args.Error(0)
}

func (m *MockChatbotRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Chatbot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chatbot), args.Error(1)
}

func (m *MockChatbotRepository) List(ctx context.Context) ([]domain.Chatbot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chatbot), args.Error(1)
}

func (m *MockChatbotRepository) Update(ctx context.Context, id uuid.UUID, update *domain.ChatbotUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockChatbotRepository) UpdateSummary(ctx context.Context, id uuid.UUID, schedule domain.SummarySchedule) error {
	args := m.Called(ctx, id, schedule)
	return args.Error(0)
}

func (m *MockChatbotRepository) ResolveToken(ctx context.Context, token string) (*domain.PublicGrant, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PublicGrant), args.Error(1)
}

func (m *MockChatbotRepository) TokenForChatbot(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
	mu      sync.Mutex
	created []domain.ChatMessage
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	args := m.Called(ctx, message)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.created = append(m.created, *message)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockMessageRepository) ListByChatbot(ctx context.Context, chatbotID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, chatbotID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ChatMessage), args.Error(1)
}

// Created returns a snapshot of everything persisted through this mock.
func (m *MockMessageRepository) Created() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChatMessage, len(m.created))
	copy(out, m.created)
	return out
}

// MockKnowledgeRepository mocks the KnowledgeRepository interface
type MockKnowledgeRepository struct {
	mock.Mock
}

func (m *MockKnowledgeRepository) TopSnippets(ctx context.Context, chatbotID uuid.UUID, query string, limit int) ([]domain.KnowledgeSnippet, error) {
	args := m.Called(ctx, chatbotID, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.KnowledgeSnippet), args.Error(1)
}

// MockSessionCache mocks the SessionCache interface
type MockSessionCache struct {
	mock.Mock
}

func (m *MockSessionCache) Put(ctx context.Context, sessionID string, session *domain.AuthSession, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, session, ttl)
	return args.Error(0)
}

func (m *MockSessionCache) Get(ctx context.Context, sessionID string) (*domain.AuthSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuthSession), args.Error(1)
}

func (m *MockSessionCache) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// MockGrantCache mocks the GrantCache interface
type MockGrantCache struct {
	mock.Mock
}

func (m *MockGrantCache) Get(ctx context.Context, token string) (*domain.PublicGrant, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PublicGrant), args.Error(1)
}

func (m *MockGrantCache) Set(ctx context.Context, token string, grant *domain.PublicGrant) error {
	args := m.Called(ctx, token, grant)
	return args.Error(0)
}

func (m *MockGrantCache) Invalidate(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// MockEmergencyWriter mocks the EmergencyChatbotWriter interface
type MockEmergencyWriter struct {
	mock.Mock
}

func (m *MockEmergencyWriter) CreateChatbot(ctx context.Context, bot *domain.Chatbot, token *domain.PublicToken) error {
	args := m.Called(ctx, bot, token)
	return args.Error(0)
}

// fakeProvider is a scripted generation backend. Generate returns replyText;
// Stream replays streamChunks and then terminates with streamErr or EOF.
type fakeProvider struct {
	replyText    string
	generateErr  error
	streamChunks []string
	streamErr    error
	streamOpen   error
	stream       llm.ChunkStream
}

func (p *fakeProvider) Name() string         { return "fake" }
func (p *fakeProvider) DefaultModel() string { return "fake-model" }
func (p *fakeProvider) IsConfigured() bool   { return true }

func (p *fakeProvider) Generate(ctx context.Context, req llm.Request, model string) (*llm.Reply, error) {
	if p.generateErr != nil {
		return nil, p.generateErr
	}
	return &llm.Reply{Text: p.replyText, Model: "fake-model"}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req llm.Request, model string) (llm.ChunkStream, error) {
	if p.streamOpen != nil {
		return nil, p.streamOpen
	}
	if p.stream != nil {
		return p.stream, nil
	}
	return &fakeStream{chunks: p.streamChunks, err: p.streamErr}, nil
}

// fakeStream replays chunks. When gate is set, Recv blocks before returning
// the chunk at index gateAt until the gate is closed.
type fakeStream struct {
	chunks []string
	err    error
	pos    int
	gateAt int
	gate   chan struct{}
}

func (s *fakeStream) Recv() (string, error) {
	if s.gate != nil && s.pos == s.gateAt {
		<-s.gate
	}
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *fakeStream) Close() {}

// captureSink records everything the delivery engine emits.
type captureSink struct {
	mu         sync.Mutex
	chunks     []Chunk
	full       string
	completed  bool
	failedKind domain.ErrorKind
	failed     bool
}

func newCaptureSink() *captureSink {
	return &captureSink{}
}

func (s *captureSink) Send(chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *captureSink) Complete(fullText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = fullText
	s.completed = true
	return nil
}

func (s *captureSink) Fail(kind domain.ErrorKind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	s.failedKind = kind
}

func (s *captureSink) concatenated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, c := range s.chunks {
		out += c.Text
	}
	return out
}

func (s *captureSink) snapshot() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}
