package service

import (
	"context"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/llm"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Authorization is the resolved caller identity for one chat operation:
// either a dashboard session or a public-token grant, never both.
type Authorization struct {
	Session *domain.AuthSession
	Grant   *domain.PublicGrant
}

// ReplyHandle carries everything the delivery engine needs to produce and
// persist one assistant reply. It is created per request and discarded.
type ReplyHandle struct {
	ChatbotID   uuid.UUID
	ChatbotName string
	Authz       Authorization
	Request     llm.Request
}

// ChatService is the message channel: it authorizes a submission against the
// target chatbot and durably records the user message before any reply
// generation starts.
type ChatService struct {
	chatbots     domain.ChatbotRepository
	messages     domain.MessageRepository
	knowledge    domain.KnowledgeRepository
	historyLimit int
	snippetLimit int
}

// NewChatService creates a new chat service. knowledge may be nil when the
// knowledge base is not deployed.
func NewChatService(
	chatbots domain.ChatbotRepository,
	messages domain.MessageRepository,
	knowledge domain.KnowledgeRepository,
	historyLimit int,
) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ChatService{
		chatbots:     chatbots,
		messages:     messages,
		knowledge:    knowledge,
		historyLimit: historyLimit,
		snippetLimit: 5,
	}
}

// authorize validates that the caller may access the chatbot. A grant bound
// to a different chatbot fails with Forbidden; any dashboard session may
// reach any chatbot of the workspace.
func (s *ChatService) authorize(ctx context.Context, authz Authorization, chatbotID uuid.UUID) (*domain.Chatbot, error) {
	if authz.Session == nil && authz.Grant == nil {
		return nil, domain.E(domain.KindUnauthorized, "no authorization", nil)
	}

	bot, err := s.chatbots.Get(ctx, chatbotID)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "chatbot lookup failed", err)
	}
	if bot == nil {
		return nil, domain.E(domain.KindNotFound, "chatbot not found", nil)
	}

	if authz.Grant != nil {
		if authz.Grant.ChatbotID != chatbotID {
			return nil, domain.E(domain.KindForbidden, "token not valid for this chatbot", nil)
		}
		if !bot.Active {
			return nil, domain.E(domain.KindUnauthorized, "chatbot is inactive", nil)
		}
	}

	return bot, nil
}

// Submit records the user message and returns a reply handle. The message is
// persisted before generation so a crash mid-reply never loses the input.
func (s *ChatService) Submit(ctx context.Context, authz Authorization, chatbotID uuid.UUID, text string) (*ReplyHandle, error) {
	bot, err := s.authorize(ctx, authz, chatbotID)
	if err != nil {
		return nil, err
	}
	if authz.Session != nil && !bot.Active {
		return nil, domain.E(domain.KindForbidden, "chatbot is inactive", nil)
	}

	msg := &domain.ChatMessage{
		ID:        uuid.New(),
		ChatbotID: chatbotID,
		Sender:    domain.SenderUser,
		Body:      text,
		CreatedAt: time.Now(),
	}
	if authz.Session != nil {
		userID := authz.Session.UserID
		msg.UserID = &userID
	} else {
		token := authz.Grant.Token
		msg.PublicToken = &token
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	var history []domain.ChatMessage
	var snippets []domain.KnowledgeSnippet

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = s.messages.ListByChatbot(gctx, chatbotID, s.historyLimit)
		if err != nil {
			return domain.E(domain.KindInfrastructureFailure, "failed to load history", err)
		}
		return nil
	})
	if s.knowledge != nil {
		g.Go(func() error {
			found, err := s.knowledge.TopSnippets(gctx, chatbotID, text, s.snippetLimit)
			if err != nil {
				// A degraded knowledge base should not block the conversation.
				log.Warn().Err(err).Stringer("chatbot_id", chatbotID).Msg("knowledge lookup failed")
				return nil
			}
			snippets = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	turns := make([]llm.Turn, 0, len(history))
	for _, m := range history {
		if m.ID == msg.ID {
			continue
		}
		turns = append(turns, llm.Turn{Role: string(m.Sender), Text: m.Body})
	}

	return &ReplyHandle{
		ChatbotID:   chatbotID,
		ChatbotName: bot.Name,
		Authz:       authz,
		Request: llm.Request{
			System:  llm.BuildSystemPrompt(bot.Name, snippets),
			History: turns,
			Message: text,
		},
	}, nil
}

// Messages returns the chatbot transcript in chronological order, subject to
// the same authorization rules as Submit.
func (s *ChatService) Messages(ctx context.Context, authz Authorization, chatbotID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	if _, err := s.authorize(ctx, authz, chatbotID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	messages, err := s.messages.ListByChatbot(ctx, chatbotID, limit)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "failed to list messages", err)
	}
	return messages, nil
}
