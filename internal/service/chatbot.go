package service

import (
	"context"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmergencyChatbotWriter is the fallback persistence path for chatbot
// creation.
type EmergencyChatbotWriter interface {
	CreateChatbot(ctx context.Context, bot *domain.Chatbot, token *domain.PublicToken) error
}

// ChatbotService manages the dashboard chatbot lifecycle. Creation runs
// through the resilient executor; all other writes take the canonical path
// only.
type ChatbotService struct {
	chatbots  domain.ChatbotRepository
	emergency EmergencyChatbotWriter
	executor  *MutationExecutor
	grants    GrantCache
}

// NewChatbotService creates a new chatbot service. emergency and grants may
// be nil; creation then has no fallback and deactivation skips cache
// invalidation.
func NewChatbotService(
	chatbots domain.ChatbotRepository,
	emergency EmergencyChatbotWriter,
	executor *MutationExecutor,
	grants GrantCache,
) *ChatbotService {
	return &ChatbotService{
		chatbots:  chatbots,
		emergency: emergency,
		executor:  executor,
		grants:    grants,
	}
}

// chatbotCreateStrategy persists one chatbot + public token pair through
// either path.
type chatbotCreateStrategy struct {
	chatbots  domain.ChatbotRepository
	emergency EmergencyChatbotWriter
	bot       *domain.Chatbot
	token     *domain.PublicToken
}

func (s *chatbotCreateStrategy) Name() string { return "chatbot.create" }

func (s *chatbotCreateStrategy) Canonical(ctx context.Context) error {
	return s.chatbots.Create(ctx, s.bot, s.token)
}

func (s *chatbotCreateStrategy) Emergency(ctx context.Context) error {
	if s.emergency == nil {
		return domain.E(domain.KindInfrastructureFailure, "no emergency writer configured", nil)
	}
	return s.emergency.CreateChatbot(ctx, s.bot, s.token)
}

// Create provisions a chatbot with a freshly minted public token. The
// returned attempt says which persistence path the write landed on.
func (c *ChatbotService) Create(ctx context.Context, session *domain.AuthSession, input domain.ChatbotCreate) (*domain.Chatbot, *MutationAttempt, error) {
	token, err := security.GeneratePublicToken()
	if err != nil {
		return nil, nil, domain.E(domain.KindInfrastructureFailure, "failed to generate public token", err)
	}

	now := time.Now()
	bot := &domain.Chatbot{
		ID:             uuid.New(),
		Name:           input.Name,
		SlackChannelID: input.SlackChannelID,
		AsanaProjectID: input.AsanaProjectID,
		Active:         true,
		Summary:        domain.SummarySchedule{Enabled: false, Time: "09:00", DayOfWeek: 1},
		CreatedBy:      session.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	publicToken := &domain.PublicToken{
		Token:     token,
		ChatbotID: bot.ID,
		Active:    true,
		CreatedAt: now,
	}

	attempt, err := c.executor.Execute(ctx, session, &chatbotCreateStrategy{
		chatbots:  c.chatbots,
		emergency: c.emergency,
		bot:       bot,
		token:     publicToken,
	})
	if err != nil {
		return nil, nil, err
	}

	return bot, attempt, nil
}

// Get returns one chatbot, or NotFound.
func (c *ChatbotService) Get(ctx context.Context, id uuid.UUID) (*domain.Chatbot, error) {
	bot, err := c.chatbots.Get(ctx, id)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "chatbot lookup failed", err)
	}
	if bot == nil {
		return nil, domain.E(domain.KindNotFound, "chatbot not found", nil)
	}
	return bot, nil
}

// List returns all chatbots of the workspace, newest first.
func (c *ChatbotService) List(ctx context.Context) ([]domain.Chatbot, error) {
	bots, err := c.chatbots.List(ctx)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "failed to list chatbots", err)
	}
	return bots, nil
}

// Update changes the mutable dashboard fields. Deactivating a chatbot
// invalidates its cached public grant so anonymous access cuts off within
// one request, not one cache TTL.
func (c *ChatbotService) Update(ctx context.Context, id uuid.UUID, update domain.ChatbotUpdate) (*domain.Chatbot, error) {
	if err := c.chatbots.Update(ctx, id, &update); err != nil {
		return nil, err
	}

	if update.Active != nil && !*update.Active && c.grants != nil {
		token, err := c.chatbots.TokenForChatbot(ctx, id)
		if err != nil {
			log.Warn().Err(err).Stringer("chatbot_id", id).Msg("failed to look up token for grant invalidation")
		} else if token != "" {
			if err := c.grants.Invalidate(ctx, token); err != nil {
				log.Warn().Err(err).Stringer("chatbot_id", id).Msg("failed to invalidate cached grant")
			}
		}
	}

	return c.Get(ctx, id)
}

// SummarySchedule returns the summary scheduler config of a chatbot.
func (c *ChatbotService) SummarySchedule(ctx context.Context, id uuid.UUID) (*domain.SummarySchedule, error) {
	bot, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &bot.Summary, nil
}

// SetSummarySchedule stores the summary scheduler config.
func (c *ChatbotService) SetSummarySchedule(ctx context.Context, id uuid.UUID, schedule domain.SummarySchedule) error {
	return c.chatbots.UpdateSummary(ctx, id, schedule)
}
