package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Chatbot is a project-scoped assistant wired to Slack/Asana and backed by
// uploaded documents. Deactivating a chatbot revokes its public token; the
// token row itself is never mutated.
type Chatbot struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	SlackChannelID string          `json:"slack_channel_id,omitempty"`
	AsanaProjectID string          `json:"asana_project_id,omitempty"`
	Active         bool            `json:"active"`
	Summary        SummarySchedule `json:"summary"`
	CreatedBy      uuid.UUID       `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SummarySchedule is the config shape consumed by the external summary
// scheduler. Time is "HH:MM", DayOfWeek 0 (Sunday) through 6.
type SummarySchedule struct {
	Enabled   bool   `json:"enabled"`
	Time      string `json:"time,omitempty" validate:"omitempty,len=5"`
	DayOfWeek int    `json:"dayOfWeek" validate:"gte=0,lte=6"`
}

// PublicToken grants anonymous, chatbot-scoped chat access. Created once at
// chatbot creation and immutable afterwards.
type PublicToken struct {
	Token                 string    `json:"token"`
	ChatbotID             uuid.UUID `json:"chatbot_id"`
	Active                bool      `json:"active"`
	RequiresSecondaryAuth bool      `json:"requires_secondary_auth"`
	CreatedAt             time.Time `json:"created_at"`
}

// PublicGrant is the scoped, read/write-limited view a resolved public token
// yields.
type PublicGrant struct {
	Token       string    `json:"-"`
	ChatbotID   uuid.UUID `json:"id"`
	ChatbotName string    `json:"name"`
}

// ChatbotCreate represents the creation payload.
type ChatbotCreate struct {
	Name           string `json:"name" validate:"required,max=128"`
	SlackChannelID string `json:"slackChannelId,omitempty" validate:"max=64"`
	AsanaProjectID string `json:"asanaProjectId,omitempty" validate:"max=64"`
	PublicToken    string `json:"-"`
}

// ChatbotUpdate carries the mutable dashboard fields. Nil means unchanged.
type ChatbotUpdate struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,max=128"`
	Active *bool   `json:"active,omitempty"`
}

// ChatbotRepository defines the interface for chatbot storage.
type ChatbotRepository interface {
	Create(ctx context.Context, bot *Chatbot, token *PublicToken) error
	Get(ctx context.Context, id uuid.UUID) (*Chatbot, error)
	List(ctx context.Context) ([]Chatbot, error)
	Update(ctx context.Context, id uuid.UUID, update *ChatbotUpdate) error
	UpdateSummary(ctx context.Context, id uuid.UUID, schedule SummarySchedule) error
	ResolveToken(ctx context.Context, token string) (*PublicGrant, error)
	TokenForChatbot(ctx context.Context, id uuid.UUID) (string, error)
}
