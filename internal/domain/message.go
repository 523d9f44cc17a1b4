package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ChatMessage is one line of a chatbot transcript. Append-only; never mutated
// or deleted here.
type ChatMessage struct {
	ID        uuid.UUID  `json:"id"`
	ChatbotID uuid.UUID  `json:"chatbotId"`
	Sender    Sender     `json:"sender"`
	Body      string     `json:"body"`
	UserID    *uuid.UUID `json:"userId,omitempty"`
	// PublicToken records the token used when the message came from an
	// anonymous public-link visitor.
	PublicToken *string   `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MessageRepository defines the interface for transcript storage.
type MessageRepository interface {
	Create(ctx context.Context, message *ChatMessage) error
	ListByChatbot(ctx context.Context, chatbotID uuid.UUID, limit int) ([]ChatMessage, error)
}

// KnowledgeSnippet is a document fragment retrieved for prompt grounding.
// Ingestion of uploaded documents is owned by the knowledge-base collaborator.
type KnowledgeSnippet struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// KnowledgeRepository retrieves document snippets for a chatbot.
type KnowledgeRepository interface {
	TopSnippets(ctx context.Context, chatbotID uuid.UUID, query string, limit int) ([]KnowledgeSnippet, error)
}
