package postgres

import (
	"context"
	"fmt"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/google/uuid"
)

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a message to the transcript
func (r *MessageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, chatbot_id, sender, body, user_id, public_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		message.ID,
		message.ChatbotID,
		message.Sender,
		message.Body,
		message.UserID,
		message.PublicToken,
		message.CreatedAt,
	)
	if err != nil {
		return Classify("create message", err)
	}

	return nil
}

// ListByChatbot retrieves the latest messages of a chatbot in chronological order
func (r *MessageRepository) ListByChatbot(ctx context.Context, chatbotID uuid.UUID, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, chatbot_id, sender, body, user_id, public_token, created_at
		FROM chat_messages
		WHERE chatbot_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, chatbotID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var senderStr string

		if err := rows.Scan(
			&m.ID,
			&m.ChatbotID,
			&senderStr,
			&m.Body,
			&m.UserID,
			&m.PublicToken,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Sender = domain.Sender(senderStr)
		messages = append(messages, m)
	}

	// Reverse to return chronological order (oldest first)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
