package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChatbotRepository implements domain.ChatbotRepository
type ChatbotRepository struct {
	db *DB
}

// NewChatbotRepository creates a new chatbot repository
func NewChatbotRepository(db *DB) *ChatbotRepository {
	return &ChatbotRepository{db: db}
}

const chatbotColumns = `id, name, slack_channel_id, asana_project_id, active,
	summary_enabled, summary_time, summary_day_of_week,
	created_by, created_at, updated_at`

// Create inserts a chatbot together with its public token in one transaction.
// The token row is written exactly once and never updated afterwards.
func (r *ChatbotRepository) Create(ctx context.Context, bot *domain.Chatbot, token *domain.PublicToken) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return Classify("begin chatbot create", err)
	}
	defer tx.Rollback(ctx)

	insertBot := `
		INSERT INTO chatbots (` + chatbotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, insertBot,
		bot.ID,
		bot.Name,
		bot.SlackChannelID,
		bot.AsanaProjectID,
		bot.Active,
		bot.Summary.Enabled,
		bot.Summary.Time,
		bot.Summary.DayOfWeek,
		bot.CreatedBy,
		bot.CreatedAt,
		bot.UpdatedAt,
	)
	if err != nil {
		return Classify("create chatbot", err)
	}

	insertToken := `
		INSERT INTO public_tokens (token, chatbot_id, active, requires_secondary_auth, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, insertToken,
		token.Token,
		token.ChatbotID,
		token.Active,
		token.RequiresSecondaryAuth,
		token.CreatedAt,
	)
	if err != nil {
		return Classify("create public token", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify("commit chatbot create", err)
	}

	return nil
}

// Get retrieves a chatbot by ID
func (r *ChatbotRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE id = $1`

	var bot domain.Chatbot
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&bot.ID,
		&bot.Name,
		&bot.SlackChannelID,
		&bot.AsanaProjectID,
		&bot.Active,
		&bot.Summary.Enabled,
		&bot.Summary.Time,
		&bot.Summary.DayOfWeek,
		&bot.CreatedBy,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}

	return &bot, nil
}

// List retrieves all chatbots, newest first
func (r *ChatbotRepository) List(ctx context.Context) ([]domain.Chatbot, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chatbots: %w", err)
	}
	defer rows.Close()

	var bots []domain.Chatbot
	for rows.Next() {
		var bot domain.Chatbot
		if err := rows.Scan(
			&bot.ID,
			&bot.Name,
			&bot.SlackChannelID,
			&bot.AsanaProjectID,
			&bot.Active,
			&bot.Summary.Enabled,
			&bot.Summary.Time,
			&bot.Summary.DayOfWeek,
			&bot.CreatedBy,
			&bot.CreatedAt,
			&bot.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chatbot: %w", err)
		}
		bots = append(bots, bot)
	}

	return bots, nil
}

// Update changes the mutable dashboard fields of a chatbot
func (r *ChatbotRepository) Update(ctx context.Context, id uuid.UUID, update *domain.ChatbotUpdate) error {
	query := `
		UPDATE chatbots
		SET name = COALESCE($2, name),
		    active = COALESCE($3, active),
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, update.Name, update.Active)
	if err != nil {
		return Classify("update chatbot", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "chatbot not found", nil)
	}

	return nil
}

// UpdateSummary stores the summary scheduler config for a chatbot
func (r *ChatbotRepository) UpdateSummary(ctx context.Context, id uuid.UUID, schedule domain.SummarySchedule) error {
	query := `
		UPDATE chatbots
		SET summary_enabled = $2,
		    summary_time = $3,
		    summary_day_of_week = $4,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, id, schedule.Enabled, schedule.Time, schedule.DayOfWeek)
	if err != nil {
		return Classify("update summary schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.E(domain.KindNotFound, "chatbot not found", nil)
	}

	return nil
}

// ResolveToken looks up an active public token and the active chatbot it is
// bound to. The token is matched byte for byte; no format is assumed.
func (r *ChatbotRepository) ResolveToken(ctx context.Context, token string) (*domain.PublicGrant, error) {
	query := `
		SELECT c.id, c.name
		FROM public_tokens t
		INNER JOIN chatbots c ON c.id = t.chatbot_id
		WHERE t.token = $1 AND t.active AND c.active
	`

	var grant domain.PublicGrant
	err := r.db.Pool.QueryRow(ctx, query, token).Scan(&grant.ChatbotID, &grant.ChatbotName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	grant.Token = token

	return &grant, nil
}

// TokenForChatbot returns the public token bound to a chatbot, or "" when the
// chatbot has none.
func (r *ChatbotRepository) TokenForChatbot(ctx context.Context, id uuid.UUID) (string, error) {
	query := `SELECT token FROM public_tokens WHERE chatbot_id = $1`

	var token string
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	return token, nil
}
