package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// EmergencyWriter is the last-resort persistence path, used only after the
// canonical repository path fails with an infrastructure-class error. It
// discovers the live schema at write time instead of trusting the compiled-in
// column list, so it keeps working when the deployed schema has drifted.
// Everything happens in one transaction: either the full write lands or
// nothing does.
type EmergencyWriter struct {
	db *DB
}

// NewEmergencyWriter creates a new emergency writer
func NewEmergencyWriter(db *DB) *EmergencyWriter {
	return &EmergencyWriter{db: db}
}

// CreateChatbot persists a chatbot and its public token against whatever
// schema is actually deployed. A missing public_tokens table is tolerated
// with a warning; a missing chatbots table is not.
func (w *EmergencyWriter) CreateChatbot(ctx context.Context, bot *domain.Chatbot, token *domain.PublicToken) error {
	tx, err := w.db.Pool.Begin(ctx)
	if err != nil {
		return Classify("begin emergency create", err)
	}
	defer tx.Rollback(ctx)

	if err := w.ensureOwnerRow(ctx, tx, bot); err != nil {
		return err
	}

	botValues := map[string]any{
		"id":                  bot.ID,
		"name":                bot.Name,
		"slack_channel_id":    bot.SlackChannelID,
		"asana_project_id":    bot.AsanaProjectID,
		"active":              bot.Active,
		"summary_enabled":     bot.Summary.Enabled,
		"summary_time":        bot.Summary.Time,
		"summary_day_of_week": bot.Summary.DayOfWeek,
		"created_by":          bot.CreatedBy,
		"created_at":          bot.CreatedAt,
		"updated_at":          bot.UpdatedAt,
	}
	if err := w.insertIntersected(ctx, tx, "chatbots", botValues, []string{"id", "name"}); err != nil {
		return err
	}

	tokenValues := map[string]any{
		"token":                   token.Token,
		"chatbot_id":              token.ChatbotID,
		"active":                  token.Active,
		"requires_secondary_auth": token.RequiresSecondaryAuth,
		"created_at":              token.CreatedAt,
	}
	err = w.insertIntersected(ctx, tx, "public_tokens", tokenValues, []string{"token", "chatbot_id"})
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			// The chatbot is still usable from the dashboard without its
			// public token; do not fail the whole write over it.
			log.Warn().Stringer("chatbot_id", bot.ID).Msg("public_tokens table absent, chatbot created without public token")
		} else {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify("commit emergency create", err)
	}

	return nil
}

// ensureOwnerRow guarantees chatbots.created_by has a row to point at. A
// drifted deployment can be missing every user; in that case a locked system
// owner account is created inside the same transaction.
func (w *EmergencyWriter) ensureOwnerRow(ctx context.Context, tx pgx.Tx, bot *domain.Chatbot) error {
	var ownerID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1`, bot.CreatedBy).Scan(&ownerID)
	if err == nil {
		return nil
	}
	if err != pgx.ErrNoRows {
		return Classify("emergency owner lookup", err)
	}

	err = tx.QueryRow(ctx, `SELECT id FROM users LIMIT 1`).Scan(&ownerID)
	if err == nil {
		bot.CreatedBy = ownerID
		return nil
	}
	if err != pgx.ErrNoRows {
		return Classify("emergency owner lookup", err)
	}

	now := time.Now()
	ownerID = uuid.New()
	userValues := map[string]any{
		"id":           ownerID,
		"email":        fmt.Sprintf("system+%s@chatdesk.local", ownerID),
		"display_name": "System Owner",
		// Not a bcrypt hash: this account can never log in.
		"password_hash": "!",
		"role":          string(domain.RoleAdmin),
		"created_at":    now,
		"updated_at":    now,
	}
	if err := w.insertIntersected(ctx, tx, "users", userValues, []string{"id", "email"}); err != nil {
		return err
	}

	log.Warn().Stringer("owner_id", ownerID).Msg("created system owner during emergency write")
	bot.CreatedBy = ownerID
	return nil
}

// insertIntersected inserts values into table using only the columns that
// actually exist there. required names the columns that must survive the
// intersection for the row to make sense.
func (w *EmergencyWriter) insertIntersected(ctx context.Context, tx pgx.Tx, table string, values map[string]any, required []string) error {
	live, err := w.tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return domain.E(domain.KindNotFound, fmt.Sprintf("table %s does not exist", table), nil)
	}

	for _, col := range required {
		if !live[col] {
			return domain.E(domain.KindInfrastructureFailure,
				fmt.Sprintf("table %s is missing required column %s", table, col), nil)
		}
	}

	var cols []string
	var placeholders []string
	var args []any
	for col, val := range values {
		if !live[col] {
			log.Warn().Str("table", table).Str("column", col).Msg("column absent from live schema, dropping from emergency insert")
			continue
		}
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(cols)))
		args = append(args, val)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return Classify("emergency insert into "+table, err)
	}
	return nil
}

// tableColumns reads the live column set of a table from the catalog. An
// empty set means the table does not exist.
func (w *EmergencyWriter) tableColumns(ctx context.Context, tx pgx.Tx, table string) (map[string]bool, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`

	rows, err := tx.Query(ctx, query, table)
	if err != nil {
		return nil, Classify("emergency schema introspection", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Classify("emergency schema introspection", err)
		}
		columns[name] = true
	}

	return columns, nil
}
