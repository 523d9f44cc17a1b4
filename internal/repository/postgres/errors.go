package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes that matter to the failure taxonomy.
const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
)

// Classify maps a driver error onto the domain taxonomy. Unique violations
// are business-rule conflicts; undefined relations/columns and connection
// failures are infrastructure-class and eligible for the emergency write path.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return domain.E(domain.KindCancelled, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return domain.E(domain.KindValidationConflict, op, err)
		case pgErr.Code == codeUndefinedTable, pgErr.Code == codeUndefinedColumn:
			return domain.E(domain.KindInfrastructureFailure, op, err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception class
			return domain.E(domain.KindInfrastructureFailure, op, err)
		}
		return domain.E(domain.KindInfrastructureFailure, op, err)
	}

	// Network-level failures reach us untyped.
	return domain.E(domain.KindInfrastructureFailure, op, err)
}
