package service

import (
	"context"
	"errors"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/rs/zerolog/log"
)

// MutationPath names which persistence path a mutation landed on.
type MutationPath string

const (
	PathCanonical MutationPath = "canonical"
	PathEmergency MutationPath = "emergency"
)

// MutationStrategy is one resilient write: a canonical path plus an
// emergency fallback that persists the same logical outcome. The executor
// owns the decision of when the fallback runs.
type MutationStrategy interface {
	// Name identifies the mutation in logs.
	Name() string
	// Canonical performs the normal write path.
	Canonical(ctx context.Context) error
	// Emergency performs the last-resort write path. Called at most once,
	// and only after Canonical failed with an infrastructure-class error.
	Emergency(ctx context.Context) error
}

// MutationAttempt records how a mutation was persisted. Handlers do not
// surface it to API callers; the fallback is invisible to clients.
type MutationAttempt struct {
	Strategy     string
	Path         MutationPath
	CanonicalErr error
}

// MutationExecutor runs resilient mutations. The emergency path is reserved
// for infrastructure-class canonical failures; deterministic rejections such
// as validation conflicts propagate untouched because retrying them through a
// different path would produce the same answer or, worse, a different one.
type MutationExecutor struct {
	// requireAdmin gates the emergency path to admin sessions.
	requireAdmin bool
}

// NewMutationExecutor creates a new mutation executor
func NewMutationExecutor(requireAdmin bool) *MutationExecutor {
	return &MutationExecutor{requireAdmin: requireAdmin}
}

// fallbackEligible reports whether a canonical failure may be retried through
// the emergency path.
func fallbackEligible(err error) bool {
	return domain.IsKind(err, domain.KindInfrastructureFailure)
}

// Execute runs the strategy. On canonical success the attempt reports the
// canonical path. On an infrastructure-class canonical failure, and when the
// session is allowed the fallback, the emergency path runs exactly once; if
// it also fails the caller gets an emergency-path-exhausted error and nothing
// was persisted.
func (e *MutationExecutor) Execute(ctx context.Context, session *domain.AuthSession, strategy MutationStrategy) (*MutationAttempt, error) {
	attempt := &MutationAttempt{Strategy: strategy.Name(), Path: PathCanonical}

	canonicalErr := strategy.Canonical(ctx)
	if canonicalErr == nil {
		return attempt, nil
	}

	if !fallbackEligible(canonicalErr) {
		return nil, canonicalErr
	}

	if e.requireAdmin && (session == nil || !session.IsAdmin()) {
		log.Error().Err(canonicalErr).Str("mutation", strategy.Name()).
			Msg("canonical write failed, fallback not permitted for this session")
		return nil, canonicalErr
	}

	log.Warn().Err(canonicalErr).Str("mutation", strategy.Name()).
		Msg("canonical write failed, attempting emergency path")

	if err := strategy.Emergency(ctx); err != nil {
		log.Error().Err(err).AnErr("canonical_error", canonicalErr).Str("mutation", strategy.Name()).
			Msg("emergency write failed, nothing persisted")
		return nil, domain.E(domain.KindEmergencyPathExhausted,
			"write failed on both persistence paths", errors.Join(canonicalErr, err))
	}

	attempt.Path = PathEmergency
	attempt.CanonicalErr = canonicalErr
	log.Warn().Str("mutation", strategy.Name()).Msg("emergency write succeeded")

	return attempt, nil
}
