package service

import (
	"context"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/rs/zerolog/log"
)

// GrantCache caches resolved public-token grants.
type GrantCache interface {
	Get(ctx context.Context, token string) (*domain.PublicGrant, error)
	Set(ctx context.Context, token string, grant *domain.PublicGrant) error
	Invalidate(ctx context.Context, token string) error
}

// TokenAuthority resolves public chatbot tokens into scoped grants. Tokens
// are opaque case-sensitive strings; nothing about their format is assumed.
type TokenAuthority struct {
	chatbots domain.ChatbotRepository
	cache    GrantCache
}

// NewTokenAuthority creates a new token authority. The cache may be nil.
func NewTokenAuthority(chatbots domain.ChatbotRepository, cache GrantCache) *TokenAuthority {
	return &TokenAuthority{chatbots: chatbots, cache: cache}
}

// Resolve validates a public token and returns the grant it carries. Unknown
// tokens and tokens of deactivated chatbots both fail with Unauthorized; the
// caller learns nothing beyond that.
func (a *TokenAuthority) Resolve(ctx context.Context, token string) (*domain.PublicGrant, error) {
	if token == "" {
		return nil, domain.E(domain.KindUnauthorized, "missing token", nil)
	}

	if a.cache != nil {
		if grant, err := a.cache.Get(ctx, token); err == nil && grant != nil {
			return grant, nil
		}
	}

	grant, err := a.chatbots.ResolveToken(ctx, token)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "token lookup failed", err)
	}
	if grant == nil {
		return nil, domain.E(domain.KindUnauthorized, "invalid token", nil)
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, token, grant); err != nil {
			log.Warn().Err(err).Msg("failed to cache public grant")
		}
	}

	return grant, nil
}
