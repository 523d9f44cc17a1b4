package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
)

const (
	grantPrefix   = "grant:"
	grantCacheTTL = 60 * time.Second
)

// GrantCache caches resolved public-token grants. Public chat pages resolve
// their token on every load, so the hot path should not hit postgres each
// time. Entries are invalidated explicitly when a chatbot is deactivated.
type GrantCache struct {
	client *Client
}

// NewGrantCache creates a new grant cache
func NewGrantCache(client *Client) *GrantCache {
	return &GrantCache{client: client}
}

// Get retrieves a cached grant; a miss is (nil, nil)
func (c *GrantCache) Get(ctx context.Context, token string) (*domain.PublicGrant, error) {
	data, err := c.client.rdb.Get(ctx, grantPrefix+token).Bytes()
	if err != nil {
		return nil, nil // cache miss
	}

	var grant domain.PublicGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	grant.Token = token

	return &grant, nil
}

// Set caches a resolved grant
func (c *GrantCache) Set(ctx context.Context, token string, grant *domain.PublicGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}
	return c.client.rdb.Set(ctx, grantPrefix+token, data, grantCacheTTL).Err()
}

// Invalidate drops a cached grant so revocation takes effect immediately
func (c *GrantCache) Invalidate(ctx context.Context, token string) error {
	return c.client.rdb.Del(ctx, grantPrefix+token).Err()
}
