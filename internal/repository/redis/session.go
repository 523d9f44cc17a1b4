package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
)

const sessionPrefix = "session:"

// SessionCache stores the server-side session records. A session token is
// only valid while its record exists here, so logout is an immediate,
// process-wide revocation.
type SessionCache struct {
	client *Client
}

// NewSessionCache creates a new session cache
func NewSessionCache(client *Client) *SessionCache {
	return &SessionCache{client: client}
}

// Put stores a session record under its session ID
func (c *SessionCache) Put(ctx context.Context, sessionID string, session *domain.AuthSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return c.client.rdb.Set(ctx, sessionPrefix+sessionID, data, ttl).Err()
}

// Get retrieves a session record; a missing record is (nil, nil)
func (c *SessionCache) Get(ctx context.Context, sessionID string) (*domain.AuthSession, error) {
	data, err := c.client.rdb.Get(ctx, sessionPrefix+sessionID).Bytes()
	if err != nil {
		return nil, nil // cache miss or expired
	}

	var session domain.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Delete removes a session record. Deleting an absent record is not an error.
func (c *SessionCache) Delete(ctx context.Context, sessionID string) error {
	return c.client.rdb.Del(ctx, sessionPrefix+sessionID).Err()
}
