package service

import (
	"context"
	"time"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/security"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// genericLoginFailure is returned for every credential failure so the
// response never reveals whether the email exists.
const genericLoginFailure = "invalid email or password"

// SessionCache stores the server-side session records.
type SessionCache interface {
	Put(ctx context.Context, sessionID string, session *domain.AuthSession, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*domain.AuthSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// SessionStore owns the authenticated caller identity. Sessions are created
// here and nowhere else; every other component receives the AuthSession by
// explicit parameter. The same signed token resolves identically whether it
// arrives as a cookie or a bearer header.
type SessionStore struct {
	users  domain.UserRepository
	tokens *security.TokenManager
	cache  SessionCache
}

// NewSessionStore creates a new session store
func NewSessionStore(users domain.UserRepository, tokens *security.TokenManager, cache SessionCache) *SessionStore {
	return &SessionStore{users: users, tokens: tokens, cache: cache}
}

// Register creates a new dashboard account. The first account of a deployment
// becomes the admin.
func (s *SessionStore) Register(ctx context.Context, input domain.UserCreate) (*domain.User, error) {
	exists, err := s.users.EmailExists(ctx, input.Email)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "failed to check email", err)
	}
	if exists {
		return nil, domain.E(domain.KindValidationConflict, "email already registered", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "failed to hash password", err)
	}

	role := domain.RoleMember
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "failed to count users", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        input.Email,
		PasswordHash: string(hashed),
		DisplayName:  input.DisplayName,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Login authenticates credentials and issues a session token.
func (s *SessionStore) Login(ctx context.Context, input domain.Credentials) (*domain.AuthSession, string, error) {
	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, "", domain.E(domain.KindInfrastructureFailure, "failed to get user", err)
	}
	if user == nil {
		return nil, "", domain.E(domain.KindUnauthorized, genericLoginFailure, nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, "", domain.E(domain.KindUnauthorized, genericLoginFailure, nil)
	}

	token, sessionID, err := s.tokens.GenerateSessionToken(user.ID)
	if err != nil {
		return nil, "", domain.E(domain.KindInfrastructureFailure, "failed to issue session token", err)
	}

	session := &domain.AuthSession{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Initials:    domain.Initials(user.DisplayName),
		Role:        user.Role,
		IssuedAt:    time.Now(),
	}

	if err := s.cache.Put(ctx, sessionID, session, s.tokens.SessionTTL()); err != nil {
		return nil, "", domain.E(domain.KindInfrastructureFailure, "failed to store session", err)
	}

	return session, token, nil
}

// Current resolves a session token into the AuthSession it names, or
// Unauthorized when the token is invalid, expired, or logged out.
func (s *SessionStore) Current(ctx context.Context, token string) (*domain.AuthSession, error) {
	if token == "" {
		return nil, domain.E(domain.KindUnauthorized, "no session", nil)
	}

	claims, err := s.tokens.ValidateSessionToken(token)
	if err != nil {
		return nil, domain.E(domain.KindUnauthorized, "invalid session token", err)
	}

	session, err := s.cache.Get(ctx, claims.ID)
	if err != nil {
		return nil, domain.E(domain.KindInfrastructureFailure, "failed to load session", err)
	}
	if session == nil || session.UserID != claims.UserID {
		return nil, domain.E(domain.KindUnauthorized, "session expired", nil)
	}

	return session, nil
}

// Logout revokes a session. Idempotent: logging out an absent or invalid
// session succeeds silently. Navigation afterwards is the caller's decision.
func (s *SessionStore) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	claims, err := s.tokens.ValidateSessionToken(token)
	if err != nil {
		return nil
	}

	if err := s.cache.Delete(ctx, claims.ID); err != nil {
		return domain.E(domain.KindInfrastructureFailure, "failed to delete session", err)
	}
	return nil
}
