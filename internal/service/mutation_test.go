package service

import (
	"context"
	"errors"
	"testing"

	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scriptedStrategy counts invocations of each path.
type scriptedStrategy struct {
	canonicalErr   error
	emergencyErr   error
	canonicalCalls int
	emergencyCalls int
}

func (s *scriptedStrategy) Name() string { return "test.mutation" }

func (s *scriptedStrategy) Canonical(ctx context.Context) error {
	s.canonicalCalls++
	return s.canonicalErr
}

func (s *scriptedStrategy) Emergency(ctx context.Context) error {
	s.emergencyCalls++
	return s.emergencyErr
}

func adminSession() *domain.AuthSession {
	return &domain.AuthSession{UserID: uuid.New(), Role: domain.RoleAdmin}
}

func memberSession() *domain.AuthSession {
	return &domain.AuthSession{UserID: uuid.New(), Role: domain.RoleMember}
}

func infraErr() error {
	return domain.E(domain.KindInfrastructureFailure, "relation does not exist", errors.New("42P01"))
}

func TestMutationExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("canonical success never touches emergency", func(t *testing.T) {
		strategy := &scriptedStrategy{}
		executor := NewMutationExecutor(true)

		attempt, err := executor.Execute(ctx, adminSession(), strategy)
		require.NoError(t, err)
		assert.Equal(t, PathCanonical, attempt.Path)
		assert.Equal(t, 1, strategy.canonicalCalls)
		assert.Equal(t, 0, strategy.emergencyCalls)
	})

	t.Run("infrastructure failure falls back exactly once", func(t *testing.T) {
		strategy := &scriptedStrategy{canonicalErr: infraErr()}
		executor := NewMutationExecutor(true)

		attempt, err := executor.Execute(ctx, adminSession(), strategy)
		require.NoError(t, err)
		assert.Equal(t, PathEmergency, attempt.Path)
		assert.Error(t, attempt.CanonicalErr)
		assert.Equal(t, 1, strategy.canonicalCalls)
		assert.Equal(t, 1, strategy.emergencyCalls)
	})

	t.Run("validation conflict never falls back", func(t *testing.T) {
		strategy := &scriptedStrategy{
			canonicalErr: domain.E(domain.KindValidationConflict, "duplicate name", nil),
		}
		executor := NewMutationExecutor(true)

		_, err := executor.Execute(ctx, adminSession(), strategy)
		assert.Equal(t, domain.KindValidationConflict, domain.KindOf(err))
		assert.Equal(t, 0, strategy.emergencyCalls)
	})

	t.Run("member session is denied the fallback", func(t *testing.T) {
		strategy := &scriptedStrategy{canonicalErr: infraErr()}
		executor := NewMutationExecutor(true)

		_, err := executor.Execute(ctx, memberSession(), strategy)
		assert.Equal(t, domain.KindInfrastructureFailure, domain.KindOf(err))
		assert.Equal(t, 0, strategy.emergencyCalls)
	})

	t.Run("fallback open to all when admin gate is off", func(t *testing.T) {
		strategy := &scriptedStrategy{canonicalErr: infraErr()}
		executor := NewMutationExecutor(false)

		attempt, err := executor.Execute(ctx, memberSession(), strategy)
		require.NoError(t, err)
		assert.Equal(t, PathEmergency, attempt.Path)
	})

	t.Run("both paths failing exhausts the mutation", func(t *testing.T) {
		canonical := infraErr()
		emergency := errors.New("emergency insert failed")
		strategy := &scriptedStrategy{canonicalErr: canonical, emergencyErr: emergency}
		executor := NewMutationExecutor(true)

		_, err := executor.Execute(ctx, adminSession(), strategy)
		assert.Equal(t, domain.KindEmergencyPathExhausted, domain.KindOf(err))
		assert.ErrorIs(t, err, canonical)
		assert.ErrorIs(t, err, emergency)
		assert.Equal(t, 1, strategy.emergencyCalls)
	})
}

func TestChatbotService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("canonical path", func(t *testing.T) {
		chatbots := new(MockChatbotRepository)
		chatbots.On("Create", ctx, mock.AnythingOfType("*domain.Chatbot"), mock.AnythingOfType("*domain.PublicToken")).Return(nil)

		svc := NewChatbotService(chatbots, new(MockEmergencyWriter), NewMutationExecutor(true), nil)

		session := adminSession()
		bot, attempt, err := svc.Create(ctx, session, domain.ChatbotCreate{Name: "Support Bot"})
		require.NoError(t, err)
		assert.Equal(t, PathCanonical, attempt.Path)
		assert.Equal(t, "Support Bot", bot.Name)
		assert.True(t, bot.Active)
		assert.Equal(t, session.UserID, bot.CreatedBy)
	})

	t.Run("token is minted once per chatbot", func(t *testing.T) {
		var tokens []string
		chatbots := new(MockChatbotRepository)
		chatbots.On("Create", ctx, mock.AnythingOfType("*domain.Chatbot"), mock.AnythingOfType("*domain.PublicToken")).
			Run(func(args mock.Arguments) {
				tokens = append(tokens, args.Get(2).(*domain.PublicToken).Token)
			}).Return(nil)

		svc := NewChatbotService(chatbots, nil, NewMutationExecutor(true), nil)

		_, _, err := svc.Create(ctx, adminSession(), domain.ChatbotCreate{Name: "A"})
		require.NoError(t, err)
		_, _, err = svc.Create(ctx, adminSession(), domain.ChatbotCreate{Name: "B"})
		require.NoError(t, err)

		require.Len(t, tokens, 2)
		assert.NotEmpty(t, tokens[0])
		assert.NotEqual(t, tokens[0], tokens[1])
	})

	t.Run("falls back to emergency writer", func(t *testing.T) {
		chatbots := new(MockChatbotRepository)
		chatbots.On("Create", ctx, mock.Anything, mock.Anything).Return(infraErr())

		emergency := new(MockEmergencyWriter)
		emergency.On("CreateChatbot", ctx, mock.AnythingOfType("*domain.Chatbot"), mock.AnythingOfType("*domain.PublicToken")).Return(nil)

		svc := NewChatbotService(chatbots, emergency, NewMutationExecutor(true), nil)

		bot, attempt, err := svc.Create(ctx, adminSession(), domain.ChatbotCreate{Name: "Support Bot"})
		require.NoError(t, err)
		assert.Equal(t, PathEmergency, attempt.Path)
		assert.NotNil(t, bot)
		emergency.AssertExpectations(t)
	})
}

func TestChatbotService_Update(t *testing.T) {
	ctx := context.Background()
	chatbotID := uuid.New()

	t.Run("deactivation invalidates the cached grant", func(t *testing.T) {
		inactive := false
		update := domain.ChatbotUpdate{Active: &inactive}

		chatbots := new(MockChatbotRepository)
		chatbots.On("Update", ctx, chatbotID, &update).Return(nil)
		chatbots.On("TokenForChatbot", ctx, chatbotID).Return("tok-123", nil)
		bot := activeChatbot(chatbotID)
		bot.Active = false
		chatbots.On("Get", ctx, chatbotID).Return(bot, nil)

		grants := new(MockGrantCache)
		grants.On("Invalidate", ctx, "tok-123").Return(nil)

		svc := NewChatbotService(chatbots, nil, NewMutationExecutor(true), grants)

		got, err := svc.Update(ctx, chatbotID, update)
		require.NoError(t, err)
		assert.False(t, got.Active)
		grants.AssertExpectations(t)
	})

	t.Run("rename does not touch the grant cache", func(t *testing.T) {
		name := "Renamed"
		update := domain.ChatbotUpdate{Name: &name}

		chatbots := new(MockChatbotRepository)
		chatbots.On("Update", ctx, chatbotID, &update).Return(nil)
		chatbots.On("Get", ctx, chatbotID).Return(activeChatbot(chatbotID), nil)

		grants := new(MockGrantCache)

		svc := NewChatbotService(chatbots, nil, NewMutationExecutor(true), grants)

		_, err := svc.Update(ctx, chatbotID, update)
		require.NoError(t, err)
		grants.AssertNotCalled(t, "Invalidate")
	})
}
