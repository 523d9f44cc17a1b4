package api

import (
	"net/http"

	"github.com/avelkov/chatdesk/internal/api/handler"
	customMiddleware "github.com/avelkov/chatdesk/internal/api/middleware"
	"github.com/avelkov/chatdesk/internal/config"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/avelkov/chatdesk/internal/llm"
	"github.com/avelkov/chatdesk/internal/llm/gemini"
	"github.com/avelkov/chatdesk/internal/llm/ollama"
	"github.com/avelkov/chatdesk/internal/repository/postgres"
	"github.com/avelkov/chatdesk/internal/repository/redis"
	"github.com/avelkov/chatdesk/internal/security"
	"github.com/avelkov/chatdesk/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// NewRouter creates and configures the HTTP router. The returned delivery
// engine is handed back so main can wait out detached persistence work on
// shutdown.
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client, knowledge domain.KnowledgeRepository) (http.Handler, *service.DeliveryEngine) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Security components
	tokenManager := security.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)

	// Repositories
	userRepo := postgres.NewUserRepository(db)
	chatbotRepo := postgres.NewChatbotRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	emergencyWriter := postgres.NewEmergencyWriter(db)

	// Redis-backed caches and limiter
	sessionCache := redis.NewSessionCache(redisClient)
	grantCache := redis.NewGrantCache(redisClient)
	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.Security.RateLimit.RequestsPerMinute,
		cfg.Security.RateLimit.Burst,
	)

	// Generation providers
	llmRouter := llm.NewRouter(cfg.LLM.DefaultProvider)
	if cfg.LLM.Gemini.APIKey != "" {
		llmRouter.RegisterProvider(gemini.NewProvider(cfg.LLM.Gemini))
	} else {
		log.Warn().Msg("Gemini API key is empty, skipping registration")
	}
	if cfg.LLM.Ollama.Host != "" {
		log.Info().Str("host", cfg.LLM.Ollama.Host).Msg("Registering Ollama provider")
		llmRouter.RegisterProvider(ollama.NewProvider(cfg.LLM.Ollama.Host, cfg.LLM.Ollama.DefaultModel))
	}

	// Services
	sessionStore := service.NewSessionStore(userRepo, tokenManager, sessionCache)
	tokenAuthority := service.NewTokenAuthority(chatbotRepo, grantCache)
	executor := service.NewMutationExecutor(true)
	chatbotService := service.NewChatbotService(chatbotRepo, emergencyWriter, executor, grantCache)
	chatService := service.NewChatService(chatbotRepo, messageRepo, knowledge, cfg.Delivery.HistoryLimit)
	engine := service.NewDeliveryEngine(llmRouter, messageRepo, cfg.Delivery)

	defaultMode, err := service.ParseMode(cfg.Delivery.DefaultMode, service.ModeSimulated)
	if err != nil {
		log.Warn().Str("mode", cfg.Delivery.DefaultMode).Msg("unknown default delivery mode, using simulated-stream")
		defaultMode = service.ModeSimulated
	}

	// Handlers
	authHandler := handler.NewAuthHandler(sessionStore, cfg.Auth.SessionTTL)
	publicHandler := handler.NewPublicHandler(tokenAuthority)
	chatHandler := handler.NewChatHandler(chatService, tokenAuthority, engine, defaultMode)
	chatbotHandler := handler.NewChatbotHandler(chatbotService)

	// Middleware
	sessionMiddleware := customMiddleware.NewSessionMiddleware(sessionStore)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		r.Get("/public/chatbot/{token}", publicHandler.ResolveChatbot)

		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware.Resolve)

			r.With(sessionMiddleware.Require).Get("/user", authHandler.Me)
			r.With(sessionMiddleware.Require).Get("/llm-providers", handler.ListProviders(llmRouter))

			r.Route("/chatbots", func(r chi.Router) {
				r.With(sessionMiddleware.Require).Get("/", chatbotHandler.List)
				r.With(sessionMiddleware.Require, rateLimitMiddleware.LimitBySession).Post("/", chatbotHandler.Create)

				r.Route("/{chatbotID}", func(r chi.Router) {
					r.Use(customMiddleware.ChatbotContext)

					// Chat accepts either a dashboard session or a public
					// token; authorization is decided per request.
					r.With(rateLimitMiddleware.LimitByClient).Post("/chat", chatHandler.Send)
					r.With(rateLimitMiddleware.LimitByClient).Get("/messages", chatHandler.Messages)

					r.With(sessionMiddleware.Require).Get("/", chatbotHandler.Get)
					r.With(sessionMiddleware.Require, rateLimitMiddleware.LimitBySession).Patch("/", chatbotHandler.Update)
					r.With(sessionMiddleware.Require).Get("/summary-schedule", chatbotHandler.SummarySchedule)
					r.With(sessionMiddleware.Require, rateLimitMiddleware.LimitBySession).Put("/summary-schedule", chatbotHandler.SetSummarySchedule)
				})
			})
		})
	})

	return r, engine
}
