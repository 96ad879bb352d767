package router

import (
	"time"

	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/handlers"
	chat_handlers "github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/handlers/chat"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/services"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/auth"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/cache"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/middleware"
	"github.com/gofiber/fiber/v2"
)

// Dependencies are the wired services the routes serve
type Dependencies struct {
	Store    database.Storage
	Cache    *cache.RedisCache // optional
	Verifier *auth.TokenVerifier
	Turns    chat_handlers.TurnOrchestrator
	Sessions *services.SessionService
	Security middleware.SecurityConfig
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	if deps.Security.RateLimitWindow == 0 {
		deps.Security.RateLimitWindow = time.Minute
	}
	middleware.SetupSecurity(app, deps.Security)

	// Health routes
	health := handlers.NewHealthHandler(deps.Store, deps.Cache)
	app.Get("/ping", health.Ping)
	app.Get("/health", health.Health)

	// API v1
	api := app.Group("/api/v1", middleware.Identity(deps.Verifier))

	// Chat routes
	turnHandler := chat_handlers.NewTurnHandler(deps.Turns)
	sessionHandler := chat_handlers.NewSessionHandler(deps.Sessions)

	chat := api.Group("/chat")
	chat.Post("/turns", turnHandler.CreateTurn)
	chat.Post("/turns/stream", turnHandler.StreamTurn)

	chat.Get("/sessions", sessionHandler.ListSessions)
	chat.Post("/sessions", sessionHandler.CreateSession)
	chat.Get("/sessions/:id", sessionHandler.GetSession)
	chat.Patch("/sessions/:id", sessionHandler.UpdateSession)
	chat.Delete("/sessions/:id", sessionHandler.DeleteSession)
	chat.Post("/sessions/:id/archive", sessionHandler.ArchiveSession)
	chat.Post("/sessions/:id/restore", sessionHandler.RestoreSession)
	chat.Get("/sessions/:id/messages", sessionHandler.GetMessages)
}
