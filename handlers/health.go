package handlers

import (
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/database"
	"github.com/Drakvor/OSS-Knowledge-BrainClone-sub001/utils/cache"
	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports liveness and dependency health
type HealthHandler struct {
	store database.Storage
	cache *cache.RedisCache
}

// NewHealthHandler creates a health handler. cache may be nil.
func NewHealthHandler(store database.Storage, cache *cache.RedisCache) *HealthHandler {
	return &HealthHandler{store: store, cache: cache}
}

// Ping handles GET /ping
func (h *HealthHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	checks := fiber.Map{"database": "ok"}
	healthy := true

	if err := h.store.HealthCheck(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}

	if h.cache != nil {
		checks["redis"] = "ok"
		if err := h.cache.Ping(c.UserContext()); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": checks})
}
