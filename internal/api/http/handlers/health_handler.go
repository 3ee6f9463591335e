package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HubStats reports live socket state for the liveness probe.
type HubStats interface {
	ConnectionCount() int
	RoomCount() int
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	deps        map[string]Pinger
	stats       HubStats
}

// NewHealthHandler returns a new handler instance. deps maps a dependency
// name to its probe.
func NewHealthHandler(serviceName, version string, deps map[string]Pinger, stats HubStats) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, deps: deps, stats: stats}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	}
	if h.stats != nil {
		body["connections"] = h.stats.ConnectionCount()
		body["rooms"] = h.stats.RoomCount()
	}
	return c.JSON(body)
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			depStatus[name] = err.Error()
			ready = false
			continue
		}
		depStatus[name] = "ok"
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}
