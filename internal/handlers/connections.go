package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/proxguard/backend/internal/tracker"
)

// ConnectionsHandler serves connection ledger queries for the admin UI.
type ConnectionsHandler struct {
	tracker *tracker.Tracker
}

func NewConnectionsHandler(tr *tracker.Tracker) *ConnectionsHandler {
	return &ConnectionsHandler{tracker: tr}
}

// Active returns a subscriber's open, recently refreshed connections.
func (h *ConnectionsHandler) Active(c *fiber.Ctx) error {
	subscriberID, err := c.ParamsInt("id")
	if err != nil || subscriberID <= 0 {
		return badRequest(c, "Invalid subscriber id")
	}

	limit := c.QueryInt("limit", 100)
	maxAge := c.QueryInt("max_age_minutes", 5)

	records, err := h.tracker.GetActiveConnections(uint(subscriberID), limit, maxAge)
	if err != nil {
		return serverError(c, "Failed to get active connections")
	}

	simultaneous, err := h.tracker.GetSimultaneousConnections(uint(subscriberID))
	if err != nil {
		simultaneous = 0
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"connections":  records,
			"simultaneous": simultaneous,
		},
	})
}

// History returns a subscriber's connection records, newest first.
func (h *ConnectionsHandler) History(c *fiber.Ctx) error {
	subscriberID, err := c.ParamsInt("id")
	if err != nil || subscriberID <= 0 {
		return badRequest(c, "Invalid subscriber id")
	}

	days := c.QueryInt("days", 7)
	limit := c.QueryInt("limit", 200)

	records, err := h.tracker.GetConnectionHistory(uint(subscriberID), days, limit)
	if err != nil {
		return serverError(c, "Failed to get connection history")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
	})
}

// UniqueIPs returns the distinct IPs seen inside a window.
func (h *ConnectionsHandler) UniqueIPs(c *fiber.Ctx) error {
	subscriberID, err := c.ParamsInt("id")
	if err != nil || subscriberID <= 0 {
		return badRequest(c, "Invalid subscriber id")
	}

	window := c.QueryInt("window_minutes", 60)

	ips, err := h.tracker.GetUniqueIPsInWindow(uint(subscriberID), window)
	if err != nil {
		return serverError(c, "Failed to get unique IPs")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"ips":   ips,
			"count": len(ips),
		},
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

func serverError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
