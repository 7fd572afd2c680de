package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/middleware"
	"github.com/proxguard/backend/internal/services"
	"github.com/proxguard/backend/internal/violations"
)

// ViolationsHandler serves violation queries and operator follow-up actions.
type ViolationsHandler struct {
	store    *violations.Store
	detector *services.AbuseDetectionService
}

func NewViolationsHandler(store *violations.Store, detector *services.AbuseDetectionService) *ViolationsHandler {
	return &ViolationsHandler{store: store, detector: detector}
}

// parsePeriod reads start/end query params, defaulting to the last 24 hours.
// Accepts RFC3339 or plain dates.
func parsePeriod(c *fiber.Ctx) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	end := now

	if raw := c.Query("start"); raw != "" {
		ts, ok := parseTimestamp(raw)
		if !ok {
			return start, end, false
		}
		start = ts
	}
	if raw := c.Query("end"); raw != "" {
		ts, ok := parseTimestamp(raw)
		if !ok {
			return start, end, false
		}
		end = ts
	}
	return start, end, start.Before(end)
}

func parseTimestamp(raw string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), true
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

// List returns violations for a period, newest first.
func (h *ViolationsHandler) List(c *fiber.Ctx) error {
	start, end, ok := parsePeriod(c)
	if !ok {
		return badRequest(c, "Invalid period")
	}
	minScore := c.QueryFloat("min_score", 0)
	action := c.Query("action")
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	records, total, err := h.store.List(start, end, minScore, action, limit, offset)
	if err != nil {
		return serverError(c, "Failed to list violations")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"violations": records,
			"total":      total,
		},
	})
}

// Stats returns banded counts for a period. Results are cached briefly since
// dashboards poll this endpoint.
func (h *ViolationsHandler) Stats(c *fiber.Ctx) error {
	start, end, ok := parsePeriod(c)
	if !ok {
		return badRequest(c, "Invalid period")
	}
	minScore := c.QueryFloat("min_score", 0)

	cacheKey := fmt.Sprintf("%s%d:%d:%.0f", database.CacheKeyViolationStats, start.Unix(), end.Unix(), minScore)
	var cached violations.Stats
	if err := database.CacheGet(cacheKey, &cached); err == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    cached,
		})
	}

	stats, err := h.store.GetStatsForPeriod(start, end, minScore)
	if err != nil {
		return serverError(c, "Failed to aggregate stats")
	}
	database.CacheSet(cacheKey, stats, database.CacheTTLStats)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

// Top returns the repeat-offender ranking for a period.
func (h *ViolationsHandler) Top(c *fiber.Ctx) error {
	start, end, ok := parsePeriod(c)
	if !ok {
		return badRequest(c, "Invalid period")
	}
	minScore := c.QueryFloat("min_score", 0)
	limit := c.QueryInt("limit", 10)

	top, err := h.store.GetTopViolatorsForPeriod(start, end, minScore, limit)
	if err != nil {
		return serverError(c, "Failed to rank violators")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    top,
	})
}

// Breakdown returns one of the histogram views for a period.
func (h *ViolationsHandler) Breakdown(c *fiber.Ctx) error {
	start, end, ok := parsePeriod(c)
	if !ok {
		return badRequest(c, "Invalid period")
	}
	minScore := c.QueryFloat("min_score", 0)

	var result map[string]int
	var err error
	switch c.Params("dimension") {
	case "country":
		result, err = h.store.GetViolationsByCountry(start, end, minScore)
	case "action":
		result, err = h.store.GetViolationsByAction(start, end, minScore)
	case "asn-type":
		result, err = h.store.GetViolationsByASNType(start, end, minScore)
	default:
		return badRequest(c, "Unknown breakdown dimension")
	}
	if err != nil {
		return serverError(c, "Failed to aggregate breakdown")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// UserViolations returns one subscriber's violation history.
func (h *ViolationsHandler) UserViolations(c *fiber.Ctx) error {
	subscriberID, err := c.ParamsInt("id")
	if err != nil || subscriberID <= 0 {
		return badRequest(c, "Invalid subscriber id")
	}
	days := c.QueryInt("days", 30)
	limit := c.QueryInt("limit", 100)

	records, err := h.store.GetUserViolations(uint(subscriberID), days, limit)
	if err != nil {
		return serverError(c, "Failed to get user violations")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
	})
}

// UpdateAction records the operator's follow-up on a violation.
func (h *ViolationsHandler) UpdateAction(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "Invalid violation id")
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := c.BodyParser(&body); err != nil || body.Action == "" {
		return badRequest(c, "Action is required")
	}

	operator := middleware.GetCurrentOperator(c)
	if err := h.store.UpdateViolationAction(uint(id), body.Action, operator); err != nil {
		return notFound(c, "Violation not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Action recorded",
	})
}

// MarkNotified stamps a violation's notified_at.
func (h *ViolationsHandler) MarkNotified(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "Invalid violation id")
	}

	if err := h.store.MarkViolationNotified(uint(id)); err != nil {
		return serverError(c, "Failed to mark violation notified")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Violation marked notified",
	})
}

// Scan triggers an immediate detection scan.
func (h *ViolationsHandler) Scan(c *fiber.Ctx) error {
	saved, err := h.detector.RunManualScan()
	if err != nil {
		return serverError(c, "Scan failed")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Scan completed",
		"data": fiber.Map{
			"violations_saved": saved,
		},
	})
}
