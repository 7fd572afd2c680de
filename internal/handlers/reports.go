package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/reports"
)

// ReportsHandler serves report generation and retrieval.
type ReportsHandler struct {
	generator *reports.Generator
}

func NewReportsHandler(generator *reports.Generator) *ReportsHandler {
	return &ReportsHandler{generator: generator}
}

// Generate builds a report for one cadence on demand.
func (h *ReportsHandler) Generate(c *fiber.Ctx) error {
	var body struct {
		ReportType string `json:"report_type"`
		Save       bool   `json:"save"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	switch body.ReportType {
	case models.ReportTypeDaily, models.ReportTypeWeekly, models.ReportTypeMonthly:
	default:
		return badRequest(c, "report_type must be daily, weekly or monthly")
	}

	report, err := h.generator.GenerateReport(body.ReportType, body.Save)
	if err != nil {
		return serverError(c, "Failed to generate report")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    report,
	})
}

// Custom builds an ad-hoc report over an arbitrary period without saving it.
func (h *ReportsHandler) Custom(c *fiber.Ctx) error {
	start, end, ok := parsePeriod(c)
	if !ok {
		return badRequest(c, "Invalid period")
	}
	minScore := c.QueryFloat("min_score", 0)

	report, err := h.generator.GetCustomReport(start, end, minScore)
	if err != nil {
		return serverError(c, "Failed to generate custom report")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    report,
	})
}

// List returns stored reports, newest first.
func (h *ReportsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	reportType := c.Query("type")

	query := database.DB.Model(&models.ViolationReport{}).Order("generated_at DESC").Limit(limit)
	if reportType != "" {
		query = query.Where("report_type = ?", reportType)
	}

	var rows []models.ViolationReport
	if err := query.Find(&rows).Error; err != nil {
		return serverError(c, "Failed to list reports")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    rows,
	})
}

// Get returns one stored report by UID.
func (h *ReportsHandler) Get(c *fiber.Ctx) error {
	uid := c.Params("uid")

	var report models.ViolationReport
	if err := database.DB.Where("report_uid = ?", uid).First(&report).Error; err != nil {
		return notFound(c, "Report not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    report,
	})
}
