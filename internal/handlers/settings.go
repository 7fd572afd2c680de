package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/models"
)

// SettingsHandler serves detection and report configuration.
type SettingsHandler struct{}

func NewSettingsHandler() *SettingsHandler {
	return &SettingsHandler{}
}

// GetDetection returns the detection settings row.
func (h *SettingsHandler) GetDetection(c *fiber.Ctx) error {
	var settings models.DetectionSetting
	if err := database.DB.First(&settings).Error; err != nil {
		return notFound(c, "Detection settings not found")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    settings,
	})
}

// UpdateDetection replaces the detection settings.
func (h *SettingsHandler) UpdateDetection(c *fiber.Ctx) error {
	var body models.DetectionSetting
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if body.ScanIntervalMinutes <= 0 || body.WindowMinutes <= 0 {
		return badRequest(c, "scan_interval_minutes and window_minutes must be positive")
	}
	if body.MinScore < 0 || body.MinScore > 100 {
		return badRequest(c, "min_score must be between 0 and 100")
	}

	var settings models.DetectionSetting
	if err := database.DB.First(&settings).Error; err != nil {
		body.ID = 0
		if err := database.DB.Create(&body).Error; err != nil {
			return serverError(c, "Failed to save detection settings")
		}
		settings = body
	} else {
		updates := map[string]interface{}{
			"enabled":               body.Enabled,
			"scan_interval_minutes": body.ScanIntervalMinutes,
			"window_minutes":        body.WindowMinutes,
			"min_score":             body.MinScore,
			"retention_days":        body.RetentionDays,
			"notify_on_critical":    body.NotifyOnCritical,
		}
		if err := database.DB.Model(&settings).Updates(updates).Error; err != nil {
			return serverError(c, "Failed to update detection settings")
		}
	}

	database.InvalidateSettingsCache()
	return c.JSON(fiber.Map{
		"success": true,
		"data":    settings,
	})
}

// GetReports returns the report scheduling settings row.
func (h *SettingsHandler) GetReports(c *fiber.Ctx) error {
	var settings models.ReportSetting
	if err := database.DB.First(&settings).Error; err != nil {
		return notFound(c, "Report settings not found")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    settings,
	})
}

// UpdateReports replaces the report scheduling settings.
func (h *SettingsHandler) UpdateReports(c *fiber.Ctx) error {
	var body models.ReportSetting
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if !validHHMM(body.DailyTime) || !validHHMM(body.WeeklyTime) || !validHHMM(body.MonthlyTime) {
		return badRequest(c, "Trigger times must be HH:MM")
	}
	if body.WeeklyDay < 0 || body.WeeklyDay > 6 {
		return badRequest(c, "weekly_day must be 0-6")
	}
	if body.MonthlyDay < 1 || body.MonthlyDay > 31 {
		return badRequest(c, "monthly_day must be 1-31")
	}

	var settings models.ReportSetting
	if err := database.DB.First(&settings).Error; err != nil {
		body.ID = 0
		if err := database.DB.Create(&body).Error; err != nil {
			return serverError(c, "Failed to save report settings")
		}
		settings = body
	} else {
		updates := map[string]interface{}{
			"enabled":         body.Enabled,
			"daily_enabled":   body.DailyEnabled,
			"daily_time":      body.DailyTime,
			"weekly_enabled":  body.WeeklyEnabled,
			"weekly_day":      body.WeeklyDay,
			"weekly_time":     body.WeeklyTime,
			"monthly_enabled": body.MonthlyEnabled,
			"monthly_day":     body.MonthlyDay,
			"monthly_time":    body.MonthlyTime,
			"min_score":       body.MinScore,
			"send_empty":      body.SendEmpty,
			"top_limit":       body.TopLimit,
		}
		if err := database.DB.Model(&settings).Updates(updates).Error; err != nil {
			return serverError(c, "Failed to update report settings")
		}
	}

	database.InvalidateSettingsCache()
	return c.JSON(fiber.Map{
		"success": true,
		"data":    settings,
	})
}

// Status returns the per-subsystem sync status rows.
func (h *SettingsHandler) Status(c *fiber.Ctx) error {
	var rows []models.SyncStatus
	if err := database.DB.Order("subsystem ASC").Find(&rows).Error; err != nil {
		return serverError(c, "Failed to get subsystem status")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    rows,
	})
}

func validHHMM(v string) bool {
	if len(v) != 5 || v[2] != ':' {
		return false
	}
	hh := (int(v[0]-'0') * 10) + int(v[1]-'0')
	mm := (int(v[3]-'0') * 10) + int(v[4]-'0')
	for _, ch := range []byte{v[0], v[1], v[3], v[4]} {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return hh >= 0 && hh <= 23 && mm >= 0 && mm <= 59
}
