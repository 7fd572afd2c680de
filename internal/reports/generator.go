package reports

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/violations"
	"gorm.io/gorm"
)

// Generator builds violation reports over a period. Scheduled and custom
// reports share the same generation path; only persistence differs.
type Generator struct {
	db    *gorm.DB
	store *violations.Store
}

func NewGenerator(db *gorm.DB, store *violations.Store) *Generator {
	return &Generator{db: db, store: store}
}

// Settings returns the report configuration row, or defaults when none
// exists yet.
func (g *Generator) Settings() models.ReportSetting {
	var settings models.ReportSetting
	if err := database.CacheGet(database.CacheKeyReportSettings, &settings); err == nil {
		return settings
	}
	if err := g.db.First(&settings).Error; err != nil {
		return models.ReportSetting{
			Enabled:      true,
			DailyEnabled: true,
			DailyTime:    "09:00",
			WeeklyDay:    1,
			WeeklyTime:   "09:00",
			MonthlyDay:   1,
			MonthlyTime:  "09:00",
			TopLimit:     10,
		}
	}
	database.CacheSet(database.CacheKeyReportSettings, settings, database.CacheTTLSettings)
	return settings
}

// periodFor maps a cadence to its rolling window ending now.
func periodFor(reportType string, now time.Time) (time.Time, time.Time) {
	switch reportType {
	case models.ReportTypeWeekly:
		return now.AddDate(0, 0, -7), now
	case models.ReportTypeMonthly:
		return now.AddDate(0, -1, 0), now
	default:
		return now.Add(-24 * time.Hour), now
	}
}

// GenerateReport builds a report for one cadence and optionally persists it.
func (g *Generator) GenerateReport(reportType string, saveToDB bool) (*models.ViolationReport, error) {
	settings := g.Settings()
	now := time.Now().UTC()
	start, end := periodFor(reportType, now)

	report, err := g.build(reportType, start, end, settings.MinScore, settings.TopLimit)
	if err != nil {
		return nil, err
	}

	if saveToDB {
		if err := g.db.Create(report).Error; err != nil {
			return nil, fmt.Errorf("failed to persist report: %w", err)
		}
	}
	return report, nil
}

// GetCustomReport builds an ad-hoc report over an arbitrary period without
// persisting it.
func (g *Generator) GetCustomReport(start, end time.Time, minScore float64) (*models.ViolationReport, error) {
	settings := g.Settings()
	return g.build(models.ReportTypeCustom, start, end, minScore, settings.TopLimit)
}

// MarkSent stamps the report's sent_at after a successful dispatch.
func (g *Generator) MarkSent(report *models.ViolationReport) {
	now := time.Now().UTC()
	if err := g.db.Model(report).Update("sent_at", now).Error; err != nil {
		log.Printf("[Reports] Failed to mark report %s sent: %v", report.ReportUID, err)
		return
	}
	report.SentAt = &now
}

func (g *Generator) build(reportType string, start, end time.Time, minScore float64, topLimit int) (*models.ViolationReport, error) {
	stats, err := g.store.GetStatsForPeriod(start, end, minScore)
	if err != nil {
		return nil, err
	}

	top, err := g.store.GetTopViolatorsForPeriod(start, end, minScore, topLimit)
	if err != nil {
		log.Printf("[Reports] Top violators aggregation failed: %v", err)
		top = nil
	}
	byCountry, err := g.store.GetViolationsByCountry(start, end, minScore)
	if err != nil {
		log.Printf("[Reports] Country breakdown failed: %v", err)
	}
	byAction, err := g.store.GetViolationsByAction(start, end, minScore)
	if err != nil {
		log.Printf("[Reports] Action breakdown failed: %v", err)
	}
	byASNType, err := g.store.GetViolationsByASNType(start, end, minScore)
	if err != nil {
		log.Printf("[Reports] ASN type breakdown failed: %v", err)
	}

	// Trend compares against the immediately preceding period of equal length
	prevStart := start.Add(-end.Sub(start))
	trend := 0.0
	if prev, err := g.store.GetStatsForPeriod(prevStart, start, minScore); err == nil {
		trend = trendPercent(stats.Total, prev.Total)
	} else {
		log.Printf("[Reports] Previous period stats failed: %v", err)
	}

	report := &models.ViolationReport{
		ReportUID:       uuid.New().String(),
		ReportType:      reportType,
		PeriodStart:     start,
		PeriodEnd:       end,
		TotalViolations: stats.Total,
		CriticalCount:   stats.Critical,
		WarningCount:    stats.Warning,
		MonitorCount:    stats.Monitor,
		UniqueUsers:     stats.UniqueUsers,
		TrendPercent:    trend,
		TopViolators:    marshalJSON(top),
		ByCountry:       marshalJSON(byCountry),
		ByAction:        marshalJSON(byAction),
		ByASNType:       marshalJSON(byASNType),
		GeneratedAt:     time.Now().UTC(),
	}
	report.Message = renderMessage(report, stats, top)
	return report, nil
}

func trendPercent(current, previous int) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return float64(current-previous) / float64(previous) * 100
}

func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// renderMessage produces the plain-text body dispatched to the notification
// sink.
func renderMessage(report *models.ViolationReport, stats *violations.Stats, top []violations.TopViolator) string {
	var b strings.Builder

	title := map[string]string{
		models.ReportTypeDaily:   "Daily Abuse Report",
		models.ReportTypeWeekly:  "Weekly Abuse Report",
		models.ReportTypeMonthly: "Monthly Abuse Report",
		models.ReportTypeCustom:  "Abuse Report",
	}[report.ReportType]
	if title == "" {
		title = "Abuse Report"
	}

	fmt.Fprintf(&b, "%s\n", title)
	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		report.PeriodStart.Format("2006-01-02 15:04"),
		report.PeriodEnd.Format("2006-01-02 15:04"))

	if stats.Total == 0 {
		b.WriteString("No violations detected in this period.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Total violations: %d (%+.1f%% vs previous period)\n", stats.Total, report.TrendPercent)
	fmt.Fprintf(&b, "Critical: %d | Warning: %d | Monitor: %d\n", stats.Critical, stats.Warning, stats.Monitor)
	fmt.Fprintf(&b, "Unique users: %d | Avg score: %.1f | Max score: %.1f\n", stats.UniqueUsers, stats.AvgScore, stats.MaxScore)

	if len(top) > 0 {
		b.WriteString("\nTop violators:\n")
		for i, v := range top {
			fmt.Fprintf(&b, "%d. %s - %d violation(s), max score %.0f\n", i+1, v.Username, v.Count, v.MaxScore)
		}
	}
	return b.String()
}
