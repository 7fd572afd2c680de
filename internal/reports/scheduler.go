package reports

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/notify"
	"gorm.io/gorm"
)

// Scheduler evaluates the daily, weekly and monthly cadences once a minute.
// Each cadence keeps a persisted last_sent_date row so a restart inside the
// trigger minute does not double-send.
type Scheduler struct {
	db        *gorm.DB
	generator *Generator
	notifier  notify.Notifier

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewScheduler(db *gorm.DB, generator *Generator, notifier notify.Notifier) *Scheduler {
	return &Scheduler{
		db:        db,
		generator: generator,
		notifier:  notifier,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Println("[ReportScheduler] Service started")
}

// Stop stops the scheduler loop
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("[ReportScheduler] Service stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Evaluate(s.getCurrentTime())
		}
	}
}

// getCurrentTime returns current time in system timezone
func (s *Scheduler) getCurrentTime() time.Time {
	var pref models.SystemPreference
	if err := s.db.Where("key = ?", "system_timezone").First(&pref).Error; err == nil && pref.Value != "" {
		if loc, err := time.LoadLocation(pref.Value); err == nil {
			return time.Now().In(loc)
		}
	}
	return time.Now()
}

// Evaluate checks every cadence against the given wall-clock time. Cadences
// run sequentially so a slow dispatch cannot interleave report generation.
func (s *Scheduler) Evaluate(now time.Time) {
	settings := s.generator.Settings()
	if !settings.Enabled {
		return
	}

	if settings.DailyEnabled {
		s.evaluateCadence(models.ReportTypeDaily, settings.DailyTime, now, true, settings.SendEmpty)
	}
	if settings.WeeklyEnabled {
		dayMatch := int(now.Weekday()) == settings.WeeklyDay
		s.evaluateCadence(models.ReportTypeWeekly, settings.WeeklyTime, now, dayMatch, settings.SendEmpty)
	}
	if settings.MonthlyEnabled {
		dayMatch := now.Day() == effectiveMonthDay(settings.MonthlyDay, now)
		s.evaluateCadence(models.ReportTypeMonthly, settings.MonthlyTime, now, dayMatch, settings.SendEmpty)
	}
}

// effectiveMonthDay clamps the configured day so day 31 still fires in
// shorter months, on their last day.
func effectiveMonthDay(configured int, now time.Time) int {
	lastDay := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	if configured > lastDay {
		return lastDay
	}
	return configured
}

func (s *Scheduler) evaluateCadence(reportType, triggerTime string, now time.Time, dayMatch, sendEmpty bool) {
	if !dayMatch {
		return
	}
	if now.Format("15:04") != triggerTime {
		return
	}

	currentDate := now.Format("2006-01-02")
	if s.lastSentDate(reportType) == currentDate {
		return
	}

	log.Printf("[ReportScheduler] Generating %s report", reportType)
	report, err := s.generator.GenerateReport(reportType, true)
	if err != nil {
		log.Printf("[ReportScheduler] Failed to generate %s report: %v", reportType, err)
		return
	}

	// The report is persisted; the cadence is done for today whatever the
	// dispatch outcome.
	s.updateLastSentDate(reportType, currentDate)

	if report.TotalViolations == 0 && !sendEmpty {
		log.Printf("[ReportScheduler] %s report is empty, skipping dispatch", reportType)
		return
	}

	s.dispatch(report)
}

func (s *Scheduler) dispatch(report *models.ViolationReport) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.notifier.Dispatch(ctx, report.Message, "abuse-reports"); err != nil {
		log.Printf("[ReportScheduler] Dispatch failed for report %s: %v", report.ReportUID, err)
		return
	}
	s.generator.MarkSent(report)
}

func (s *Scheduler) lastSentDate(reportType string) string {
	var state models.ReportScheduleState
	if err := s.db.Where("report_type = ?", reportType).First(&state).Error; err != nil {
		return ""
	}
	return state.LastSentDate
}

func (s *Scheduler) updateLastSentDate(reportType, date string) {
	var state models.ReportScheduleState
	err := s.db.Where("report_type = ?", reportType).First(&state).Error
	if err == gorm.ErrRecordNotFound {
		state = models.ReportScheduleState{ReportType: reportType, LastSentDate: date}
		if err := s.db.Create(&state).Error; err != nil {
			log.Printf("[ReportScheduler] Failed to create schedule state for %s: %v", reportType, err)
		}
		return
	}
	if err != nil {
		log.Printf("[ReportScheduler] Failed to load schedule state for %s: %v", reportType, err)
		return
	}
	if err := s.db.Model(&state).Update("last_sent_date", date).Error; err != nil {
		log.Printf("[ReportScheduler] Failed to update schedule state for %s: %v", reportType, err)
	}
}
