package services

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/proxguard/backend/internal/config"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/models"
)

// ReportArchivalService uploads rendered report bodies to an FTP server for
// long-term retention. Disabled unless REPORT_FTP_HOST is configured. The
// last-uploaded watermark lives in a sync_statuses row so restarts do not
// re-upload the whole table.
type ReportArchivalService struct {
	cfg      *config.Config
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewReportArchivalService(cfg *config.Config) *ReportArchivalService {
	return &ReportArchivalService{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start begins the archival loop. No-op when FTP is not configured.
func (s *ReportArchivalService) Start() {
	if s.cfg.ReportFTPHost == "" {
		log.Println("[ReportArchival] FTP not configured, archival disabled")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Println("[ReportArchival] Service started")
}

// Stop stops the archival loop
func (s *ReportArchivalService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("[ReportArchival] Service stopped")
}

func (s *ReportArchivalService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.archivePending()
		}
	}
}

func (s *ReportArchivalService) archivePending() {
	since := s.watermark()

	var reports []models.ViolationReport
	err := database.DB.Where("generated_at > ?", since).
		Order("generated_at ASC").
		Limit(50).
		Find(&reports).Error
	if err != nil {
		log.Printf("[ReportArchival] Failed to load pending reports: %v", err)
		return
	}
	if len(reports) == 0 {
		return
	}

	conn, err := s.dial()
	if err != nil {
		log.Printf("[ReportArchival] %v", err)
		s.recordRun("error", err.Error(), 0)
		return
	}
	defer conn.Quit()

	uploaded := 0
	last := since
	for i := range reports {
		report := &reports[i]
		filename := fmt.Sprintf("report_%s_%s_%s.txt",
			report.ReportType,
			report.GeneratedAt.Format("20060102-1504"),
			report.ReportUID[:8])
		if err := conn.Stor(filename, strings.NewReader(report.Message)); err != nil {
			log.Printf("[ReportArchival] Upload of %s failed: %v", filename, err)
			break
		}
		uploaded++
		last = report.GeneratedAt
	}

	if uploaded > 0 {
		log.Printf("[ReportArchival] Uploaded %d report(s) to %s", uploaded, s.cfg.ReportFTPHost)
	}
	s.recordRun("ok", "", uploaded)
	s.setWatermark(last)
}

// dial connects, logs in and changes to the archive directory, creating it
// when missing.
func (s *ReportArchivalService) dial() (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.cfg.ReportFTPHost, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("FTP connection failed: %v", err)
	}

	if err := conn.Login(s.cfg.ReportFTPUser, s.cfg.ReportFTPPass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("FTP login failed: %v", err)
	}

	dir := s.cfg.ReportFTPDir
	if dir != "" && dir != "/" {
		if err := conn.ChangeDir(dir); err != nil {
			conn.MakeDir(dir)
			if err := conn.ChangeDir(dir); err != nil {
				conn.Quit()
				return nil, fmt.Errorf("FTP directory change failed: %v", err)
			}
		}
	}
	return conn, nil
}

const archivalWatermarkKey = "report_archival_watermark"

func (s *ReportArchivalService) watermark() time.Time {
	var pref models.SystemPreference
	if err := database.DB.Where("key = ?", archivalWatermarkKey).First(&pref).Error; err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, pref.Value); err == nil {
			return ts
		}
	}
	return time.Now().UTC().AddDate(0, 0, -7)
}

func (s *ReportArchivalService) setWatermark(ts time.Time) {
	value := ts.UTC().Format(time.RFC3339Nano)
	var pref models.SystemPreference
	err := database.DB.Where("key = ?", archivalWatermarkKey).First(&pref).Error
	if err != nil {
		database.DB.Create(&models.SystemPreference{
			Key: archivalWatermarkKey, Value: value, ValueType: "string",
		})
		return
	}
	database.DB.Model(&pref).Update("value", value)
}

func (s *ReportArchivalService) recordRun(status, errMsg string, items int) {
	now := time.Now().UTC()
	var row models.SyncStatus
	err := database.DB.Where("subsystem = ?", "report_archival").First(&row).Error
	if err != nil {
		database.DB.Create(&models.SyncStatus{
			Subsystem: "report_archival", LastRunAt: &now,
			LastStatus: status, LastError: errMsg, ItemsProcessed: items,
		})
		return
	}
	database.DB.Model(&row).Updates(map[string]interface{}{
		"last_run_at": now, "last_status": status,
		"last_error": errMsg, "items_processed": items,
	})
}
