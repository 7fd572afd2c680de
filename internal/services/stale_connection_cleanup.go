package services

import (
	"log"
	"sync"
	"time"

	"github.com/proxguard/backend/internal/database"
)

// StaleConnectionCleanupService periodically closes open connection records
// that have had no event for a configured threshold period. This prevents
// ghost rows from accumulating when a relay never sends a stop event, which
// would otherwise inflate the simultaneous connection count forever.
type StaleConnectionCleanupService struct {
	staleThreshold time.Duration // How old before an open record is considered stale
	checkInterval  time.Duration // How often to check
	stopChan       chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	isRunning      bool
}

// NewStaleConnectionCleanupService creates a new stale connection cleanup service
func NewStaleConnectionCleanupService(staleMinutes int) *StaleConnectionCleanupService {
	if staleMinutes <= 0 {
		staleMinutes = 1440 // Default: 24 hours without any event = stale
	}
	return &StaleConnectionCleanupService{
		staleThreshold: time.Duration(staleMinutes) * time.Minute,
		checkInterval:  15 * time.Minute,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the cleanup service
func (s *StaleConnectionCleanupService) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Printf("StaleConnectionCleanup: started (threshold: %v, interval: %v)",
		s.staleThreshold, s.checkInterval)
}

// Stop stops the cleanup service
func (s *StaleConnectionCleanupService) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("StaleConnectionCleanup: stopped")
}

func (s *StaleConnectionCleanupService) run() {
	defer s.wg.Done()

	// Run first cleanup after a short delay (let system stabilize)
	select {
	case <-time.After(2 * time.Minute):
		s.cleanup()
	case <-s.stopChan:
		return
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *StaleConnectionCleanupService) cleanup() {
	if database.DB == nil {
		return
	}

	thresholdTime := time.Now().UTC().Add(-s.staleThreshold)

	result := database.DB.Exec(`
		UPDATE connection_records
		SET disconnected_at = NOW()
		WHERE disconnected_at IS NULL
		AND connected_at < ?
	`, thresholdTime)

	if result.Error != nil {
		log.Printf("StaleConnectionCleanup: Error closing stale connections: %v", result.Error)
		return
	}

	if result.RowsAffected > 0 {
		log.Printf("StaleConnectionCleanup: Closed %d stale connections (no event since %v)",
			result.RowsAffected, thresholdTime)
	}
}
