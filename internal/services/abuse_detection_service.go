package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/geoip"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/notify"
	"github.com/proxguard/backend/internal/tracker"
	"github.com/proxguard/backend/internal/violations"
	"gorm.io/gorm"
)

// impossibleTravelSpeedKmh is the ground-speed ceiling above which two
// connection origins cannot belong to the same person.
const impossibleTravelSpeedKmh = 900.0

// AbuseDetectionService periodically scans recently active subscribers and
// produces violation records for account-sharing and proxy-abuse patterns.
type AbuseDetectionService struct {
	db       *gorm.DB
	tracker  *tracker.Tracker
	resolver *geoip.Resolver
	store    *violations.Store
	notifier notify.Notifier

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	lastScan time.Time
}

func NewAbuseDetectionService(db *gorm.DB, tr *tracker.Tracker, resolver *geoip.Resolver, store *violations.Store, notifier notify.Notifier) *AbuseDetectionService {
	return &AbuseDetectionService{
		db:       db,
		tracker:  tr,
		resolver: resolver,
		store:    store,
		notifier: notifier,
		stopChan: make(chan struct{}),
	}
}

// Start begins the detection service
func (s *AbuseDetectionService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	log.Println("[AbuseDetection] Service started")
}

// Stop stops the detection service
func (s *AbuseDetectionService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	log.Println("[AbuseDetection] Service stopped")
}

func (s *AbuseDetectionService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			settings := s.getSettings()
			if !settings.Enabled {
				continue
			}
			interval := time.Duration(settings.ScanIntervalMinutes) * time.Minute
			if time.Since(s.lastScan) < interval {
				continue
			}
			s.lastScan = time.Now()
			saved := s.runScan(settings)

			if deleted := s.store.CleanupOldRecords(settings.RetentionDays); deleted > 0 {
				log.Printf("[AbuseDetection] Cleaned up %d old records", deleted)
			}
			s.recordRun("ok", "", saved)
		}
	}
}

// getSettings retrieves detection settings, falling back to defaults.
func (s *AbuseDetectionService) getSettings() models.DetectionSetting {
	var settings models.DetectionSetting
	if err := database.CacheGet(database.CacheKeyDetectionSettings, &settings); err == nil {
		return settings
	}
	if err := s.db.First(&settings).Error; err != nil {
		return models.DetectionSetting{
			Enabled:             true,
			ScanIntervalMinutes: 5,
			WindowMinutes:       60,
			MinScore:            30,
			RetentionDays:       90,
			NotifyOnCritical:    true,
		}
	}
	database.CacheSet(database.CacheKeyDetectionSettings, settings, database.CacheTTLSettings)
	return settings
}

// RunManualScan performs an immediate scan and returns the number of
// violations saved.
func (s *AbuseDetectionService) RunManualScan() (int, error) {
	settings := s.getSettings()
	return s.runScan(settings), nil
}

// runScan analyzes every subscriber with connection activity inside the
// window and persists violations at or above the minimum score.
func (s *AbuseDetectionService) runScan(settings models.DetectionSetting) int {
	startTime := time.Now()
	cutoff := time.Now().UTC().Add(-time.Duration(settings.WindowMinutes) * time.Minute)

	var subscriberIDs []uint
	err := s.db.Model(&models.ConnectionRecord{}).
		Where("connected_at > ?", cutoff).
		Distinct("subscriber_id").
		Pluck("subscriber_id", &subscriberIDs).Error
	if err != nil {
		log.Printf("[AbuseDetection] Failed to list active subscribers: %v", err)
		s.recordRun("error", err.Error(), 0)
		return 0
	}
	if len(subscriberIDs) == 0 {
		return 0
	}

	var subscribers []models.Subscriber
	if err := s.db.Where("id IN ?", subscriberIDs).Find(&subscribers).Error; err != nil {
		log.Printf("[AbuseDetection] Failed to load subscribers: %v", err)
		s.recordRun("error", err.Error(), 0)
		return 0
	}

	log.Printf("[AbuseDetection] Scanning %d active subscribers", len(subscribers))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	saved := 0
	for i := range subscribers {
		violation := s.analyze(ctx, &subscribers[i], settings)
		if violation == nil || violation.Score < settings.MinScore {
			continue
		}
		if err := s.store.SaveViolation(violation); err != nil {
			log.Printf("[AbuseDetection] Failed to save violation for %s: %v", violation.Username, err)
			continue
		}
		saved++

		if settings.NotifyOnCritical && violation.Score >= models.ScoreBandCritical {
			s.notifyCritical(ctx, violation)
		}
	}

	if saved > 0 {
		database.InvalidateStatsCache()
	}

	log.Printf("[AbuseDetection] Scan completed in %v. Saved %d violation(s)",
		time.Since(startTime), saved)
	return saved
}

func (s *AbuseDetectionService) notifyCritical(ctx context.Context, v *models.ViolationRecord) {
	if s.notifier == nil {
		return
	}
	text := fmt.Sprintf("Critical abuse detected: %s scored %.0f (%s). IPs: %s, countries: %s",
		v.Username, v.Score, v.RecommendedAction, v.IPs, v.Countries)
	if err := s.notifier.Dispatch(ctx, text, "abuse-alerts"); err != nil {
		log.Printf("[AbuseDetection] Alert dispatch failed for %s: %v", v.Username, err)
		return
	}
	if err := s.store.MarkViolationNotified(v.ID); err != nil {
		log.Printf("[AbuseDetection] Failed to mark violation %d notified: %v", v.ID, err)
	}
}

// analyze builds a violation record for one subscriber, or nil when the
// activity cannot constitute abuse.
func (s *AbuseDetectionService) analyze(ctx context.Context, sub *models.Subscriber, settings models.DetectionSetting) *models.ViolationRecord {
	ips, err := s.tracker.GetUniqueIPsInWindow(sub.ID, settings.WindowMinutes)
	if err != nil {
		log.Printf("[AbuseDetection] IP window query failed for %s: %v", sub.Username, err)
		return nil
	}
	if len(ips) < 2 {
		return nil
	}

	simultaneous, err := s.tracker.GetSimultaneousConnections(sub.ID)
	if err != nil {
		log.Printf("[AbuseDetection] Simultaneous count failed for %s: %v", sub.Username, err)
		simultaneous = 0
	}

	history, err := s.tracker.GetConnectionHistory(sub.ID, 1, 500)
	if err != nil {
		history = nil
	}

	metas := s.resolver.LookupBatch(ctx, ips)

	countries := stringSet{}
	cities := stringSet{}
	asnTypes := stringSet{}
	var isVPN, isDatacenter, isMobile bool
	for _, meta := range metas {
		if meta.Country != "" {
			countries.add(meta.Country)
		}
		if meta.City != "" {
			cities.add(meta.City)
		}
		if meta.ConnectionType != "" {
			asnTypes.add(meta.ConnectionType)
		}
		switch meta.ConnectionType {
		case models.ConnectionTypeVPN:
			isVPN = true
		case models.ConnectionTypeDatacenter:
			isDatacenter = true
		case models.ConnectionTypeMobile:
			isMobile = true
		}
	}

	impossibleTravel := detectImpossibleTravel(history, metas)
	osSet, clientSet := parseDeviceInfo(history)

	prior, err := s.store.GetUserViolations(sub.ID, 30, 50)
	if err != nil {
		prior = nil
	}

	deviceLimit := sub.DeviceLimit
	if deviceLimit <= 0 {
		deviceLimit = 3
	}

	var reasons []string

	temporal := scoreTemporal(len(ips), simultaneous, deviceLimit, &reasons)
	geo := scoreGeo(countries.len(), impossibleTravel, &reasons)
	asn := scoreASN(isVPN, isDatacenter, isMobile, countries.len(), &reasons)
	profile := scoreProfile(len(prior), &reasons)
	device := scoreDevice(osSet.len(), clientSet.len(), &reasons)

	total := temporal + geo + asn + profile + device
	if total > 100 {
		total = 100
	}

	components := 0
	for _, c := range []float64{temporal, geo, asn, profile, device} {
		if c > 0 {
			components++
		}
	}
	confidence := math.Min(100, float64(components)*20+float64(total)/5)

	return &models.ViolationRecord{
		SubscriberID:            sub.ID,
		Username:                sub.Username,
		FullName:                sub.FullName,
		Score:                   total,
		RecommendedAction:       actionForScore(total),
		Confidence:              &confidence,
		ScoreTemporal:           temporal,
		ScoreGeo:                geo,
		ScoreASN:                asn,
		ScoreProfile:            profile,
		ScoreDevice:             device,
		IPs:                     marshalStrings(ips),
		Countries:               countries.json(),
		Cities:                  cities.json(),
		ASNTypes:                asnTypes.json(),
		OSList:                  osSet.json(),
		ClientList:              clientSet.json(),
		Reasons:                 marshalStrings(reasons),
		SimultaneousConnections: simultaneous,
		UniqueIPCount:           len(ips),
		DeviceLimit:             deviceLimit,
		ImpossibleTravel:        impossibleTravel,
		IsMobile:                isMobile,
		IsDatacenter:            isDatacenter,
		IsVPN:                   isVPN,
		DetectedAt:              time.Now().UTC(),
	}
}

// actionForScore maps a score into the recommended action bands.
func actionForScore(score float64) string {
	switch {
	case score >= models.ScoreBandCritical:
		return models.ActionRestrict
	case score >= models.ScoreBandWarning:
		return models.ActionInvestigate
	case score >= models.ScoreBandMonitor:
		return models.ActionMonitor
	default:
		return models.ActionNone
	}
}

// scoreTemporal grades unique IP count against the device limit (0-35).
func scoreTemporal(uniqueIPs, simultaneous, deviceLimit int, reasons *[]string) float64 {
	score := 0.0
	excess := uniqueIPs - deviceLimit
	switch {
	case excess >= 3:
		score = 35
	case excess == 2:
		score = 28
	case excess == 1:
		score = 20
	case uniqueIPs >= 2:
		score = 8
	}
	if excess > 0 {
		*reasons = append(*reasons, fmt.Sprintf("%d unique IPs exceed device limit of %d", uniqueIPs, deviceLimit))
	}
	if simultaneous > deviceLimit {
		score += 7
		*reasons = append(*reasons, fmt.Sprintf("%d simultaneous connections over limit", simultaneous))
	}
	if score > 35 {
		score = 35
	}
	return score
}

// scoreGeo grades geographic spread (0-30).
func scoreGeo(countryCount int, impossibleTravel bool, reasons *[]string) float64 {
	score := 0.0
	switch {
	case countryCount >= 3:
		score = 25
		*reasons = append(*reasons, fmt.Sprintf("Connections from %d countries", countryCount))
	case countryCount == 2:
		score = 15
		*reasons = append(*reasons, "Connections from 2 countries")
	}
	if impossibleTravel {
		score += 10
		*reasons = append(*reasons, "Impossible travel between connection origins")
	}
	if score > 30 {
		score = 30
	}
	return score
}

// scoreASN grades the network provider mix (0-25).
func scoreASN(isVPN, isDatacenter, isMobile bool, countryCount int, reasons *[]string) float64 {
	switch {
	case isVPN:
		*reasons = append(*reasons, "Connections via commercial VPN")
		return 25
	case isDatacenter:
		*reasons = append(*reasons, "Connections via datacenter/hosting network")
		return 20
	case isMobile && countryCount > 1:
		*reasons = append(*reasons, "Mobile network spread across countries")
		return 5
	}
	return 0
}

// scoreProfile grades prior violation history (0-10).
func scoreProfile(priorCount int, reasons *[]string) float64 {
	switch {
	case priorCount >= 3:
		*reasons = append(*reasons, fmt.Sprintf("%d prior violations in 30 days", priorCount))
		return 10
	case priorCount >= 1:
		*reasons = append(*reasons, fmt.Sprintf("%d prior violation(s) in 30 days", priorCount))
		return 5
	}
	return 0
}

// scoreDevice grades OS/client diversity from device info (0-15).
func scoreDevice(osCount, clientCount int, reasons *[]string) float64 {
	score := 0.0
	switch {
	case osCount >= 3:
		score = 10
		*reasons = append(*reasons, fmt.Sprintf("%d different operating systems", osCount))
	case osCount == 2:
		score = 5
		*reasons = append(*reasons, "2 different operating systems")
	}
	if clientCount >= 3 {
		score += 5
		*reasons = append(*reasons, fmt.Sprintf("%d different client applications", clientCount))
	}
	if score > 15 {
		score = 15
	}
	return score
}

// detectImpossibleTravel orders the window's connections by time and checks
// whether any consecutive pair implies a ground speed above the ceiling.
func detectImpossibleTravel(history []models.ConnectionRecord, metas map[string]*models.IPMetadata) bool {
	type point struct {
		at       time.Time
		lat, lon float64
	}
	var points []point
	for i := range history {
		meta := metas[history[i].IPAddress]
		if meta == nil || (meta.Latitude == 0 && meta.Longitude == 0) {
			continue
		}
		points = append(points, point{at: history[i].ConnectedAt, lat: meta.Latitude, lon: meta.Longitude})
	}
	if len(points) < 2 {
		return false
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })

	for i := 1; i < len(points); i++ {
		dist := haversineKm(points[i-1].lat, points[i-1].lon, points[i].lat, points[i].lon)
		if dist < 100 {
			continue
		}
		hours := points[i].at.Sub(points[i-1].at).Hours()
		if hours <= 0 {
			hours = 1.0 / 3600 // same-second events, treat as one second apart
		}
		if dist/hours > impossibleTravelSpeedKmh {
			return true
		}
	}
	return false
}

// haversineKm returns the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// deviceInfo is the JSON blob relays attach to connection events.
type deviceInfo struct {
	OS     string `json:"os"`
	Client string `json:"client"`
}

func parseDeviceInfo(history []models.ConnectionRecord) (stringSet, stringSet) {
	osSet := stringSet{}
	clientSet := stringSet{}
	for i := range history {
		raw := history[i].DeviceInfo
		if raw == "" {
			continue
		}
		var info deviceInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			continue
		}
		if info.OS != "" {
			osSet.add(info.OS)
		}
		if info.Client != "" {
			clientSet.add(info.Client)
		}
	}
	return osSet, clientSet
}

func (s *AbuseDetectionService) recordRun(status, errMsg string, items int) {
	now := time.Now().UTC()
	var row models.SyncStatus
	err := s.db.Where("subsystem = ?", "abuse_detection").First(&row).Error
	if err != nil {
		s.db.Create(&models.SyncStatus{
			Subsystem: "abuse_detection", LastRunAt: &now,
			LastStatus: status, LastError: errMsg, ItemsProcessed: items,
		})
		return
	}
	s.db.Model(&row).Updates(map[string]interface{}{
		"last_run_at": now, "last_status": status,
		"last_error": errMsg, "items_processed": items,
	})
}

// stringSet is a tiny ordered-insert set used for signal lists.
type stringSet map[string]struct{}

func (s stringSet) add(v string) { s[v] = struct{}{} }
func (s stringSet) len() int     { return len(s) }
func (s stringSet) values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
func (s stringSet) json() string { return marshalStrings(s.values()) }

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}
