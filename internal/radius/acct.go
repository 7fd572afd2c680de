package radius

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/tracker"
	"gorm.io/gorm"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
)

// AcctServer is the RADIUS accounting transport. Relays that speak RADIUS
// feed the connection ledger the same way the HTTP ingest endpoint does:
// Start and Interim-Update map to RecordConnection, Stop closes the record.
type AcctServer struct {
	addr    string
	secret  string
	db      *gorm.DB
	tracker *tracker.Tracker
	server  *radius.PacketServer
}

func NewAcctServer(addr, secret string, db *gorm.DB, tr *tracker.Tracker) *AcctServer {
	return &AcctServer{
		addr:    addr,
		secret:  secret,
		db:      db,
		tracker: tr,
	}
}

// Start begins serving accounting packets. Blocks until Stop or failure.
func (s *AcctServer) Start() error {
	s.server = &radius.PacketServer{
		Addr:         s.addr,
		Network:      "udp",
		SecretSource: radius.StaticSecretSource([]byte(s.secret)),
		Handler:      radius.HandlerFunc(s.handleAcct),
	}

	log.Printf("Starting RADIUS acct server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Stop shuts the listener down.
func (s *AcctServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}

func (s *AcctServer) handleAcct(w radius.ResponseWriter, r *radius.Request) {
	username := rfc2865.UserName_GetString(r.Packet)
	acctStatusType := rfc2866.AcctStatusType_Get(r.Packet)
	sessionID := rfc2866.AcctSessionID_GetString(r.Packet)
	framedIP := rfc2865.FramedIPAddress_Get(r.Packet)
	nasID := rfc2865.NASIdentifier_GetString(r.Packet)

	// Acct requests must always be acknowledged, even ones we cannot use,
	// or the NAS retransmits forever.
	defer w.Write(r.Response(radius.CodeAccountingResponse))

	if username == "" {
		return
	}

	ip := ""
	if framedIP != nil && !framedIP.IsUnspecified() {
		ip = framedIP.String()
	}
	if ip == "" {
		log.Printf("Acct request without framed IP: user=%s, session=%s", username, sessionID)
		return
	}

	sub := s.resolveSubscriber(username)
	if sub == nil {
		return
	}

	now := time.Now().UTC()

	switch acctStatusType {
	case rfc2866.AcctStatusType_Value_Start, rfc2866.AcctStatusType_Value_InterimUpdate:
		if _, err := s.tracker.RecordConnection(sub.ID, username, ip, nasID, "", now); err != nil {
			log.Printf("Acct: failed to record connection for %s: %v", username, err)
			return
		}
		s.db.Model(&models.Subscriber{}).Where("id = ?", sub.ID).
			Update("last_seen_at", now)

	case rfc2866.AcctStatusType_Value_Stop:
		if err := s.tracker.CloseConnection(sub.ID, ip, now); err != nil {
			log.Printf("Acct: failed to close connection for %s: %v", username, err)
		}
	}
}

// resolveSubscriber maps a RADIUS username onto the local subscriber mirror,
// creating the row on first sight. The Redis cache keeps interim floods off
// Postgres.
func (s *AcctServer) resolveSubscriber(username string) *database.CachedSubscriber {
	if cached := database.GetCachedSubscriber(username); cached != nil {
		return cached
	}

	var sub models.Subscriber
	err := s.db.Where("username = ?", username).First(&sub).Error
	if err == gorm.ErrRecordNotFound {
		sub = models.Subscriber{
			Username:    username,
			Status:      models.SubscriberStatusActive,
			DeviceLimit: 3,
		}
		if err := s.db.Create(&sub).Error; err != nil {
			log.Printf("Acct: failed to create subscriber %s: %v", username, err)
			return nil
		}
	} else if err != nil {
		log.Printf("Acct: subscriber lookup failed for %s: %v", username, err)
		return nil
	}

	cached := &database.CachedSubscriber{
		ID:          sub.ID,
		Username:    sub.Username,
		Status:      string(sub.Status),
		DeviceLimit: sub.DeviceLimit,
	}
	database.SetCachedSubscriber(cached)
	return cached
}

// Addr returns the listen address, for logging at startup.
func (s *AcctServer) Addr() string {
	return fmt.Sprintf("udp://%s", s.addr)
}
