package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/tracker"
	"gorm.io/gorm"
)

// EventsHandler ingests connection events from relays and edge nodes.
type EventsHandler struct {
	tracker *tracker.Tracker
}

func NewEventsHandler(tr *tracker.Tracker) *EventsHandler {
	return &EventsHandler{tracker: tr}
}

// ConnectionEvent is one relay-reported observation.
type ConnectionEvent struct {
	Username    string `json:"username"`
	ExternalUID string `json:"external_uid"`
	FullName    string `json:"full_name"`
	DeviceLimit int    `json:"device_limit"`
	IP          string `json:"ip"`
	RelayID     string `json:"relay_id"`
	DeviceInfo  string `json:"device_info"`
	ObservedAt  string `json:"observed_at"` // RFC3339, optional
	Disconnect  bool   `json:"disconnect"`
}

// Ingest accepts a batch of connection events. Malformed entries are skipped,
// never failing the batch; relays fire and forget.
func (h *EventsHandler) Ingest(c *fiber.Ctx) error {
	var events []ConnectionEvent
	if err := c.BodyParser(&events); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	accepted := 0
	skipped := 0
	for i := range events {
		if h.processEvent(&events[i]) {
			accepted++
		} else {
			skipped++
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"accepted": accepted,
			"skipped":  skipped,
		},
	})
}

func (h *EventsHandler) processEvent(ev *ConnectionEvent) bool {
	if ev.Username == "" || ev.IP == "" {
		return false
	}

	observedAt := time.Now().UTC()
	if ev.ObservedAt != "" {
		if ts, err := time.Parse(time.RFC3339, ev.ObservedAt); err == nil {
			observedAt = ts.UTC()
		}
		// Unparseable timestamps fall back to receipt time rather than
		// dropping the event.
	}

	sub := h.upsertSubscriber(ev, observedAt)
	if sub == nil {
		return false
	}

	if ev.Disconnect {
		if err := h.tracker.CloseConnection(sub.ID, ev.IP, observedAt); err != nil {
			return false
		}
		return true
	}

	if _, err := h.tracker.RecordConnection(sub.ID, sub.Username, ev.IP, ev.RelayID, ev.DeviceInfo, observedAt); err != nil {
		return false
	}
	return true
}

// upsertSubscriber keeps the local mirror current from what relays report.
func (h *EventsHandler) upsertSubscriber(ev *ConnectionEvent, seenAt time.Time) *models.Subscriber {
	var sub models.Subscriber
	err := database.DB.Where("username = ?", ev.Username).First(&sub).Error

	if err == gorm.ErrRecordNotFound {
		sub = models.Subscriber{
			Username:    ev.Username,
			ExternalUID: ev.ExternalUID,
			FullName:    ev.FullName,
			Status:      models.SubscriberStatusActive,
			DeviceLimit: ev.DeviceLimit,
			LastSeenAt:  &seenAt,
		}
		if sub.DeviceLimit <= 0 {
			sub.DeviceLimit = 3
		}
		if err := database.DB.Create(&sub).Error; err != nil {
			log.Printf("[Events] Failed to create subscriber %s: %v", ev.Username, err)
			return nil
		}
		return &sub
	}
	if err != nil {
		log.Printf("[Events] Subscriber lookup failed for %s: %v", ev.Username, err)
		return nil
	}

	updates := map[string]interface{}{"last_seen_at": seenAt}
	if ev.ExternalUID != "" && ev.ExternalUID != sub.ExternalUID {
		updates["external_uid"] = ev.ExternalUID
	}
	if ev.FullName != "" && ev.FullName != sub.FullName {
		updates["full_name"] = ev.FullName
	}
	if ev.DeviceLimit > 0 && ev.DeviceLimit != sub.DeviceLimit {
		updates["device_limit"] = ev.DeviceLimit
		database.InvalidateSubscriberCache(sub.Username)
	}
	if err := database.DB.Model(&sub).Updates(updates).Error; err != nil {
		log.Printf("[Events] Failed to update subscriber %s: %v", ev.Username, err)
	}
	return &sub
}
