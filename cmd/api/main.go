package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/proxguard/backend/internal/config"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/geoip"
	"github.com/proxguard/backend/internal/handlers"
	"github.com/proxguard/backend/internal/middleware"
	"github.com/proxguard/backend/internal/models"
	"github.com/proxguard/backend/internal/notify"
	"github.com/proxguard/backend/internal/radius"
	"github.com/proxguard/backend/internal/reports"
	"github.com/proxguard/backend/internal/services"
	"github.com/proxguard/backend/internal/tracker"
	"github.com/proxguard/backend/internal/violations"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Persist the JWT secret so sessions survive restarts
	cfg.JWTSecret = database.EnsureJWTSecret(cfg)

	// Seed default settings and classifier rules on first boot
	seedDefaults()

	// Preload recently active subscribers into Redis
	database.WarmupSubscriberCache()

	// Core components
	connTracker := tracker.New(database.DB)
	classifier := geoip.NewClassifier(database.DB)

	mmdb := geoip.OpenMMDB(cfg.GeoIPCityDB, cfg.GeoIPASNDB)
	if mmdb != nil {
		defer mmdb.Close()
	}

	providerInterval := time.Duration(cfg.GeoIPProviderIntervalMs) * time.Millisecond
	provider := geoip.NewRemoteProvider(cfg.GeoIPProviderURL)
	gate := geoip.NewGate(providerInterval, func() bool {
		return database.AcquireLease(database.CacheKeyGeoIPGate, providerInterval)
	})
	resolver := geoip.NewResolver(database.DB, classifier, mmdb, provider, gate)

	violationStore := violations.NewStore(database.DB)
	generator := reports.NewGenerator(database.DB, violationStore)
	notifier := notify.NewWebhookNotifier(cfg.WebhookURL)

	// Background services
	detectionService := services.NewAbuseDetectionService(database.DB, connTracker, resolver, violationStore, notifier)
	detectionService.Start()

	scheduler := reports.NewScheduler(database.DB, generator, notifier)
	scheduler.Start()

	cleanupService := services.NewStaleConnectionCleanupService(1440)
	cleanupService.Start()

	archivalService := services.NewReportArchivalService(cfg)
	archivalService.Start()

	// RADIUS accounting listener
	acctServer := radius.NewAcctServer(fmt.Sprintf(":%d", cfg.RadiusAcctPort), cfg.RadiusSecret, database.DB, connTracker)
	go func() {
		if err := acctServer.Start(); err != nil {
			log.Printf("[RADIUS] Accounting server stopped: %v", err)
		}
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "ProxGuard API v1.0",
		ServerHeader: "ProxGuard",
		BodyLimit:    10 * 1024 * 1024, // 10MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "proxguard-api",
		})
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler()
	eventsHandler := handlers.NewEventsHandler(connTracker)
	connectionsHandler := handlers.NewConnectionsHandler(connTracker)
	violationsHandler := handlers.NewViolationsHandler(violationStore, detectionService)
	reportsHandler := handlers.NewReportsHandler(generator)
	geoipHandler := handlers.NewGeoIPHandler(resolver, classifier)
	settingsHandler := handlers.NewSettingsHandler()

	// API routes
	api := app.Group("/api")
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	// Event ingest from relay collectors (shared-secret via RADIUS path is
	// preferred; this HTTP path also requires a valid token)
	protected := api.Group("", middleware.AuthRequired(cfg))

	protected.Post("/events", eventsHandler.Ingest)

	// Auth routes
	protected.Get("/auth/me", authHandler.Me)
	protected.Post("/auth/logout", authHandler.Logout)

	// Connection routes
	connections := protected.Group("/connections")
	connections.Get("/active/:id", connectionsHandler.Active)
	connections.Get("/history/:id", connectionsHandler.History)
	connections.Get("/unique-ips/:id", connectionsHandler.UniqueIPs)

	// Violation routes
	viol := protected.Group("/violations")
	viol.Get("/", violationsHandler.List)
	viol.Get("/stats", violationsHandler.Stats)
	viol.Get("/top", violationsHandler.Top)
	viol.Get("/breakdown/:dimension", violationsHandler.Breakdown)
	viol.Get("/user/:id", violationsHandler.UserViolations)
	viol.Put("/:id/action", middleware.AnalystOrAdmin(), violationsHandler.UpdateAction)
	viol.Post("/:id/notified", middleware.AnalystOrAdmin(), violationsHandler.MarkNotified)
	viol.Post("/scan", middleware.AnalystOrAdmin(), violationsHandler.Scan)

	// Report routes
	reportRoutes := protected.Group("/reports")
	reportRoutes.Get("/", reportsHandler.List)
	reportRoutes.Get("/custom", reportsHandler.Custom)
	reportRoutes.Get("/:uid", reportsHandler.Get)
	reportRoutes.Post("/generate", middleware.AnalystOrAdmin(), reportsHandler.Generate)

	// GeoIP routes
	geo := protected.Group("/geoip")
	geo.Get("/lookup/:ip", geoipHandler.Lookup)
	geo.Post("/lookup", geoipHandler.LookupBatch)
	geo.Get("/overrides", geoipHandler.ListOverrides)
	geo.Post("/overrides", middleware.AdminOnly(), geoipHandler.CreateOverride)
	geo.Put("/overrides/:id", middleware.AdminOnly(), geoipHandler.UpdateOverride)
	geo.Delete("/overrides/:id", middleware.AdminOnly(), geoipHandler.DeleteOverride)
	geo.Get("/rules", geoipHandler.ListRules)
	geo.Post("/rules", middleware.AdminOnly(), geoipHandler.CreateRule)
	geo.Delete("/rules/:id", middleware.AdminOnly(), geoipHandler.DeleteRule)

	// Settings routes (Admin only)
	settings := protected.Group("/settings", middleware.AdminOnly())
	settings.Get("/detection", settingsHandler.GetDetection)
	settings.Put("/detection", settingsHandler.UpdateDetection)
	settings.Get("/reports", settingsHandler.GetReports)
	settings.Put("/reports", settingsHandler.UpdateReports)
	settings.Get("/status", settingsHandler.Status)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		detectionService.Stop()
		scheduler.Stop()
		cleanupService.Stop()
		archivalService.Stop()
		acctServer.Stop()
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting ProxGuard API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func seedDefaults() {
	var count int64

	database.DB.Model(&models.ClassifierRule{}).Count(&count)
	if count == 0 {
		log.Println("Seeding default classifier rules...")
		for _, rule := range geoip.DefaultRules() {
			if err := database.DB.Create(&rule).Error; err != nil {
				log.Printf("Failed to seed classifier rule %q: %v", rule.Pattern, err)
			}
		}
	}

	database.DB.Model(&models.DetectionSetting{}).Count(&count)
	if count == 0 {
		settings := models.DetectionSetting{
			Enabled:             true,
			ScanIntervalMinutes: 5,
			WindowMinutes:       60,
			MinScore:            30,
			RetentionDays:       90,
			NotifyOnCritical:    true,
		}
		if err := database.DB.Create(&settings).Error; err != nil {
			log.Printf("Failed to seed detection settings: %v", err)
		}
	}

	database.DB.Model(&models.ReportSetting{}).Count(&count)
	if count == 0 {
		settings := models.ReportSetting{
			Enabled:        true,
			DailyEnabled:   true,
			DailyTime:      "09:00",
			WeeklyEnabled:  true,
			WeeklyDay:      1,
			WeeklyTime:     "09:00",
			MonthlyEnabled: true,
			MonthlyDay:     1,
			MonthlyTime:    "09:00",
			MinScore:       30,
			SendEmpty:      false,
			TopLimit:       10,
		}
		if err := database.DB.Create(&settings).Error; err != nil {
			log.Printf("Failed to seed report settings: %v", err)
		}
	}
}
