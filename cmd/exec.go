package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"

	"ticket-scanner/config"
	"ticket-scanner/internal/handlers"
	"ticket-scanner/internal/services"
	_ "ticket-scanner/migrations"
	"ticket-scanner/monitoring"
	"ticket-scanner/security"
	"ticket-scanner/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	// Initialize PubNub (realtime scan feed)
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	// Initialize services
	codec := services.NewPayloadCodec(services.CodecConfig{
		Key: cfg.EncryptionKey,
		IV:  cfg.EncryptionIV,
	})
	store := services.NewPBTicketStore(app)
	tracker := services.NewPBIssuanceTracker(app)
	notify := services.NewNotifyService(pn, cfg.ScanFeedChannel)
	verifyService := services.NewVerificationService(codec, store, notify)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Create context for background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.EnableMetrics {
		go monitoring.NewMonitor(store).Collect(ctx)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// The mail client reads the app settings, so it is built after
		// bootstrap.
		issuanceService := services.NewIssuanceService(store, tracker, codec, app.NewMailClient(), redisClient, cfg)

		scanHandler := handlers.NewScanHandler(app, verifyService)
		adminHandler := handlers.NewAdminHandler(app, store, issuanceService, cfg)
		adminGuard := security.AdminGuard(cfg.AdminPasswordHash)

		// Scanner endpoints
		e.Router.POST("/api/v1/verify-qr", scanHandler.VerifyQR).BindFunc(rateLimiter.ScanRateLimit())
		e.Router.POST("/api/v1/mark-used", scanHandler.MarkUsed).BindFunc(rateLimiter.ScanRateLimit())

		// Admin endpoints
		e.Router.POST("/api/v1/admin/verify", adminHandler.VerifyAdmin)
		e.Router.POST("/api/v1/tickets/upload-raw", adminHandler.UploadRawData).BindFunc(adminGuard)
		e.Router.POST("/api/v1/tickets/upload-sheet", adminHandler.UploadSheet).BindFunc(adminGuard)
		e.Router.POST("/api/v1/admin/generate-and-send", adminHandler.GenerateAndSend).BindFunc(adminGuard)
		e.Router.GET("/api/v1/admin/stats", adminHandler.Stats).BindFunc(adminGuard)

		// Monitoring
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	return app.Start()
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
