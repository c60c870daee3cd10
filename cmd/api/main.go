package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"agrimandi/marketplace-backend/internal/bids"
	"agrimandi/marketplace-backend/internal/config"
	"agrimandi/marketplace-backend/internal/identity"
	"agrimandi/marketplace-backend/internal/listings"
	"agrimandi/marketplace-backend/internal/matching"
	"agrimandi/marketplace-backend/internal/offers"
	"agrimandi/marketplace-backend/internal/propagation"
	"agrimandi/marketplace-backend/internal/propagation/kafkabridge"
	"agrimandi/marketplace-backend/internal/propagation/snsbridge"
	wsbridge "agrimandi/marketplace-backend/internal/propagation/websocket"
	"agrimandi/marketplace-backend/internal/storage"
	"agrimandi/marketplace-backend/pkg/locks"
	"agrimandi/marketplace-backend/pkg/logistics"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load environment and configuration
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Build the backing store. The in-memory mirror always exists: it is
	// the consistency fallback the engine serves from when the primary
	// store is unreachable.
	mirror := storage.NewMemory()

	var primary storage.Backend
	switch cfg.Database.Driver {
	case "memory":
		primary = storage.NewMemory()
		logger.Info("Using in-memory store")
	default:
		db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseDSN()), &gorm.Config{})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		pg := storage.NewPostgres(db)
		if err := pg.Migrate(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		primary = pg
		logger.Info("Connected to database",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName))
	}

	store := storage.NewResilient(primary, mirror, logger)

	// External change-event transport
	var (
		transport propagation.Transport
		wsManager *wsbridge.Manager
	)
	switch cfg.Propagation.Transport {
	case "websocket":
		wsManager = wsbridge.NewManager(logger)
		transport = wsManager
	case "sns":
		pub, err := snsbridge.NewPublisher(context.Background(),
			cfg.Propagation.AWSRegion, cfg.Propagation.SNSTopicARN,
			cfg.Propagation.AWSAccessKey, cfg.Propagation.AWSSecretKey, logger)
		if err != nil {
			logger.Fatal("Failed to create SNS publisher", zap.Error(err))
		}
		transport = pub
	case "kafka":
		transport = kafkabridge.NewPublisher(
			cfg.Propagation.KafkaBrokers, cfg.Propagation.KafkaTopic, logger)
	case "none":
		// in-process subscribers only
	default:
		logger.Fatal("Unknown propagation transport",
			zap.String("transport", cfg.Propagation.Transport))
	}

	bus := propagation.NewBus(transport, cfg.Propagation.SubscriberBuffer, logger)
	defer bus.Close()

	keyed := locks.NewKeyed(cfg.Marketplace.LockWaitTimeout)

	// Wire the marketplace modules
	listingService := listings.NewService(store, bus, keyed, logger)
	bidLedger := bids.NewLedger(store, store, bus, keyed, cfg.Marketplace.BidPriceCeiling, logger)
	offerService := offers.NewService(store, bus, logger)
	coordinator := matching.NewCoordinator(store, store, store, store, bus, keyed, logger)

	listingHandler := listings.NewHandler(listingService, logger)
	bidHandler := bids.NewHandler(bidLedger, logger)
	offerHandler := offers.NewHandler(offerService, logger)
	matchingHandler := matching.NewHandler(coordinator, logger)

	// Setup Router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	api := router.Group("/api/v1")
	api.Use(identity.Middleware())
	api.Use(identity.RateLimit(cfg.Marketplace.RateLimitPerSecond, cfg.Marketplace.RateLimitBurst))
	{
		listingHandler.RegisterRoutes(api)
		bidHandler.RegisterRoutes(api)
		offerHandler.RegisterRoutes(api)
		matchingHandler.RegisterRoutes(api)

		api.POST("/logistics/estimate", estimateRoute)

		api.GET("/changes", func(c *gin.Context) {
			limit := 50
			if raw := c.Query("limit"); raw != "" {
				if v, err := strconv.Atoi(raw); err == nil && v > 0 {
					limit = v
				}
			}
			events, err := store.ListChangeEvents(c.Request.Context(), limit)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"changes": events, "count": len(events)})
		})
	}

	// Real-time subscriptions
	if wsManager != nil {
		router.GET("/ws", func(c *gin.Context) {
			userID := c.GetHeader("X-User-ID")
			if _, err := wsManager.HandleConnection(c.Writer, c.Request, userID); err != nil {
				logger.Warn("websocket upgrade failed", zap.Error(err))
			}
		})
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if store.Degraded() {
			status = "degraded"
		}
		c.JSON(200, gin.H{
			"status":            status,
			"store_degraded":    store.Degraded(),
			"transport_healthy": bus.TransportHealthy(),
			"events_dropped":    bus.Dropped(),
			"timestamp":         time.Now(),
		})
	})

	// Background jobs: re-probe the primary store while degraded, drop
	// stale websocket clients.
	scheduler := cron.New()
	scheduler.AddFunc(cfg.Marketplace.MirrorWarmSchedule, func() {
		if !store.Degraded() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Warm(ctx); err != nil {
			logger.Warn("Primary store still unavailable", zap.Error(err))
		}
	})
	if wsManager != nil {
		scheduler.AddFunc("@every 5m", func() {
			if n := wsManager.SweepStale(30 * time.Minute); n > 0 {
				logger.Info("Swept stale websocket connections", zap.Int("count", n))
			}
		})
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", cfg.Server.GetServerAddr()))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}

type estimateRequest struct {
	From             logistics.Coordinate `json:"from"`
	To               logistics.Coordinate `json:"to"`
	Quantity         float64              `json:"quantity"`
	RatePerQuintalKm float64              `json:"rate_per_quintal_km"`
}

// estimateRoute handles POST /api/v1/logistics/estimate
func estimateRoute(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.From.Valid() || !req.To.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	c.JSON(http.StatusOK, logistics.EstimateRoute(req.From, req.To, req.Quantity, req.RatePerQuintalKm))
}
