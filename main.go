package main

import (
	"context"

	"brokerage-backend/config"
	"brokerage-backend/controllers"
	"brokerage-backend/database"
	"brokerage-backend/idempotency"
	"brokerage-backend/keys"
	"brokerage-backend/logger"
	"brokerage-backend/middlewares"
	"brokerage-backend/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Env)
	defer logger.Sync()
	log := logger.Named("main")

	ctx := context.Background()

	// ---- Database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("database migrate failed", zap.Error(err))
	}

	// ---- Key store: pluggable persistence, rotation on boot if needed
	var persistence keys.Persistence
	switch cfg.KeyBackend {
	case "file":
		persistence = keys.NewFilePersistence(cfg.KeyFilePath)
	default:
		persistence = keys.NewGormPersistence(db)
	}
	keyStore := keys.NewStore(persistence)
	rotator := keys.NewRotationController(keyStore, keys.RotationConfig{
		Algorithm: cfg.KeyAlgorithm,
		Interval:  cfg.RotationInterval,
		Retention: cfg.RotationRetention,
	})
	if err := rotator.Bootstrap(ctx); err != nil {
		log.Fatal("key store bootstrap failed", zap.Error(err))
	}

	// ---- Idempotency layer: pluggable backend + executor + sweeper
	var idemStore idempotency.Store
	switch cfg.IdempotencyBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		idemStore = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
	case "memory":
		idemStore = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	default:
		idemStore = idempotency.NewGormStore(db, cfg.IdempotencyTTL)
	}
	executor := idempotency.NewExecutor(idemStore)
	idempotency.StartSweeper(ctx, idemStore, cfg.SweepInterval)

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    cfg.BodyLimitBytes,
	})

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
	}))

	// ---- Global rate limiter (applies to all routes; tune via env)
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow,
		// Default KeyGenerator = client IP; default 429 handler is fine.
	}))

	// ---- Routes
	routes.Register(app, routes.Deps{
		Auth:     controllers.NewAuthController(db, keyStore),
		Keys:     controllers.NewKeyManagementController(keyStore, rotator),
		Payments: controllers.NewPaymentController(db, executor),
		KeyStore: keyStore,
	})

	// ---- Start
	log.Info("API server starting",
		zap.String("port", cfg.Port),
		zap.String("key_backend", cfg.KeyBackend),
		zap.String("idempotency_backend", cfg.IdempotencyBackend))
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
