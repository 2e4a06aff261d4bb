package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"taskhub/internal/config"
	"taskhub/internal/database"
	"taskhub/internal/handlers"
	"taskhub/internal/jobs"
	"taskhub/internal/logging"
	"taskhub/internal/middleware"
	"taskhub/internal/services"
	"taskhub/internal/taskview"
	"taskhub/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting TaskHub Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Store: %s, Cache TTL: %s)", cfg.Port, cfg.TaskStoreBackend, cfg.TaskCacheTTL)

	checks := map[string]handlers.HealthCheck{}

	// Task store
	var store services.TaskStore
	switch cfg.TaskStoreBackend {
	case config.BackendMongo:
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		defer mongoDB.Close(context.Background())

		if err := mongoDB.Initialize(context.Background()); err != nil {
			log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
		}
		store = services.NewMongoTaskStore(mongoDB)
		checks["mongodb"] = mongoDB.Ping
	default:
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Initialize(); err != nil {
			log.Fatalf("❌ Failed to initialize database: %v", err)
		}
		store = services.NewSQLTaskStore(db)
		checks["database"] = db.PingContext
	}

	// Read path: cache, in-flight dedup, organizer
	var taskService *taskview.Service
	metrics := services.NewMetrics(prometheus.DefaultRegisterer, func() int {
		if taskService == nil {
			return 0
		}
		return taskService.CacheLen()
	})
	taskService = taskview.NewService(store, cfg.TaskCacheTTL, taskview.WithRecorder(metrics))
	sessions := taskview.NewSessions(taskService, cfg.ReaderSessionTTL)
	log.Printf("✅ Task view initialized (cache TTL %s, reader sessions %s)", cfg.TaskCacheTTL, cfg.ReaderSessionTTL)

	// Redis (optional): cross-instance invalidation and job locks
	var redisService *services.RedisService
	var pubsubService *services.PubSubService
	cacheBus := services.NewCacheBus(taskService, nil, metrics)

	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Failed to connect to Redis: %v (invalidations stay local)", err)
			redisService = nil
		} else {
			defer redisService.Close()
			checks["redis"] = redisService.Ping

			pubsubService = services.NewPubSubService(redisService, uuid.NewString())
			cacheBus = services.NewCacheBus(taskService, pubsubService, metrics)
			cacheBus.Listen(pubsubService)
			if err := pubsubService.Start(); err != nil {
				log.Printf("⚠️  Failed to start PubSub: %v", err)
			}
		}
	} else {
		log.Println("⚠️  REDIS_URL not set - cache invalidation is local to this instance")
	}

	// Toasts
	notifiers := services.MultiNotifier{services.NewLogNotifier(nil)}
	var webhookNotifier *services.WebhookNotifier
	if cfg.NotifyWebhookURL != "" {
		webhookNotifier = services.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyRatePerMinute)
		notifiers = append(notifiers, webhookNotifier)
		log.Printf("✅ Webhook notifications enabled (%d/min)", cfg.NotifyRatePerMinute)
	}

	actionService := services.NewTaskActionService(store, notifiers, cacheBus)
	actionService.SetRecorder(metrics)
	exportService := services.NewExportService(notifiers)

	// Background jobs
	var locker jobs.Locker
	if redisService != nil {
		locker = redisService
	}
	jobScheduler, err := jobs.NewJobScheduler(locker)
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobScheduler.Register("cache_prune", cfg.CachePruneInterval, jobs.NewCachePruneJob(taskService)); err != nil {
		log.Fatalf("❌ Failed to register cache prune job: %v", err)
	}
	if err := jobScheduler.Register("overdue_digest", cfg.OverdueDigestInterval, jobs.NewOverdueDigestJob(taskService, notifiers)); err != nil {
		log.Fatalf("❌ Failed to register overdue digest job: %v", err)
	}
	jobScheduler.Start()

	// Auth
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ JWT authentication enabled")
	} else {
		log.Println("⚠️  JWT_SECRET not set - development auth bypass active")
	}

	app := fiber.New(fiber.Config{
		AppName:      "TaskHub v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prom := fiberprometheus.New("taskhub")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.Environment)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Mutations=%d/min, Export=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.MutationMax,
		rateLimitConfig.ExportMax,
	)

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Tenant-ID",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	healthHandler := handlers.NewHealthHandler(checks)
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api",
		middleware.GlobalAPIRateLimiter(rateLimitConfig),
		middleware.LocalAuthMiddleware(jwtAuth, cfg.Environment),
		middleware.ScopeMiddleware(cfg),
	)

	taskHandler := handlers.NewTaskHandler(sessions, actionService, exportService)
	taskHandler.RegisterRoutes(api,
		middleware.MutationRateLimiter(rateLimitConfig),
		middleware.ExportRateLimiter(rateLimitConfig),
	)

	adminHandler := handlers.NewAdminHandler(taskService, sessions, jobScheduler)
	admin := api.Group("/admin", middleware.AdminMiddleware())
	admin.Get("/cache", adminHandler.CacheStatus)
	admin.Get("/jobs", adminHandler.JobStatus)
	admin.Post("/jobs/:name/run", adminHandler.RunJob)

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := jobScheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job scheduler: %v", err)
		}

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping PubSub: %v", err)
			}
		}

		if webhookNotifier != nil {
			webhookNotifier.Close()
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
