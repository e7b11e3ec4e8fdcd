package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"memorial-server/memorial-service/internal/assets"
	"memorial-server/memorial-service/internal/config"
	"memorial-server/memorial-service/internal/handler"
	"memorial-server/memorial-service/internal/notify"
	"memorial-server/memorial-service/internal/publish"
	"memorial-server/memorial-service/internal/retry"
	"memorial-server/memorial-service/internal/service"
	"memorial-server/memorial-service/internal/session"
	"memorial-server/memorial-service/internal/uploads"
	"memorial-server/memorial-service/internal/wizard"
	"memorial-server/shared/authutils"
	sharedDatabase "memorial-server/shared/database"
	"memorial-server/shared/interfaces"
	sharedLogger "memorial-server/shared/logger"
	sharedMiddleware "memorial-server/shared/middleware"

	rateli "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sweepInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Memorial Service...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		ServiceName: "memorial-service",
	})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	cfg.LogSummary(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	dbPool, err := sharedDatabase.NewPool(ctx, sharedDatabase.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	if err := sharedDatabase.ApplyMigrations(dbPool, logger); err != nil {
		logger.Fatal("Не удалось применить миграции", zap.Error(err))
	}
	memorialRepo := sharedDatabase.NewPgMemorialRepository(dbPool, logger)
	serviceRepo := sharedDatabase.NewPgServiceRepository(dbPool, logger)
	momentRepo := sharedDatabase.NewPgMomentRepository(dbPool, logger)

	// --- Redis (локальный fallback черновиков) ---
	redisClient, err := setupRedis(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()
	fallback := sharedDatabase.NewRedisFallbackStore(redisClient, cfg.FallbackPrefix, cfg.FallbackTTL, logger)

	// --- Уведомления ---
	hub := notify.NewHub(logger)
	defer hub.Stop()
	notifiers := notify.Multi{notify.NewLogNotifier(logger), hub}
	if cfg.RabbitMQURL != "" {
		rabbitConn, err := connectRabbitMQ(ctx, cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
		}
		defer rabbitConn.Close()
		channel, err := notify.DeclareClientUpdatesQueue(rabbitConn, cfg.ClientUpdatesQueueName)
		if err != nil {
			logger.Fatal("Не удалось объявить очередь client updates", zap.Error(err))
		}
		defer channel.Close()
		rabbitNotifier := notify.NewRabbitNotifier(channel, cfg.ClientUpdatesQueueName, logger)
		go rabbitNotifier.Run(ctx)
		notifiers = append(notifiers, rabbitNotifier)
	}
	var notifier interfaces.Notifier = notifiers

	// --- Хранилище медиа ---
	store, err := setupAssetStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Не удалось инициализировать хранилище медиа", zap.Error(err))
	}
	var limiter *rate.Limiter
	if cfg.UploadRatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.UploadRatePerMin)), cfg.UploadRateBurst)
	}
	assetClient := assets.NewClient(store, assets.ClientConfig{
		UploadAttempts: cfg.UploadAttempts,
		UploadDelay:    cfg.UploadRetryDelay,
		DeleteAttempts: cfg.DeleteAttempts,
		DeleteDelay:    cfg.RetryDelay,
		Timeout:        cfg.NetworkTimeout,
		Limiter:        limiter,
	}, logger)

	// --- Мастер ---
	renderer, err := wizard.NewRenderer()
	if err != nil {
		logger.Fatal("Не удалось разобрать шаблон превью", zap.Error(err))
	}
	previews := uploads.NewPreviewRegistry(cfg.PreviewBaseURL)
	factory := service.NewSessionFactory(service.SessionDeps{
		Memorials: memorialRepo,
		Fallback:  fallback,
		Notifier:  notifier,
		Uploader:  assetClient,
		Previews:  previews,
		Renderer:  renderer,
		Steps:     wizard.DefaultSteps(),
		Limits: assets.Limits{
			MaxImageBytes:       cfg.MaxImageBytes,
			MaxVideoBytes:       cfg.MaxVideoBytes,
			AllowedTypePrefixes: cfg.AllowedMIME,
		},
		MaxBatchFiles:   cfg.MaxUploadFiles,
		MaxPendingBytes: cfg.MaxPendingBytes,
		AssetFolder:     cfg.AssetFolder,
		AutosavePolicy: retry.Policy{
			Attempts: cfg.AutosaveAttempts,
			Delay:    cfg.RetryDelay,
			Timeout:  cfg.NetworkTimeout,
		},
		AutosaveDebounce: cfg.AutosaveDebounce,
		AutosaveTimeout:  cfg.NetworkTimeout,
	}, logger)
	registry := session.NewRegistry(factory, cfg.SessionTTL, logger)
	defer registry.CloseAll()
	go registry.Run(ctx, sweepInterval)

	orchestrator := publish.NewOrchestrator(memorialRepo, serviceRepo, momentRepo, notifier, retry.Policy{
		Attempts:    cfg.PublishAttempts,
		Delay:       cfg.RetryDelay,
		Exponential: true,
		Timeout:     cfg.NetworkTimeout,
	}, logger)
	assetService := service.NewAssetService(momentRepo, registry, assetClient, logger)
	wizardService := service.NewWizardService(registry, orchestrator, assetService, notifier, logger)

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, logger)
	if err != nil {
		logger.Fatal("Не удалось создать JWT верификатор", zap.Error(err))
	}
	var rateLimitMiddleware gin.HandlerFunc
	if cfg.MutationRatePerMin > 0 {
		rateLimitStore := rateli.RedisStore(&rateli.RedisOptions{
			RedisClient: redisClient,
			Rate:        time.Minute,
			Limit:       uint(cfg.MutationRatePerMin),
		})
		rateLimitMiddleware = rateli.RateLimiter(rateLimitStore, &rateli.Options{
			ErrorHandler: func(c *gin.Context, info rateli.Info) {
				logger.Warn("Rate limit exceeded",
					zap.String("clientIP", c.ClientIP()),
					zap.Time("resetTime", info.ResetTime),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusTooManyRequests, handler.APIError{
					Message: "Too many requests. Try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
				})
			},
			KeyFunc: handler.RateLimitKey,
		})
	}
	memorialHandler := handler.NewMemorialHandler(wizardService, assetService, previews, hub, verifier, handler.UploadLimits{
		MaxFileBytes:    cfg.MaxVideoBytes,
		MaxFiles:        cfg.MaxUploadFiles,
		MaxRequestBytes: cfg.MaxRequestBytes,
	}, logger)

	// --- HTTP (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	// Части больше этого размера multipart сбрасывает во временные файлы.
	router.MaxMultipartMemory = 8 << 20
	router.Use(sharedMiddleware.RequestLogger(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", handler.ClientKeyHeader, sharedMiddleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	memorialHandler.RegisterRoutes(router, rateLimitMiddleware)
	// Prometheus middleware подключается после регистрации роутов, /metrics он добавляет сам.
	p.Use(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}
	logger.Info("Memorial Service успешно остановлен")
}

// setupRedis подключается к Redis, повторяя ping пока сервис поднимается.
func setupRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	err := retry.Run(ctx, retry.Policy{
		Attempts: 10,
		Delay:    3 * time.Second,
		Timeout:  5 * time.Second,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			logger.Warn("Redis ping failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		},
	}, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Successfully connected to Redis", zap.String("address", cfg.RedisAddr))
	return client, nil
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(ctx context.Context, url string, logger *zap.Logger) (*amqp.Connection, error) {
	return retry.Do(ctx, retry.Policy{
		Attempts: 5,
		Delay:    5 * time.Second,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			logger.Warn("Не удалось подключиться к RabbitMQ, повтор...", zap.Int("attempt", attempt), zap.Error(err))
		},
	}, func(context.Context) (*amqp.Connection, error) {
		return amqp.Dial(url)
	})
}

func setupAssetStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (assets.Store, error) {
	switch cfg.AssetBackend {
	case "minio":
		store, err := assets.NewMinioStore(ctx, assets.MinioConfig{
			Endpoint:       cfg.MinioEndpoint,
			AccessKey:      cfg.MinioAccessKey,
			SecretKey:      cfg.MinioSecretKey,
			UseSSL:         cfg.MinioUseSSL,
			Bucket:         cfg.MinioBucket,
			PublicURL:      cfg.MinioPublicURL,
			Transformation: cfg.ThumbnailTransformation,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "cloudinary":
		return assets.NewCloudinaryStore(assets.CloudinaryConfig{
			BaseURL:        cfg.CloudinaryBaseURL,
			CloudName:      cfg.CloudinaryCloudName,
			UploadPreset:   cfg.CloudinaryUploadPreset,
			APIKey:         cfg.CloudinaryAPIKey,
			APISecret:      cfg.CloudinaryAPISecret,
			Transformation: cfg.ThumbnailTransformation,
		}, &http.Client{}, logger), nil
	}
	return nil, fmt.Errorf("unknown asset backend %q", cfg.AssetBackend)
}
