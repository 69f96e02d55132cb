package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/callback"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/pipeline"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/providers"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/queue"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/reply"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/resolver"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/statestore"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/validator"
	"github.com/alexberardi/jarvis-ocr-service/internal/ocr/worker"
	"github.com/alexberardi/jarvis-ocr-service/pkg/common"
	"github.com/alexberardi/jarvis-ocr-service/pkg/config"
	"github.com/alexberardi/jarvis-ocr-service/pkg/database"
	"github.com/alexberardi/jarvis-ocr-service/pkg/errors"
	"github.com/alexberardi/jarvis-ocr-service/pkg/eventbus"
	"github.com/alexberardi/jarvis-ocr-service/pkg/health"
	"github.com/alexberardi/jarvis-ocr-service/pkg/httpclient"
	"github.com/alexberardi/jarvis-ocr-service/pkg/logger"
	"github.com/alexberardi/jarvis-ocr-service/pkg/middleware"
	redisClient "github.com/alexberardi/jarvis-ocr-service/pkg/redis"
	"github.com/alexberardi/jarvis-ocr-service/pkg/resilience"
	"github.com/alexberardi/jarvis-ocr-service/pkg/tracing"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	serviceName = "jarvis-ocr-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	defer cfg.Close()

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting ocr worker",
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
	}

	tracerEnabled := os.Getenv("OTEL_ENABLED") == "true"
	if tracerEnabled {
		tracerCfg := tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        true,
		}
		tp, err := tracing.InitTracer(tracerCfg, logger.Get())
		if err != nil {
			logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("failed to shutdown tracer", zap.Error(err))
				}
			}()
		}
	}

	redis, err := redisClient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("connected to redis")

	dbPool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer dbPool.Close()
	logger.Info("connected to postgres")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	s3Client := buildS3Client(rootCtx, cfg)

	q := queue.New(redis)
	stateStore := statestore.New(redis).WithTTL(time.Duration(cfg.Tier.PendingStateTTLSec) * time.Second)
	replyer := reply.NewEmitter(q)

	stateStoreBreaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "ocr-state-store",
		Timeout:          time.Duration(cfg.Resilience.CircuitBreaker.TimeoutSeconds) * time.Second,
		Interval:         time.Duration(cfg.Resilience.CircuitBreaker.IntervalSeconds) * time.Second,
		FailureThreshold: uint32(cfg.Resilience.CircuitBreaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Resilience.CircuitBreaker.SuccessThreshold),
	}, nil)

	validatorBreaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "ocr-validator-enqueue",
		Timeout:          time.Duration(cfg.Resilience.CircuitBreaker.TimeoutSeconds) * time.Second,
		Interval:         time.Duration(cfg.Resilience.CircuitBreaker.IntervalSeconds) * time.Second,
		FailureThreshold: uint32(cfg.Resilience.CircuitBreaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Resilience.CircuitBreaker.SuccessThreshold),
	}, nil)

	validatorClient := validator.NewClient(q, os.Getenv("VALIDATION_CALLBACK_URL"), cfg.Tier.ValidationModel)

	objectStoreBreaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "ocr-object-store",
		Timeout:          time.Duration(cfg.Resilience.CircuitBreaker.TimeoutSeconds) * time.Second,
		Interval:         time.Duration(cfg.Resilience.CircuitBreaker.IntervalSeconds) * time.Second,
		FailureThreshold: uint32(cfg.Resilience.CircuitBreaker.FailureThreshold),
		SuccessThreshold: uint32(cfg.Resilience.CircuitBreaker.SuccessThreshold),
	}, nil)

	registry := buildProviderRegistry(cfg)
	multiResolver := resolver.NewMultiResolver(
		resolver.NewLocalPathResolver(cfg.Tier.LocalImageRoot),
		resolver.NewS3Resolver(s3Client, cfg.ObjectStore.Bucket, objectStoreBreaker),
		resolver.NewMinioResolver(s3Client, cfg.ObjectStore.Bucket, objectStoreBreaker),
		resolver.NewDBResolver(resolver.NewPostgresBlobStore(dbPool)),
	)

	var minConfidence *float64
	if cfg.Tier.MinConfidence != nil {
		minConfidence = cfg.Tier.MinConfidence
	}

	pipelineCfg := pipeline.Config{
		EnabledTiers:  cfg.Tier.EnabledTiers,
		MaxTextBytes:  cfg.Tier.MaxTextBytes,
		MaxAttempts:   cfg.Tier.MaxAttempts,
		MinConfidence: minConfidence,
	}

	driver := pipeline.NewDriver(registry, multiResolver, validatorClient, stateStore, replyer, q, pipelineCfg,
		stateStoreBreaker, validatorBreaker)

	if bus := connectEventBus(); bus != nil {
		defer bus.Close()
		driver.SetEventPublisher(bus)
	}

	pool := worker.NewPool(q, driver, worker.Config{WorkerCount: len(pipelineCfg.EnabledTiers) * 2})
	go pool.Run(rootCtx)

	sweeper := pipeline.NewSweeper(driver, stateStore, time.Duration(cfg.Tier.SweepIntervalSec)*time.Second)
	go sweeper.Run(rootCtx)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(common.NoRouteHandler())
	router.NoMethod(common.NoMethodHandler())
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(time.Duration(cfg.Timeout.DefaultRequestTimeout) * time.Second))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.MaxBodySize(10 << 20))
	router.Use(middleware.SanitizeRequest())
	router.Use(middleware.Metrics())
	if tracerEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}
	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	healthChecks := map[string]func() error{
		"redis":    health.RedisChecker(redis.Client),
		"postgres": health.DatabaseChecker(dbPool),
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))

	deepChecker := health.NewDeepChecker(health.DeepCheckerConfig{
		Version:  version,
		Timeout:  5 * time.Second,
		CacheTTL: 10 * time.Second,
	})
	deepChecker.SetDatabase(dbPool)
	deepChecker.SetRedis(redis.Client)
	deepChecker.AddCircuitBreaker("ocr-state-store", stateStoreBreaker)
	deepChecker.AddCircuitBreaker("ocr-validator-enqueue", validatorBreaker)
	deepChecker.AddCircuitBreaker("ocr-object-store", objectStoreBreaker)
	router.GET("/health/deep", gin.WrapF(deepChecker.Handler()))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	callback.NewHandler(driver).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Stop accepting new jobs first; any job already suspended awaiting a
	// callback relies on the state store's TTL to recover rather than being
	// re-enqueued here, per the in-flight-job-on-shutdown decision in
	// DESIGN.md.
	cancelRoot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("stopped")
}

func buildS3Client(ctx context.Context, cfg *config.Config) *s3.Client {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ObjectStore.Region),
	}
	if cfg.ObjectStore.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Fatal("failed to load aws config", zap.Error(err))
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ObjectStore.Endpoint != "" {
			o.BaseEndpoint = &cfg.ObjectStore.Endpoint
		}
		o.UsePathStyle = cfg.ObjectStore.PathStyle
	})
}

// connectEventBus dials the NATS lifecycle event bus. A connection failure
// is logged and treated as absent rather than fatal: lifecycle events are
// purely observational, never required to process a job.
func connectEventBus() *eventbus.Bus {
	if os.Getenv("NATS_URL") == "" {
		return nil
	}

	ebCfg := eventbus.DefaultConfig()
	ebCfg.URL = os.Getenv("NATS_URL")
	ebCfg.Name = serviceName

	bus, err := eventbus.New(ebCfg)
	if err != nil {
		logger.Warn("failed to connect to NATS event bus, lifecycle events disabled", zap.Error(err))
		return nil
	}
	return bus
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	httpTimeout := config.DefaultHTTPClientTimeoutDuration()

	easyOCRClient := httpclient.NewClient(os.Getenv("EASYOCR_SIDECAR_URL"), httpTimeout)
	paddleOCRClient := httpclient.NewClient(os.Getenv("PADDLEOCR_SIDECAR_URL"), httpTimeout)
	llmLocalClient := httpclient.NewClient(os.Getenv("LLM_LOCAL_URL"), httpTimeout)
	llmCloudClient := httpclient.NewClient(os.Getenv("LLM_CLOUD_URL"), httpTimeout)

	llmLocalBreaker := resilience.NewCircuitBreaker(resilience.Settings{Name: "llm-local-ocr"}, nil)
	llmCloudBreaker := resilience.NewCircuitBreaker(resilience.Settings{Name: "llm-cloud-ocr"}, nil)

	registry := providers.NewRegistry(cfg.Tier.TierConcurrency,
		providers.NewTesseractDriver(os.Getenv("TESSERACT_BINARY_PATH")),
		providers.NewSidecarDriver(providers.TierEasyOCR, easyOCRClient, "/ocr"),
		providers.NewSidecarDriver(providers.TierPaddleOCR, paddleOCRClient, "/ocr"),
		providers.NewAppleVisionDriver(os.Getenv("APPLE_VISION_BINARY_PATH")),
		providers.NewLLMLocalDriver(llmLocalClient, llmLocalBreaker),
		providers.NewLLMCloudDriver(llmCloudClient, llmCloudBreaker),
	)
	return registry.WithTierTimeout(time.Duration(cfg.Tier.TierTimeoutSec) * time.Second)
}
