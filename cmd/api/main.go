package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hjunqq/hydrosim-platform/internal/api"
	"github.com/hjunqq/hydrosim-platform/internal/build"
	"github.com/hjunqq/hydrosim-platform/internal/cache"
	"github.com/hjunqq/hydrosim-platform/internal/config"
	"github.com/hjunqq/hydrosim-platform/internal/db"
	"github.com/hjunqq/hydrosim-platform/internal/deploy"
	"github.com/hjunqq/hydrosim-platform/internal/ingress"
	"github.com/hjunqq/hydrosim-platform/internal/k8s"
	"github.com/hjunqq/hydrosim-platform/internal/settings"
	"github.com/hjunqq/hydrosim-platform/internal/status"
	"github.com/hjunqq/hydrosim-platform/internal/storage"
	"github.com/hjunqq/hydrosim-platform/internal/webhook"
	"k8s.io/client-go/kubernetes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration:", err)
	}

	logger := logrus.StandardLogger()
	logger.SetLevel(cfg.LogLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logrus.Fatal("Failed to run database migrations:", err)
	}

	repos := db.NewRepositories(database)
	settingsResolver := settings.NewResolver(repos.Settings)

	// The cluster client is required for deploys and builds; status-only
	// operation without it is not supported.
	cluster, err := k8s.NewClient(cfg.KubeConfig, cfg.KubeInCluster)
	if err != nil {
		logrus.Fatal("Failed to initialize Kubernetes client:", err)
	}
	var clientset kubernetes.Interface = cluster.Clientset

	var storageClient *storage.Client
	if cfg.MinioEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		storageClient, err = storage.NewClient(ctx, &storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioSecure,
		})
		if err != nil {
			logger.WithError(err).Warn("Object storage unavailable, build log archiving disabled")
			storageClient = nil
		} else if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure log bucket, build log archiving disabled")
			storageClient = nil
		}
		cancel()
	} else {
		logger.Info("Object storage not configured, build log archiving disabled")
	}

	var statusCache status.Cache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewStatusCache(cfg.RedisAddr, cfg.RedisPassword, logger)
		if err := redisCache.Ping(context.Background()); err != nil {
			logger.WithError(err).Warn("Redis unavailable, bulk status caching disabled")
		} else {
			statusCache = redisCache
		}
	}

	controller := deploy.NewController(
		clientset,
		repos.Deployments,
		repos.Students,
		settingsResolver,
		deploy.WorkloadOptions{
			PVC: k8s.PVCOptions{
				Enabled:      cfg.StudentPVCEnabled,
				Size:         cfg.StudentPVCSize,
				StorageClass: cfg.StudentPVCStorageClass,
				MountPath:    cfg.StudentPVCMountPath,
			},
			TLSSecretName: cfg.StudentTLSSecretName,
		},
		logger,
	)

	var logStore build.LogStore
	if storageClient != nil {
		logStore = storageClient
	}

	orchestrator := build.NewOrchestrator(
		clientset,
		repos.Builds,
		repos.BuildConfigs,
		repos.Students,
		repos.Registries,
		repos.Deployments,
		settingsResolver,
		controller,
		logStore,
		build.RewriteFromGiteaURL(cfg.GiteaURL, cfg.GiteaSSHInternalHost, cfg.GiteaSSHInternalPort),
		logger,
	)

	aggregator := status.NewAggregator(clientset, statusCache, logger)
	intake := webhook.NewIntake(cfg.WebhookSecret, repos.BuildConfigs, orchestrator, logger)

	// Startup reconciliation: bring existing student ingresses onto the
	// configured TLS secret.
	ingress.SyncStudentTLS(context.Background(), clientset, cfg.StudentTLSSecretName, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	handler := api.NewHandler(cfg, repos, controller, orchestrator, aggregator, intake, storageClient, logger)
	api.SetupRoutes(router, handler)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logrus.Infof("Portal control plane starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Fatal("Server forced to shutdown:", err)
	}

	logrus.Info("Server exiting")
}
