package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	appcmd "github.com/awslabs/visual-asset-management-system-sub003/cmd"
	"github.com/awslabs/visual-asset-management-system-sub003/history"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	logFormat := getenvDefault("VAMS_LOG_FORMAT", "text")
	logger := newLogger(logFormat)

	addr := getenvDefault("VAMS_HTTP_ADDR", "127.0.0.1:8080")
	backend := getenvDefault("VAMS_STORE", "memory")
	viewIdleTTL := getenvDurationDefault(logger, "VAMS_VIEW_IDLE_TTL", 10*time.Minute)
	viewEvictInterval := getenvDurationDefault(logger, "VAMS_VIEW_EVICT_INTERVAL", time.Minute)

	store, cleanup := buildStore(logger, backend)
	defer cleanup()

	// Optional Redis read-through cache for version manifests.
	if redisAddr := os.Getenv("VAMS_REDIS_ADDR"); redisAddr != "" {
		ttl := getenvDurationDefault(logger, "VAMS_REDIS_MANIFEST_TTL", 15*time.Minute)
		prefix := getenvDefault("VAMS_REDIS_PREFIX", "")
		client := redis.NewClient(&redis.Options{Addr: redisAddr})

		cached, err := history.NewRedisManifestCache(store, client, prefix, ttl)
		if err != nil {
			logger.Error("configure redis manifest cache", "error", err)
			os.Exit(1)
		}
		cached.Logger = logger
		store = cached
		logger.Info("configured redis manifest cache", "addr", redisAddr, "ttl", ttl)
	}

	appCfg := appcmd.AppConfig{
		Address:              addr,
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		ViewIdleTTL:          viewIdleTTL,
		ViewEvictionInterval: viewEvictInterval,
		Logger:               logger,
	}
	app := appcmd.NewApp(store, appCfg)

	if err := app.Start(); err != nil {
		logger.Error("start app", "error", err)
		os.Exit(1)
	}
	logger.Info("version history service listening", "address", app.Address(), "store", backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := app.Wait(); err != nil {
		logger.Error("app exited with error", "error", err)
		os.Exit(1)
	}
}

// buildStore selects the content store backend. The returned cleanup closes
// any client the store depends on; it is a no-op for backends without one.
func buildStore(logger *slog.Logger, backend string) (history.ContentStore, func()) {
	switch backend {
	case "memory":
		store := history.NewMemoryContentStore()
		store.ReportTotal = getenvBoolDefault(logger, "VAMS_MEMORY_REPORT_TOTAL", false)
		logger.Info("configured in-memory content store")
		return store, func() {}

	case "s3":
		bucket := os.Getenv("VAMS_S3_BUCKET")
		if bucket == "" {
			logger.Error("VAMS_S3_BUCKET is required for the s3 store")
			os.Exit(1)
		}
		prefix := os.Getenv("VAMS_S3_PREFIX")

		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			logger.Error("load aws config", "error", err)
			os.Exit(1)
		}
		client := s3.NewFromConfig(cfg)
		logger.Info("configured s3 content store", "bucket", bucket, "prefix", prefix)
		return history.NewS3ContentStore(client, bucket, prefix), func() {}

	case "mongo":
		uri := os.Getenv("VAMS_MONGO_URI")
		if uri == "" {
			logger.Error("VAMS_MONGO_URI is required for the mongo store")
			os.Exit(1)
		}
		db := getenvDefault("VAMS_MONGO_DB", "vams")
		versionsColl := getenvDefault("VAMS_MONGO_VERSIONS_COLLECTION", "asset_versions")
		liveColl := getenvDefault("VAMS_MONGO_LIVE_COLLECTION", "asset_live_manifests")

		client, err := mongo.Connect(mongooptions.Client().ApplyURI(uri))
		if err != nil {
			logger.Error("mongo connect", "error", err)
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			logger.Error("mongo ping", "error", err)
			os.Exit(1)
		}
		cleanup := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
		store := history.NewMongoContentStore(
			client.Database(db).Collection(versionsColl),
			client.Database(db).Collection(liveColl),
		)
		logger.Info("configured mongo content store",
			"db", db,
			"versions_collection", versionsColl,
			"live_collection", liveColl,
		)
		return store, cleanup

	default:
		logger.Error("unknown store backend", "backend", backend, "valid", "memory, s3, mongo")
		os.Exit(1)
		return nil, nil
	}
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func getenvDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvDurationDefault(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid duration env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return d
}

func getenvBoolDefault(logger *slog.Logger, key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("invalid boolean env var", "key", key, "value", v, "error", err)
		os.Exit(1)
	}
	return b
}
