// Command server starts the Reelhouse API HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reelhouse/internal/api"
	"reelhouse/internal/ingestion"
	"reelhouse/internal/media"
	"reelhouse/internal/observability/logging"
	"reelhouse/internal/observability/metrics"
	"reelhouse/internal/server"
	"reelhouse/internal/storage"
	"reelhouse/internal/thumbnail"
	"reelhouse/internal/transcode"
)

const defaultMaxUploadBytes = int64(4) << 30

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the asset read cache")
	cacheRedisAddrs := flag.String("cache-redis-addrs", "", "comma separated Redis addresses for the asset read cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the asset read cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the asset read cache")
	cacheRedisDB := flag.Int("cache-redis-db", 0, "Redis database index for the asset read cache")
	cacheRedisMaster := flag.String("cache-redis-sentinel-master", "", "Redis sentinel master name for the asset read cache")
	cacheTTL := flag.Duration("cache-ttl", 0, "time-to-live for cached asset lookups")
	mediaDir := flag.String("media-dir", "", "root directory for stored originals and packaged output")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	packagingTimeout := flag.Duration("packaging-timeout", 0, "per-asset packaging timeout")
	packagingConcurrency := flag.Int("packaging-concurrency", 0, "maximum packaging jobs running at once")
	packagingQueue := flag.Int("packaging-queue", 0, "maximum packaging jobs waiting for a slot")
	thumbnailTimeout := flag.Duration("thumbnail-timeout", 0, "per-asset thumbnail extraction timeout")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")
	sweepOrphans := flag.Bool("sweep-orphans", true, "remove media directories with no datastore record at startup")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("REELHOUSE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("REELHOUSE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("REELHOUSE_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("REELHOUSE_ADDR"))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("REELHOUSE_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("REELHOUSE_DATA"))
		store, err = storage.NewStorage(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresRepository(startupCtx, postgresDefaultDSN, postgresOptions(
			*postgresMaxConns, *postgresMinConns,
			*postgresMaxConnLifetime, *postgresMaxConnIdle, *postgresHealthInterval,
			*postgresAcquireTimeout, *postgresAppName,
		)...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	cacheAddr := firstNonEmpty(*cacheRedisAddr, os.Getenv("REELHOUSE_CACHE_REDIS_ADDR"))
	cacheAddrs := splitAndTrim(firstNonEmpty(*cacheRedisAddrs, os.Getenv("REELHOUSE_CACHE_REDIS_ADDRS")))
	if cacheAddr != "" || len(cacheAddrs) > 0 {
		cached, err := storage.NewRedisCache(store, storage.RedisCacheConfig{
			Addr:       cacheAddr,
			Addrs:      cacheAddrs,
			Username:   firstNonEmpty(*cacheRedisUsername, os.Getenv("REELHOUSE_CACHE_REDIS_USERNAME")),
			Password:   firstNonEmpty(*cacheRedisPassword, os.Getenv("REELHOUSE_CACHE_REDIS_PASSWORD")),
			DB:         resolveInt(*cacheRedisDB, "REELHOUSE_CACHE_REDIS_DB"),
			MasterName: firstNonEmpty(*cacheRedisMaster, os.Getenv("REELHOUSE_CACHE_REDIS_SENTINEL_MASTER")),
			TTL:        resolveDuration(*cacheTTL, "REELHOUSE_CACHE_TTL", 0),
			Logger:     logging.WithComponent(logger, "cache"),
		})
		if err != nil {
			logger.Error("failed to configure asset cache", "error", err)
			os.Exit(1)
		}
		store = cached
	}

	layout, err := media.NewLayout(resolveMediaDir(*mediaDir, os.Getenv("REELHOUSE_MEDIA_DIR")))
	if err != nil {
		logger.Error("invalid media directory", "error", err)
		os.Exit(1)
	}

	ffmpeg := firstNonEmpty(*ffmpegPath, os.Getenv("REELHOUSE_FFMPEG"))
	packager, err := transcode.New(transcode.Config{
		FFmpegPath:    ffmpeg,
		Ladder:        transcode.DefaultLadder(),
		Timeout:       resolveDuration(*packagingTimeout, "REELHOUSE_PACKAGING_TIMEOUT", 0),
		MaxConcurrent: resolveInt(*packagingConcurrency, "REELHOUSE_PACKAGING_CONCURRENCY"),
		MaxQueued:     resolveInt(*packagingQueue, "REELHOUSE_PACKAGING_QUEUE"),
		Logger:        logging.WithComponent(logger, "transcode"),
		Metrics:       recorder,
	})
	if err != nil {
		logger.Error("failed to configure packager", "error", err)
		os.Exit(1)
	}

	thumbnails := thumbnail.New(thumbnail.Config{
		FFmpegPath: ffmpeg,
		Timeout:    resolveDuration(*thumbnailTimeout, "REELHOUSE_THUMBNAIL_TIMEOUT", 0),
		Logger:     logging.WithComponent(logger, "thumbnail"),
	})

	cleaner := ingestion.NewCleaner(layout, media.DiskFS{}, logging.WithComponent(logger, "cleanup"), recorder)
	pipeline, err := ingestion.New(ingestion.Config{
		Repository:  store,
		Layout:      layout,
		Packager:    packager,
		Thumbnailer: thumbnails,
		Cleaner:     cleaner,
		Logger:      logging.WithComponent(logger, "ingestion"),
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to configure ingestion pipeline", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, pipeline)
	handler.MaxUploadBytes = resolveUploadBytes(*maxUploadBytes, "REELHOUSE_MAX_UPLOAD_BYTES")

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("REELHOUSE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("REELHOUSE_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "REELHOUSE_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "REELHOUSE_RATE_GLOBAL_BURST"),
			UploadLimit:   resolveInt(*uploadLimit, "REELHOUSE_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "REELHOUSE_RATE_UPLOAD_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("REELHOUSE_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("REELHOUSE_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "REELHOUSE_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		Logger:          logger,
		Metrics:         recorder,
		MediaDir:        layout.Root,
		ShutdownTimeout: resolveDuration(*shutdownTimeout, "REELHOUSE_SHUTDOWN_TIMEOUT", 0),
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if resolveBool(*sweepOrphans, "REELHOUSE_SWEEP_ORPHANS") {
		go func() {
			removed, err := cleaner.SweepOrphans(ctx, store)
			if err != nil {
				logger.Warn("orphan sweep failed", "error", err)
				return
			}
			if removed > 0 {
				logger.Info("orphan sweep removed directories", "count", removed)
			}
		}()
	}

	logger.Info("Reelhouse API listening", "addr", listenAddr, "mode", serverMode, "media_dir", layout.Root)
	if err := srv.Run(ctx, nil); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

func postgresOptions(maxConns, minConns int, maxLifetime, maxIdle, healthInterval, acquireTimeout time.Duration, appName string) []storage.Option {
	var opts []storage.Option
	maxConns = resolveInt(maxConns, "REELHOUSE_POSTGRES_MAX_CONNS")
	minConns = resolveInt(minConns, "REELHOUSE_POSTGRES_MIN_CONNS")
	if maxConns > 0 || minConns > 0 {
		opts = append(opts, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
	}
	maxLifetime = resolveDuration(maxLifetime, "REELHOUSE_POSTGRES_MAX_CONN_LIFETIME", 0)
	maxIdle = resolveDuration(maxIdle, "REELHOUSE_POSTGRES_MAX_CONN_IDLE", 0)
	healthInterval = resolveDuration(healthInterval, "REELHOUSE_POSTGRES_HEALTH_INTERVAL", 0)
	if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
		opts = append(opts, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
	}
	if acquireTimeout = resolveDuration(acquireTimeout, "REELHOUSE_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
		opts = append(opts, storage.WithPostgresAcquireTimeout(acquireTimeout))
	}
	if appName = firstNonEmpty(appName, os.Getenv("REELHOUSE_POSTGRES_APP_NAME")); appName != "" {
		opts = append(opts, storage.WithPostgresApplicationName(appName))
	}
	return opts
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		if mode == "production" {
			return ":80"
		}
		return ":8080"
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	if value := strings.TrimSpace(envValue); value != "" {
		return value
	}
	return "data/store.json"
}

func resolveMediaDir(flagValue, envValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	if value := strings.TrimSpace(envValue); value != "" {
		return value
	}
	return "data/media"
}

func resolvePostgresDSN(flagValue string) string {
	return firstNonEmpty(flagValue, os.Getenv("REELHOUSE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
}

func resolveUploadBytes(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.ParseInt(env, 10, 64); err == nil && value > 0 {
			return value
		}
	}
	return defaultMaxUploadBytes
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.ParseFloat(env, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return flagValue
}
