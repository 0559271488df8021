// Package main wires together the artist verification service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/seda-audio/artist-verifier/internal/api"
	archiveGCS "github.com/seda-audio/artist-verifier/internal/archive/gcs"
	archiveMemory "github.com/seda-audio/artist-verifier/internal/archive/memory"
	cacheMemory "github.com/seda-audio/artist-verifier/internal/cache/memory"
	cacheRedis "github.com/seda-audio/artist-verifier/internal/cache/redis"
	"github.com/seda-audio/artist-verifier/internal/clock/system"
	"github.com/seda-audio/artist-verifier/internal/config"
	"github.com/seda-audio/artist-verifier/internal/crawler"
	headlessFetcher "github.com/seda-audio/artist-verifier/internal/fetcher/headless"
	staticFetcher "github.com/seda-audio/artist-verifier/internal/fetcher/static"
	"github.com/seda-audio/artist-verifier/internal/hash/sha256"
	"github.com/seda-audio/artist-verifier/internal/id/uuid"
	"github.com/seda-audio/artist-verifier/internal/logging"
	publisherMemory "github.com/seda-audio/artist-verifier/internal/publisher/memory"
	publisherPubSub "github.com/seda-audio/artist-verifier/internal/publisher/pubsub"
	storageMemory "github.com/seda-audio/artist-verifier/internal/storage/memory"
	storagePostgres "github.com/seda-audio/artist-verifier/internal/storage/postgres"
	"github.com/seda-audio/artist-verifier/internal/telemetry"
	"github.com/seda-audio/artist-verifier/internal/verify"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracerProvider(ctx, "artist-verifier")
	if err != nil {
		logger.Warn("tracer provider init failed", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer provider shutdown failed", zap.Error(err))
			}
		}()
	}

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	var (
		requests verify.RequestStore
		profiles verify.ProfileStore
		cache    verify.PageCache
	)
	if cfg.DB.DSN != "" {
		pool, err := storagePostgres.NewPool(ctx, storagePostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinOpenConns),
		})
		if err != nil {
			logger.Fatal("postgres pool init failed", zap.Error(err))
		}
		defer pool.Close()
		requestStore, err := storagePostgres.NewRequestStore(pool)
		if err != nil {
			logger.Fatal("request store init failed", zap.Error(err))
		}
		profileStore, err := storagePostgres.NewProfileStore(pool)
		if err != nil {
			logger.Fatal("profile store init failed", zap.Error(err))
		}
		cacheStore, err := storagePostgres.NewCacheStore(pool, cfg.CacheTTL(), clock)
		if err != nil {
			logger.Fatal("cache store init failed", zap.Error(err))
		}
		requests, profiles, cache = requestStore, profileStore, cacheStore
		logger.Info("using postgres stores")
	} else {
		requests = storageMemory.NewRequestStore()
		profiles = storageMemory.NewProfileStore()
		cache = cacheMemory.New(cfg.CacheTTL(), clock)
		logger.Info("using in-memory stores")
	}

	if cfg.Cache.RedisURL != "" {
		redisCache, err := cacheRedis.New(ctx, cfg.Cache.RedisURL, cfg.CacheTTL(), clock)
		if err != nil {
			logger.Fatal("redis cache init failed", zap.Error(err))
		}
		defer func() {
			if err := redisCache.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}()
		cache = redisCache
		logger.Info("using redis page cache")
	}

	var archive verify.ArchiveStore
	if cfg.Archive.GCSBucket != "" {
		gcsClient, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		}()
		archive, err = archiveGCS.New(gcsClient, archiveGCS.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			logger.Fatal("gcs archive init failed", zap.Error(err))
		}
		logger.Info("archiving snapshots to gcs", zap.String("bucket", cfg.Archive.GCSBucket))
	} else {
		archive = archiveMemory.New()
	}

	var publisher verify.Publisher
	if cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}()
		publisher = publisherPubSub.New(pubsubClient)
		logger.Info("publishing outcomes to pubsub", zap.String("topic", cfg.PubSub.Topic))
	} else {
		publisher = publisherMemory.New()
	}

	probe := staticFetcher.New(staticFetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   time.Duration(cfg.Crawler.HTTPTimeoutSeconds) * time.Second,
	})
	var headless verify.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessFetcher.New(headlessFetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer hf.Close()
			headless = hf
		}
	}

	validator := crawler.NewValidator(cfg.Crawler.AllowedDomains)
	limiter := crawler.NewDomainLimiter(cfg.Crawler.PerDomainRPS, 1)
	claimCrawler := crawler.New(
		requests,
		profiles,
		cache,
		probe,
		headless,
		validator,
		limiter,
		archive,
		hasher,
		clock,
		crawler.Config{
			MaxRetries:         cfg.Crawler.MaxRetries,
			BackoffBase:        cfg.BackoffBase(),
			ArchivePrefix:      cfg.Archive.Prefix,
			ArchiveContentType: cfg.Archive.ContentType,
		},
		logger.Named("crawler"),
	)

	service := verify.NewService(
		requests,
		profiles,
		claimCrawler,
		publisher,
		clock,
		idGen,
		verify.ServiceConfig{
			RateLimitPerDay: cfg.Verification.RateLimitPerDay,
			CodeLength:      cfg.Verification.CodeLength,
			CodeExpiry:      cfg.CodeExpiry(),
			CrawlBudget:     cfg.CrawlBudget(),
			OutcomeTopic:    cfg.PubSub.Topic,
		},
		logger.Named("verify"),
	)

	apiServer := api.NewServer(service, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	service.Wait()
	logger.Info("shutdown complete")
}
