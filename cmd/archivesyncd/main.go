// Package main is the entry point for archivesyncd, the archive server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nf-oss/archivesync/internal/authsrv"
	"github.com/nf-oss/archivesync/internal/blobstore"
	"github.com/nf-oss/archivesync/internal/blobstore/coldarchive"
	"github.com/nf-oss/archivesync/internal/config"
	"github.com/nf-oss/archivesync/internal/historydb/postgres"
	"github.com/nf-oss/archivesync/internal/retention"
	"github.com/nf-oss/archivesync/internal/serverapi"
	"github.com/nf-oss/archivesync/internal/tokencache"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "archivesyncd.yaml", "path to server config file")
	logLevel := flag.String("log-level", "info", "zerolog level (debug, info, warn, error)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("starting archivesyncd")

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresDSN}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer db.Close()
	log.Info().Msg("connected to postgres")

	blobs, err := blobstore.Open(blobstore.Config{Root: cfg.BlobStoreRoot})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open blob store")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	cache := tokencache.New(rdb, tokencache.Config{})

	lookup := authsrv.NewCachingSourceLookup(db, cache)

	var archiver coldarchive.Archiver
	if cfg.ColdArchive.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ColdArchive.Region))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load AWS config for cold archive")
		}
		archiver = coldarchive.NewS3Archiver(s3.NewFromConfig(awsCfg), coldarchive.Config{Bucket: cfg.ColdArchive.Bucket})
		log.Info().Str("bucket", cfg.ColdArchive.Bucket).Msg("cold archive enabled")
	}

	retentionCfg := retention.DefaultConfig()
	if cfg.RetentionEvery > 0 {
		retentionCfg.ScanInterval = cfg.RetentionEvery
	}
	engine := retention.New(retentionCfg, db, blobs, archiver, log.Logger)
	engine.Start(ctx)
	defer engine.Stop()

	router := serverapi.NewRouter(serverapi.Deps{
		DB:       db,
		Blobs:    blobs,
		Lookup:   lookup,
		Hashes:   cache,
		ServerID: cfg.ServerID,
		Logger:   log.Logger,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	config.WatchServer(*configPath, log.Logger, func(newCfg config.ServerConfig) {
		log.Info().Str("retention_interval", newCfg.RetentionEvery.String()).Msg("config changed; retention interval takes effect on next restart")
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("stopped")
}
