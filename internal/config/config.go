// Package config loads archivesync's server and client configuration with
// spf13/viper, the teacher's listed direct configuration dependency: no
// in-pack example exercises it directly (the teacher has no config
// package of its own), so the loader here follows viper's own documented
// idiom rather than a specific teacher file.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// ServerConfig configures cmd/archivesyncd.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	BlobStoreRoot  string        `mapstructure:"blob_store_root"`
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	ServerID       string        `mapstructure:"server_id"`
	RetentionEvery time.Duration `mapstructure:"retention_interval"`
	ColdArchive    ColdArchive   `mapstructure:"cold_archive"`
}

// ColdArchive configures the S3 archive-before-GC step retention.Engine
// invokes before removing an orphaned blob.
type ColdArchive struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
}

// ClientConfig configures cmd/archivesync.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	AccessToken       string        `mapstructure:"access_token"`
	LocalRoot         string        `mapstructure:"local_root"`
	CacheFile         string        `mapstructure:"cache_file"`
	EncryptionKeyFile string        `mapstructure:"encryption_key_file"`
	SyncInterval      time.Duration `mapstructure:"sync_interval"`
}

func defaultServer() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":7420",
		BlobStoreRoot:  "/var/lib/archivesync/blobs",
		RetentionEvery: time.Hour,
	}
}

func defaultClient() ClientConfig {
	return ClientConfig{
		CacheFile:    "archivesync.cache.db",
		SyncInterval: 5 * time.Minute,
	}
}

// LoadServer reads ServerConfig from path (TOML/YAML/JSON, chosen by
// extension), applying ARCHIVESYNCD_-prefixed environment overrides on
// top, the way viper.AutomaticEnv composes with a config file.
func LoadServer(path string) (ServerConfig, error) {
	cfg := defaultServer()
	v := newViper("ARCHIVESYNCD", path)
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decoding server config: %w", err)
	}
	return cfg, nil
}

// LoadClient reads ClientConfig from path with ARCHIVESYNC_-prefixed
// environment overrides.
func LoadClient(path string) (ClientConfig, error) {
	cfg := defaultClient()
	v := newViper("ARCHIVESYNC", path)
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decoding client config: %w", err)
	}
	return cfg, nil
}

func newViper(envPrefix, path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	// A missing file is fine: defaults plus env vars may be enough for a
	// minimal client invocation. A malformed file still decodes into
	// whatever viper managed to parse, and Unmarshal below surfaces the
	// resulting garbage to the caller.
	_ = v.ReadInConfig()
	return v
}

// WatchServer re-decodes ServerConfig on every file change and invokes fn
// with the new value, logging and ignoring a config that fails to decode
// so a bad edit doesn't crash a running server.
func WatchServer(path string, logger zerolog.Logger, fn func(ServerConfig)) {
	v := newViper("ARCHIVESYNCD", path)
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := defaultServer()
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Warn().Err(err).Str("path", e.Name).Msg("config: reload failed, keeping previous config")
			return
		}
		logger.Info().Str("path", e.Name).Msg("config: reloaded")
		fn(cfg)
	})
	v.WatchConfig()
}
