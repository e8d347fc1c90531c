// Package main is the entry point for archivesync, the client CLI.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nf-oss/archivesync/internal/archivepath"
	"github.com/nf-oss/archivesync/internal/clientapi"
	"github.com/nf-oss/archivesync/internal/codec"
	"github.com/nf-oss/archivesync/internal/config"
	"github.com/nf-oss/archivesync/internal/localcache/sqlite"
	"github.com/nf-oss/archivesync/internal/syncengine"
	"github.com/nf-oss/archivesync/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "sync":
		err = cmdSync(args)
	case "local-status":
		err = cmdLocalStatus(args)
	case "ls":
		err = cmdLs(args)
	case "history":
		err = cmdHistory(args)
	case "move":
		err = cmdMove(args)
	case "remove":
		err = cmdRemove(args)
	case "reset":
		err = cmdReset(args)
	case "status":
		err = cmdStatus(args)
	case "generate-encryption-key":
		err = cmdGenerateKey(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("archivesync command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: archivesync <command> [flags]

commands:
  sync                     run one upload/pull/download cycle
  local-status             print and reset accumulated notification counts
  ls <path>                list direct children of an archive path
  history <path>           print the version history of an archive path
  move <old> <new>         record a rename
  remove <path>            record a deletion
  reset <path> <time>      restore a path to the version live at an RFC3339 time
  status                   print the server's identity and available space
  generate-encryption-key  generate a new base64 master key`)
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "archivesync.yaml", "path to client config file")
}

func loadClientConfig(path string) (config.ClientConfig, error) {
	cfg, err := config.LoadClient(path)
	if err != nil {
		return cfg, fmt.Errorf("loading client config: %w", err)
	}
	return cfg, nil
}

func loadCodec(cfg config.ClientConfig) (*codec.Codec, error) {
	raw, err := os.ReadFile(cfg.EncryptionKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading encryption key file %s: %w", cfg.EncryptionKeyFile, err)
	}
	key, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	return codec.New(key)
}

func newAPI(cfg config.ClientConfig) *clientapi.API {
	tc := transport.New(transport.Config{BaseURL: cfg.ServerURL, AccessToken: cfg.AccessToken}, log.Logger)
	return clientapi.New(tc)
}

func cmdSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := configFlag(fs)
	archiveRoot := fs.String("archive-root", "/", "archive-side path this local root mounts onto")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	cdc, err := loadCodec(cfg)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(context.Background(), cfg.CacheFile, log.Logger)
	if err != nil {
		return fmt.Errorf("opening local cache: %w", err)
	}
	defer db.Close()
	store := sqlite.NewStore(db)

	root, err := archivepath.New(*archiveRoot)
	if err != nil {
		return fmt.Errorf("parsing archive root: %w", err)
	}
	mounts := []syncengine.Mount{{LocalRoot: cfg.LocalRoot, ArchiveRoot: root}}

	eng := syncengine.New(newAPI(cfg), cdc, store, mounts, syncengine.NewRules(nil), syncengine.DefaultConfig(), log.Logger, nil)

	res, err := eng.Sync(context.Background())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	log.Info().
		Int("uploaded", res.Uploaded).
		Int("deleted", res.Deleted).
		Int("pulled_new", res.PulledNew).
		Int("downloaded", res.Downloaded).
		Int("skipped_same", res.SkippedSame).
		Msg("sync complete")
	return nil
}

func cmdLocalStatus(args []string) error {
	fs := flag.NewFlagSet("local-status", flag.ExitOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	db, err := sqlite.Open(context.Background(), cfg.CacheFile, log.Logger)
	if err != nil {
		return fmt.Errorf("opening local cache: %w", err)
	}
	defer db.Close()
	store := sqlite.NewStore(db)

	ctx := context.Background()
	stats, err := store.NotificationStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("created=%d updated=%d deleted=%d conflicts=%d\n", stats.Created, stats.Updated, stats.Deleted, stats.Conflicts)
	return store.ResetNotificationStats(ctx)
}

func cmdLs(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("ls: expected exactly one path argument")
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	cdc, err := loadCodec(cfg)
	if err != nil {
		return err
	}
	api := newAPI(cfg)

	encPath := cdc.EncryptPath(fs.Arg(0))
	return api.GetDirectChildEntries(context.Background(), encPath, func(e clientapi.EntryDTO) error {
		path, err := cdc.DecryptPath(e.Path)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	})
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := configFlag(fs)
	recursive := fs.Bool("recursive", false, "include every descendant's history too")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("history: expected exactly one path argument")
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	cdc, err := loadCodec(cfg)
	if err != nil {
		return err
	}
	api := newAPI(cfg)

	encPath := cdc.EncryptPath(fs.Arg(0))
	return api.GetAllEntryVersions(context.Background(), encPath, *recursive, func(v clientapi.EntryVersionDTO) error {
		path, err := cdc.DecryptPath(v.Path)
		if err != nil {
			return err
		}
		fmt.Printf("%s\tkind=%d\trecorded_at=%s\ttrigger=%s\n", path, v.Kind, v.RecordedAt.Format(time.RFC3339), v.RecordTrigger)
		return nil
	})
}

func cmdMove(args []string) error {
	fs := flag.NewFlagSet("move", flag.ExitOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("move: expected <old-path> <new-path>")
	}
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	cdc, err := loadCodec(cfg)
	if err != nil {
		return err
	}
	affected, err := newAPI(cfg).MovePath(context.Background(), cdc.EncryptPath(fs.Arg(0)), cdc.EncryptPath(fs.Arg(1)))
	if err != nil {
		return err
	}
	fmt.Printf("affected_paths=%d\n", affected)
	return nil
}

func cmdRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("remove: expected exactly one path argument")
	}
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	cdc, err := loadCodec(cfg)
	if err != nil {
		return err
	}
	affected, err := newAPI(cfg).RemovePath(context.Background(), cdc.EncryptPath(fs.Arg(0)))
	if err != nil {
		return err
	}
	fmt.Printf("affected_paths=%d\n", affected)
	return nil
}

func cmdReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("reset: expected <path> <RFC3339-time>")
	}
	at, err := time.Parse(time.RFC3339, fs.Arg(1))
	if err != nil {
		return fmt.Errorf("parsing time: %w", err)
	}
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	cdc, err := loadCodec(cfg)
	if err != nil {
		return err
	}
	affected, err := newAPI(cfg).ResetVersion(context.Background(), cdc.EncryptPath(fs.Arg(0)), at)
	if err != nil {
		return err
	}
	fmt.Printf("affected_paths=%d\n", affected)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		return err
	}
	serverID, available, err := newAPI(cfg).GetServerStatus(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("server_id=%s available_space=%d\n", serverID, available)
	return nil
}

func cmdGenerateKey(args []string) error {
	fs := flag.NewFlagSet("generate-encryption-key", flag.ExitOnError)
	out := fs.String("out", "", "file to write the key to; prints to stdout if empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := make([]byte, codec.MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	if *out == "" {
		fmt.Println(encoded)
		return nil
	}
	return os.WriteFile(*out, []byte(encoded+"\n"), 0o600)
}
