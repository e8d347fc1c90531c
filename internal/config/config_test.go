package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadServer_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9000\"\nserver_id: srv-1\n"), 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, "srv-1", cfg.ServerID)
	require.Equal(t, "/var/lib/archivesync/blobs", cfg.BlobStoreRoot)
}

func TestLoadClient_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "archivesync.cache.db", cfg.CacheFile)
}
