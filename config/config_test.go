package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "histfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	requireT := require.New(t)

	cfg, err := Load(writeConfig(t, `
device:
  path: /tmp/disk.img
  inodes: 32
cache:
  ttl: 30s
metadata:
  backend: badger
  badgerDir: /tmp/meta
logging:
  level: debug
  format: json
`))
	requireT.NoError(err)
	requireT.Equal("/tmp/disk.img", cfg.Device.Path)
	requireT.EqualValues(32, cfg.Device.Inodes)
	requireT.EqualValues(2560, cfg.Device.Blocks)
	requireT.Equal(30*time.Second, cfg.Cache.TTL)
	requireT.EqualValues(4096, cfg.Cache.Capacity)
	requireT.Equal(BackendBadger, cfg.Metadata.Backend)
	requireT.Equal("/tmp/meta", cfg.Metadata.BadgerDir)
	requireT.Equal(FormatJSON, cfg.Logging.Format)

	level, err := cfg.Logging.SlogLevel()
	requireT.NoError(err)
	requireT.Equal(slog.LevelDebug, level)
}

func TestLoadInvalid(t *testing.T) {
	requireT := require.New(t)

	_, err := Load(writeConfig(t, "metadata:\n  backend: sql\n"))
	requireT.ErrorIs(err, ErrUnknownBackend)

	_, err = Load(writeConfig(t, "logging:\n  level: loud\n"))
	requireT.ErrorIs(err, ErrUnknownLogLevel)

	_, err = Load(writeConfig(t, "device:\n  inodes: 0\n"))
	requireT.ErrorIs(err, ErrInodesMissing)

	_, err = Load(writeConfig(t, "device: [\n"))
	requireT.Error(err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	requireT.Error(err)
}
