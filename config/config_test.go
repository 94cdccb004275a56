package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaseci-labs/osp"
	"github.com/jaseci-labs/osp/badgerstore"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("threads:\n  workers: 4\n"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Threads.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Store.GCInterval)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown driver", yaml: "store:\n  driver: sqlite\n"},
		{name: "badger without path", yaml: "store:\n  driver: badger\n"},
		{name: "negative workers", yaml: "threads:\n  workers: -1\n"},
		{name: "bad level", yaml: "log:\n  level: loud\n"},
		{name: "bad root", yaml: "root: nope\n"},
		{name: "unknown key", yaml: "store:\n  dirver: memory\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseBadgerInMemoryNeedsNoPath(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  driver: badger\n  in_memory: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Store.InMemory)
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverBadger
	cfg.Store.Path = filepath.Join(t.TempDir(), "db")
	cfg.Log.Format = "json"
	cfg.Root = osp.SystemRootID.String()

	data, err := cfg.Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "osp.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNewRuntimeWithBadger(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverBadger
	cfg.Store.InMemory = true
	cfg.Threads.Workers = 2

	rt, err := cfg.NewRuntime(osp.NewProgram(), &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	_, ok := rt.Store().Backend().(*badgerstore.Backend)
	require.True(t, ok)

	root, err := rt.Root(context.Background())
	require.NoError(t, err)
	assert.Equal(t, osp.SystemRootID, root.Anchor().ID)
}

func TestNewRuntimeMemory(t *testing.T) {
	rt, err := Default().NewRuntime(nil, &bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	_, ok := rt.Store().Backend().(*osp.MemoryBackend)
	assert.True(t, ok)
}
