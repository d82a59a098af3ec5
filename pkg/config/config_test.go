package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	opts := cfg.UniversalOptions()
	assert.Equal(t, []string{"localhost:6379"}, opts.Addrs)
	assert.Equal(t, 2, opts.Protocol)
	assert.Equal(t, time.Duration(-1), opts.ReadTimeout)
	assert.Equal(t, -1, opts.MaxRetries)
	assert.True(t, opts.ContextTimeoutEnabled)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
db: 2
protocol: 3
read_timeout: 2s
script_dir: /etc/walrus/scripts
native_zpop: false
type_cache:
  size: 128
  ttl: 30s
log_level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, cfg.Addrs)
	assert.Equal(t, 2, cfg.DB)
	assert.Equal(t, 3, cfg.Protocol)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, "/etc/walrus/scripts", cfg.ScriptDir)
	require.NotNil(t, cfg.NativeZPop)
	assert.False(t, *cfg.NativeZPop)
	assert.Equal(t, TypeCache{Size: 128, TTL: 30 * time.Second}, cfg.TypeCache)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestParse_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"no addrs":   "addrs: []",
		"blank addr": `addrs: [" "]`,
		"protocol":   "protocol: 4",
		"db":         "db: -1",
		"pool":       "pool_size: -2",
		"cache size": "type_cache: {size: -1}",
		"cache ttl":  "type_cache: {size: 4, ttl: 0s}",
		"log level":  "log_level: loud",
	} {
		_, err := Parse([]byte(doc))
		assert.True(t, errs.IsInvalid(err), name)
	}

	_, err := Parse([]byte("addrs: {"))
	assert.Error(t, err)
	assert.False(t, errs.IsInvalid(err))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walrus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db: 5\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.DB)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
