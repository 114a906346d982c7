package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := New()

	assert.Equal(t, 60*time.Second, c.GetDuration("extract.interval", 0))
	assert.Equal(t, 120*time.Second, c.GetDuration("apply.interval", 0))
	assert.Equal(t, 168*time.Hour, c.GetDuration("retention.max_age", 0))
	assert.Equal(t, 0, c.GetInt("retention.max_count", -1))
	assert.False(t, c.GetBool("sync.include_source"))
	assert.Equal(t, "extractions", c.Get("archive.dir"))
	assert.Equal(t, "localhost", c.Get("catalog.host"))
	assert.Equal(t, "", c.Get("server.id"))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_ID", "SRV01")
	t.Setenv("EXTRACT_INTERVAL", "5s")
	t.Setenv("SYNC_INCLUDE_SOURCE", "true")

	c := New()
	c.LoadEnvironment()

	assert.Equal(t, "SRV01", c.Get("server.id"))
	assert.Equal(t, 5*time.Second, c.GetDuration("extract.interval", 0))
	assert.True(t, c.GetBool("sync.include_source"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
extract:
  interval: 30s
catalog:
  host: db.internal
  port: 5433
server:
  id: SRV02
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := New()
	require.NoError(t, c.LoadFile(path))

	assert.Equal(t, 30*time.Second, c.GetDuration("extract.interval", 0))
	assert.Equal(t, "db.internal", c.Get("catalog.host"))
	assert.Equal(t, 5433, c.GetInt("catalog.port", 0))
	assert.Equal(t, "SRV02", c.Get("server.id"))

	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestAccessors(t *testing.T) {
	c := New()
	c.Set("some.number", "not a number")
	c.Set("some.duration", "not a duration")
	c.Set("some.flag", "YES")

	assert.Equal(t, 7, c.GetInt("some.number", 7))
	assert.Equal(t, time.Minute, c.GetDuration("some.duration", time.Minute))
	assert.True(t, c.GetBool("some.flag"))
	assert.False(t, c.GetBool("absent"))

	c.Update(map[string]string{"a": "1", "b": "2"})
	all := c.GetAll()
	assert.Equal(t, "1", all["a"])
	assert.Equal(t, "2", all["b"])

	// The returned map is a copy
	all["a"] = "mutated"
	assert.Equal(t, "1", c.Get("a"))
}
