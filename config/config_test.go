package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings.HTTP.Addr, settings.HTTP.Addr)

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "staleAfter: 15s")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, again.Monitor.StaleAfter.Std())
	assert.Equal(t, "A", again.Agent.Station.Ports[0].Port)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
http:
  addr: ":9000"
database:
  driver: postgres
  host: db
  port: 5433
monitor:
  interval: 2s
`), 0o600))

	t.Setenv("DB_NAME", "plants")
	t.Setenv("LOCK_BACKEND", "redis")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", settings.HTTP.Addr)
	assert.Equal(t, "postgres", settings.Database.Driver)
	assert.Equal(t, "redis", settings.Lock.Backend)
	assert.Equal(t, 2*time.Second, settings.Monitor.Interval.Std())
	assert.Equal(t, 15*time.Second, settings.Monitor.StaleAfter.Std())
	assert.Equal(t, "host=db port=5433 user=postgres password= dbname=plants sslmode=disable", settings.Database.DSN())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte("monitor:\n  interval: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
