package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig("")
	assert.Equal(t, "wagate", cfg.System.Appid)
	assert.Equal(t, 1816, cfg.Web.Port)
	assert.Equal(t, 30, cfg.Whatsapp.ConnectCooldown)
	assert.Equal(t, 60, cfg.Whatsapp.QrTimeout)
	assert.Equal(t, 300, cfg.Whatsapp.StaleThreshold)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	cfile := filepath.Join(t.TempDir(), "wagate.yml")
	require.NoError(t, os.WriteFile(cfile, []byte(`
web:
  host: 127.0.0.1
  port: 2816
whatsapp:
  qr_timeout: 90
`), 0o644))

	cfg := LoadConfig(cfile)
	assert.Equal(t, "127.0.0.1", cfg.Web.Host)
	assert.Equal(t, 2816, cfg.Web.Port)
	assert.Equal(t, 90, cfg.Whatsapp.QrTimeout)
	// untouched sections keep their defaults
	assert.Equal(t, "postgres", cfg.Database.Type)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("WAGATE_WEB_PORT", "3816")
	t.Setenv("WAGATE_DB_TYPE", "sqlite")

	cfg := LoadConfig("")
	assert.Equal(t, 3816, cfg.Web.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
}
