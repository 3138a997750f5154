package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  node_id: eu-1
registry:
  definitions: [defs/1.20.2.yaml, defs/1.20.4.yaml]
decode:
  workers: 8
cache:
  enabled: true
  redis_url: localhost:6379
  default_ttl: 30s
eventbus:
  url: nats://localhost:4222
telemetry:
  sample_ratio: 0.25
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "codec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "eu-1", cfg.Server.NodeID)
	assert.Equal(t, []string{"defs/1.20.2.yaml", "defs/1.20.4.yaml"}, cfg.Registry.Definitions)
	assert.Equal(t, 8, cfg.Decode.Workers)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)

	// Значения, не указанные в файле, берутся по умолчанию
	assert.Equal(t, 6, cfg.Registry.BiomeBits)
	assert.Equal(t, "CODEC_EVENTS", cfg.EventBus.Stream)
	assert.Equal(t, int64(1<<20), cfg.Decode.MaxPayloadBytes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CODEC_CONFIG", writeConfig(t, sampleConfig))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "eu-1", cfg.Server.NodeID)

	t.Setenv("CODEC_CONFIG", "")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg, "Без файла используются значения по умолчанию")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [broken"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no definitions", func(c *Config) { c.Registry.Definitions = nil }},
		{"biome bits", func(c *Config) { c.Registry.BiomeBits = 2 }},
		{"workers", func(c *Config) { c.Decode.Workers = -1 }},
		{"cache without redis", func(c *Config) { c.Cache.Enabled = true }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Registry.Definitions = []string{"defs.yaml"}
			require.NoError(t, cfg.Validate())

			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestHTTPPortFallback(t *testing.T) {
	s := ServerConfig{HTTPPort: 9000}
	assert.Equal(t, 9000, s.GetHTTPPort())

	s.HTTPPort = 0
	t.Setenv("CODEC_HTTP_PORT", "9100")
	assert.Equal(t, 9100, s.GetHTTPPort())

	t.Setenv("CODEC_HTTP_PORT", "not-a-port")
	assert.Equal(t, 8089, s.GetHTTPPort())
}
