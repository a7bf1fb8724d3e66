package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.com
gateway:
  kind: ws
  url: wss://gw.example.com/ws
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.API.PageSize)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "chatsync", cfg.Redis.Prefix)
	assert.Equal(t, 15, cfg.API.TimeoutSeconds)
}

func TestLoadRejectsMissingBaseURL(t *testing.T) {
	path := writeConfig(t, `
gateway:
  kind: ws
  url: wss://gw.example.com/ws
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "api.base_url")
}

func TestLoadRejectsUnknownGatewayKind(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.com
gateway:
  kind: carrier-pigeon
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "gateway.kind")
}

func TestRedisKindNeedsAddr(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.com
gateway:
  kind: redis
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "redis.addr")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.com
gateway:
  kind: ws
  url: wss://gw.example.com/ws
`)
	t.Setenv("API_BASE_URL", "https://staging.example.com")
	t.Setenv("GATEWAY_KIND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://staging.example.com", cfg.API.BaseURL)
	assert.Equal(t, "redis", cfg.Gateway.Kind)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}
