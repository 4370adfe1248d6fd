package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configName), []byte(content), 0o600))
	return dir
}

func TestNew_DefaultsWithoutFile(t *testing.T) {
	cfg, err := New(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	require.EqualValues(t, 3, cfg.Retry.Attempts)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.Backoff)
	require.Equal(t, DefaultFallbackPassword, cfg.Admin.FallbackPassword)
	require.Equal(t, 10, cfg.Trial.Days)
	require.Equal(t, 3, cfg.Retention.Days)
	require.False(t, cfg.UseProxy())
}

func TestNew_ReadsYAML(t *testing.T) {
	dir := writeConfig(t, `
github:
  owner: umutcrkn
  repo: PetShop-Barkod
  token: tok
http:
  timeout: 10s
admin:
  fallbackPassword: "override"
`)
	cfg, err := New(dir)
	require.NoError(t, err)
	require.Equal(t, "umutcrkn", cfg.GitHub.Owner)
	require.Equal(t, "PetShop-Barkod", cfg.GitHub.Repo)
	require.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, "override", cfg.Admin.FallbackPassword)
}

func TestNew_EnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, `
github:
  token: from-file
admin:
  fallbackPassword: "from-file"
`)
	t.Setenv("PETSHOP_GITHUB_TOKEN", "from-env")
	t.Setenv("PETSHOP_ADMIN_FALLBACKPASSWORD", "from-env-pass")

	cfg, err := New(dir)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.GitHub.Token)
	require.Equal(t, "from-env-pass", cfg.Admin.FallbackPassword)
}

func TestNew_ProxyMode(t *testing.T) {
	dir := writeConfig(t, `
proxy:
  baseUrl: https://backend.example.com
  apiKey: secret
`)
	cfg, err := New(dir)
	require.NoError(t, err)
	require.True(t, cfg.UseProxy())
	require.Equal(t, "https://backend.example.com", cfg.Proxy.BaseURL)
}

func TestCanonicalizeEnvKey(t *testing.T) {
	existing := map[string]any{
		"admin":  map[string]any{"fallbackPassword": ""},
		"github": map[string]any{"token": ""},
	}
	require.Equal(t, "admin.fallbackPassword", canonicalizeEnvKey("ADMIN_FALLBACKPASSWORD", existing))
	require.Equal(t, "github.token", canonicalizeEnvKey("GITHUB_TOKEN", existing))
	require.Equal(t, "proxy.baseurl", canonicalizeEnvKey("PROXY_BASEURL", existing))
}
