package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithOptions(Options{})
	require.NoError(t, err)

	assert.Equal(t, "gemini-3-pro-image-preview", cfg.GeminiModel)
	assert.Equal(t, 3, cfg.GenerationMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.GenerationBaseDelay)
	assert.Equal(t, "2K", cfg.GenerationImageSize)
	assert.Equal(t, 30*time.Second, cfg.DashboardRefresh)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "totem.yaml", "N8N_WEBHOOK_URL: https://yaml.example/hook\nGEMINI_MODEL: from-yaml\nTOTEM_ADDR: \":9000\"\n")
	envPath := writeFile(t, dir, ".env", "GEMINI_MODEL=from-dotenv\n")

	t.Setenv("TOTEM_ADDR", ":7000")
	t.Cleanup(func() { os.Unsetenv("GEMINI_MODEL") })

	cfg, err := LoadWithOptions(Options{YAMLPath: yamlPath, EnvFile: envPath})
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr, "process env wins")
	assert.Equal(t, "from-dotenv", cfg.GeminiModel, ".env beats yaml")
	assert.Equal(t, "https://yaml.example/hook", cfg.WebhookURL, "yaml beats defaults")
}

func TestLoad_PlaceholdersAreUnset(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "totem.yaml", "SUPABASE_URL: https://real.supabase.co\nGEMINI_API_KEY: __VITE_GEMINI_API_KEY__\n")

	t.Setenv("SUPABASE_URL", "__VITE_SUPABASE_URL__")

	cfg, err := LoadWithOptions(Options{YAMLPath: yamlPath})
	require.NoError(t, err)

	assert.Equal(t, "https://real.supabase.co", cfg.SupabaseURL)
	assert.False(t, cfg.Has(KeyGeminiAPIKey))
	assert.Empty(t, cfg.GeminiAPIKey)
}

func TestLoad_ViteAlias(t *testing.T) {
	t.Setenv("VITE_N8N_WEBHOOK_URL", "https://n8n.example/webhook/x")

	cfg, err := LoadWithOptions(Options{})
	require.NoError(t, err)
	assert.True(t, cfg.Has(KeyWebhookURL))
	assert.Equal(t, "https://n8n.example/webhook/x", cfg.WebhookURL)
}

func TestIsPlaceholder(t *testing.T) {
	tests := map[string]bool{
		"__VITE_SUPABASE_URL__": true,
		"  __X":                 true,
		"https://x":             false,
		"":                      false,
	}
	for in, want := range tests {
		if got := IsPlaceholder(in); got != want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"bad webhook url", map[string]string{KeyWebhookURL: "ftp://x"}, true},
		{"postgres without dsn", map[string]string{KeyStore: StorePostgres}, true},
		{"postgres with dsn", map[string]string{KeyStore: StorePostgres, KeyDatabaseURL: "postgres://localhost/totem"}, false},
		{"unknown store", map[string]string{KeyStore: "mongo"}, true},
		{"zero attempts", map[string]string{KeyGenerationMaxAttempts: "0"}, true},
		{"bad size", map[string]string{KeyGenerationImageSize: "8K"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromValues(tt.values)
			require.NoError(t, err)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromValues_BadDuration(t *testing.T) {
	_, err := FromValues(map[string]string{KeyStateTTL: "forever"})
	assert.Error(t, err)
}
