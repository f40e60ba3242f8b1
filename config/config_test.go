package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"APP_ENV", "SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_ANON_KEY", "DATABASE_URL",
	"STORAGE_BACKEND", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY", "HTTP_TIMEOUT",
	"SCRAPE_DELAY", "SCRAPE_CONCURRENCY", "WAITLIST_CAPACITY", "EQUIPMENT_BUCKET", "SITE_URL",
}

// clearEnv registers every key with t.Setenv (so it is restored) and then unsets it.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func signedKey(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": role,
		"iss":  "supabase",
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StorageBackendREST, cfg.Storage.Backend)
	assert.Equal(t, "equipment-photos", cfg.Storage.EquipmentBucket)
	assert.Equal(t, "avatars", cfg.Storage.AvatarBucket)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Scrape.Delay)
	assert.Equal(t, 3, cfg.Scrape.Concurrency)
	assert.Equal(t, int64(15<<20), cfg.Scrape.MaxImageBytes)
	assert.Equal(t, "./.teedops/state.db", cfg.Ledger.Path)
	assert.Equal(t, 500, cfg.Waitlist.Capacity)
	assert.False(t, cfg.HasDirectDatabase())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, "staging.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"SUPABASE_URL=https://abc.supabase.co/\n"+
			"SUPABASE_SERVICE_ROLE_KEY=secret\n"+
			"SCRAPE_DELAY=250ms\n"+
			"SCRAPE_CONCURRENCY=5\n"+
			"WAITLIST_CAPACITY=1200\n"), 0o600))

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "https://abc.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "secret", cfg.Supabase.ServiceRoleKey)
	assert.Equal(t, 250*time.Millisecond, cfg.Scrape.Delay)
	assert.Equal(t, 5, cfg.Scrape.Concurrency)
	assert.Equal(t, 1200, cfg.Waitlist.Capacity)
}

func TestLoadConfig_ProcessEnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("EQUIPMENT_BUCKET=from-file\n"), 0o600))
	t.Setenv("EQUIPMENT_BUCKET", "from-env")

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Storage.EquipmentBucket)
}

func TestLoadConfig_Durations(t *testing.T) {
	tests := []struct {
		name      string
		delay     string
		timeout   string
		wantDelay time.Duration
		wantHTTP  time.Duration
		errField  string
	}{
		{"go durations", "2s", "45s", 2 * time.Second, 45 * time.Second, ""},
		{"bare numbers", "2000", "10", 2 * time.Second, 10 * time.Second, ""},
		{"bare delay is milliseconds", "2", "", 2 * time.Millisecond, 30 * time.Second, ""},
		{"fractional", "1.5s", "", 1500 * time.Millisecond, 30 * time.Second, ""},
		{"garbage delay", "soon", "", 0, 0, "SCRAPE_DELAY"},
		{"garbage timeout", "", "forever", 0, 0, "HTTP_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			chdir(t, t.TempDir())
			t.Setenv("SCRAPE_DELAY", tt.delay)
			t.Setenv("HTTP_TIMEOUT", tt.timeout)

			cfg, err := LoadConfig()
			if tt.errField != "" {
				require.Error(t, err)
				var ce *ConfigError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, tt.errField, ce.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelay, cfg.Scrape.Delay)
			assert.Equal(t, tt.wantHTTP, cfg.HTTP.Timeout)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.env"))

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "env-file", cfgErr.Field)
}

func validConfig() *Config {
	return &Config{
		Supabase: SupabaseConfig{URL: "https://abc.supabase.co", ServiceRoleKey: "k"},
		Storage:  StorageConfig{Backend: StorageBackendREST},
		HTTP:     HTTPConfig{Timeout: time.Second},
		Scrape:   ScrapeConfig{Concurrency: 1},
		Waitlist: WaitlistConfig{Capacity: 10},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		expectedField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing url", func(c *Config) { c.Supabase.URL = "" }, "SUPABASE_URL"},
		{"url without scheme", func(c *Config) { c.Supabase.URL = "abc.supabase.co" }, "SUPABASE_URL"},
		{"missing service key", func(c *Config) { c.Supabase.ServiceRoleKey = "" }, "SUPABASE_SERVICE_ROLE_KEY"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "gcs" }, "STORAGE_BACKEND"},
		{"s3 without endpoint", func(c *Config) { c.Storage.Backend = StorageBackendS3 }, "S3_ENDPOINT"},
		{"s3 without keys", func(c *Config) {
			c.Storage.Backend = StorageBackendS3
			c.Storage.S3.Endpoint = "abc.supabase.co"
		}, "S3_ACCESS_KEY"},
		{"zero concurrency", func(c *Config) { c.Scrape.Concurrency = 0 }, "SCRAPE_CONCURRENCY"},
		{"zero capacity", func(c *Config) { c.Waitlist.Capacity = 0 }, "WAITLIST_CAPACITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectedField == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.expectedField, cfgErr.Field)
		})
	}
}

func TestLooksLikeProduction(t *testing.T) {
	tests := []struct {
		env      string
		url      string
		expected bool
	}{
		{"", "https://abc.supabase.co", true},
		{"", "http://localhost:54321", false},
		{"", "http://127.0.0.1:54321", false},
		{"development", "https://abc.supabase.co", false},
		{"production", "http://localhost:54321", true},
	}
	for _, tt := range tests {
		t.Run(tt.env+" "+tt.url, func(t *testing.T) {
			cfg := &Config{Environment: tt.env, Supabase: SupabaseConfig{URL: tt.url}}
			assert.Equal(t, tt.expected, cfg.LooksLikeProduction())
		})
	}
}

func TestKeyRole(t *testing.T) {
	role, err := KeyRole(signedKey(t, "service_role"))
	require.NoError(t, err)
	assert.Equal(t, RoleServiceRole, role)

	role, err = KeyRole(signedKey(t, "anon"))
	require.NoError(t, err)
	assert.Equal(t, RoleAnon, role)

	role, err = KeyRole("sb_secret_abc123")
	require.NoError(t, err)
	assert.Equal(t, RoleServiceRole, role)

	_, err = KeyRole("not-a-jwt")
	assert.Error(t, err)

	_, err = KeyRole("")
	assert.Error(t, err)
}
