package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"teedops/config"
)

// Config returns a validated configuration pointing at fs, with local paths under a
// per-test temp dir.
func Config(t testing.TB, fs *FakeSupabase) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Environment: "test",
		Supabase: config.SupabaseConfig{
			URL:            fs.URL(),
			ServiceRoleKey: ServiceKey,
			AnonKey:        AnonKey,
		},
		Storage: config.StorageConfig{
			Backend:         config.StorageBackendREST,
			EquipmentBucket: "equipment-photos",
			AvatarBucket:    "avatars",
			Local:           config.LocalStorageConfig{Path: filepath.Join(dir, "storage")},
		},
		HTTP:     config.HTTPConfig{Timeout: 5 * time.Second},
		Scrape:   config.ScrapeConfig{Concurrency: 2, UserAgent: "teedops-test", MaxImageBytes: 15 << 20},
		Ledger:   config.LedgerConfig{Path: filepath.Join(dir, "state.db")},
		Logging:  config.LoggingConfig{Level: "error", Format: "json"},
		Waitlist: config.WaitlistConfig{Capacity: 500},
		SiteURL:  fs.URL(),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}
