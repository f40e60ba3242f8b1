package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// DefaultEnvFiles are read, in order, when no env file is given on the command line.
// godotenv never overrides a variable that is already set, so earlier files win.
var DefaultEnvFiles = []string{".env.local", ".env"}

const (
	StorageBackendREST  = "rest"
	StorageBackendS3    = "s3"
	StorageBackendLocal = "local"
)

// Config holds all configuration for the toolkit
type Config struct {
	Environment string
	Supabase    SupabaseConfig
	Database    DatabaseConfig
	Storage     StorageConfig
	HTTP        HTTPConfig
	Scrape      ScrapeConfig
	Ledger      LedgerConfig
	Logging     LoggingConfig
	Waitlist    WaitlistConfig
	SiteURL     string
}

// SupabaseConfig holds the project URL and API keys
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	AnonKey        string
}

// DatabaseConfig holds the optional direct PostgreSQL connection
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend         string
	EquipmentBucket string
	AvatarBucket    string
	S3              S3Config
	Local           LocalStorageConfig
}

// S3Config points at the Supabase Storage S3 endpoint
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// LocalStorageConfig is used for dry runs
type LocalStorageConfig struct {
	Path    string
	BaseURL string
}

type HTTPConfig struct {
	Timeout time.Duration
}

// ScrapeConfig controls politeness when fetching third-party pages
type ScrapeConfig struct {
	Delay         time.Duration
	Concurrency   int
	UserAgent     string
	MaxImageBytes int64
}

type LedgerConfig struct {
	Path string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

type WaitlistConfig struct {
	Capacity int
}

// LoadConfig loads the env files (missing default files are ignored, missing explicit
// files are an error) and then reads configuration from the environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	explicit := len(envFiles) > 0
	if !explicit {
		envFiles = DefaultEnvFiles
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			if explicit {
				return nil, &ConfigError{Field: "env-file", Message: fmt.Sprintf("cannot read %s: %v", f, err)}
			}
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, &ConfigError{Field: "env-file", Message: fmt.Sprintf("cannot parse %s: %v", f, err)}
		}
	}

	cfg := &Config{}

	cfg.Environment = cast.ToString(getOrReturnDefaultValue("APP_ENV", ""))

	cfg.Supabase.URL = strings.TrimRight(cast.ToString(getOrReturnDefaultValue("SUPABASE_URL", "")), "/")
	cfg.Supabase.ServiceRoleKey = cast.ToString(getOrReturnDefaultValue("SUPABASE_SERVICE_ROLE_KEY", ""))
	cfg.Supabase.AnonKey = cast.ToString(getOrReturnDefaultValue("SUPABASE_ANON_KEY", ""))

	cfg.Database.URL = cast.ToString(getOrReturnDefaultValue("DATABASE_URL", ""))
	cfg.Database.MaxConns = cast.ToInt(getOrReturnDefaultValue("DB_MAX_CONNS", 4))
	cfg.Database.MinConns = cast.ToInt(getOrReturnDefaultValue("DB_MIN_CONNS", 0))

	cfg.Storage.Backend = strings.ToLower(cast.ToString(getOrReturnDefaultValue("STORAGE_BACKEND", StorageBackendREST)))
	cfg.Storage.EquipmentBucket = cast.ToString(getOrReturnDefaultValue("EQUIPMENT_BUCKET", "equipment-photos"))
	cfg.Storage.AvatarBucket = cast.ToString(getOrReturnDefaultValue("AVATAR_BUCKET", "avatars"))
	cfg.Storage.S3.Endpoint = cast.ToString(getOrReturnDefaultValue("S3_ENDPOINT", ""))
	cfg.Storage.S3.AccessKey = cast.ToString(getOrReturnDefaultValue("S3_ACCESS_KEY", ""))
	cfg.Storage.S3.SecretKey = cast.ToString(getOrReturnDefaultValue("S3_SECRET_KEY", ""))
	cfg.Storage.S3.Region = cast.ToString(getOrReturnDefaultValue("S3_REGION", "us-east-1"))
	cfg.Storage.S3.UseSSL = cast.ToBool(getOrReturnDefaultValue("S3_USE_SSL", true))
	cfg.Storage.Local.Path = cast.ToString(getOrReturnDefaultValue("LOCAL_STORAGE_PATH", "./.teedops/storage"))
	cfg.Storage.Local.BaseURL = cast.ToString(getOrReturnDefaultValue("LOCAL_STORAGE_BASE_URL", ""))

	var err error
	if cfg.HTTP.Timeout, err = getDuration("HTTP_TIMEOUT", 30*time.Second, time.Second); err != nil {
		return nil, err
	}

	if cfg.Scrape.Delay, err = getDuration("SCRAPE_DELAY", 1500*time.Millisecond, time.Millisecond); err != nil {
		return nil, err
	}
	cfg.Scrape.Concurrency = cast.ToInt(getOrReturnDefaultValue("SCRAPE_CONCURRENCY", 3))
	cfg.Scrape.UserAgent = cast.ToString(getOrReturnDefaultValue("SCRAPE_USER_AGENT",
		"Mozilla/5.0 (compatible; teedops-image-collector/1.0; +https://teed.club)"))
	cfg.Scrape.MaxImageBytes = cast.ToInt64(getOrReturnDefaultValue("SCRAPE_MAX_IMAGE_BYTES", 15<<20))

	cfg.Ledger.Path = cast.ToString(getOrReturnDefaultValue("STATE_DB_PATH", "./.teedops/state.db"))

	cfg.Logging.Level = cast.ToString(getOrReturnDefaultValue("LOG_LEVEL", "info"))
	cfg.Logging.Format = cast.ToString(getOrReturnDefaultValue("LOG_FORMAT", "console"))

	cfg.Waitlist.Capacity = cast.ToInt(getOrReturnDefaultValue("WAITLIST_CAPACITY", 500))

	cfg.SiteURL = strings.TrimRight(cast.ToString(getOrReturnDefaultValue("SITE_URL", "http://localhost:3000")), "/")

	return cfg, nil
}

// getOrReturnDefaultValue treats a set-but-empty variable as unset.
func getOrReturnDefaultValue(key string, defaultValue any) any {
	if val, exists := os.LookupEnv(key); exists && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return defaultValue
}

// getDuration reads a Go duration ("2s", "750ms"). A bare number is counted in
// unit, so SCRAPE_DELAY=2000 is two seconds, not two nanoseconds.
func getDuration(key string, defaultValue, unit time.Duration) (time.Duration, error) {
	s, ok := getOrReturnDefaultValue(key, "").(string)
	if !ok || s == "" {
		return defaultValue, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	d, err := cast.ToDurationE(s)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("invalid duration %q (e.g. 1500ms or 2s)", s)}
	}
	return d, nil
}

// Validate returns the first problem found, as a *ConfigError.
func (c *Config) Validate() error {
	if c.Supabase.URL == "" {
		return &ConfigError{Field: "SUPABASE_URL", Message: "Supabase URL is required"}
	}
	u, err := url.Parse(c.Supabase.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "SUPABASE_URL", Message: "must be an http(s) URL, e.g. https://<ref>.supabase.co"}
	}
	if c.Supabase.ServiceRoleKey == "" {
		return &ConfigError{Field: "SUPABASE_SERVICE_ROLE_KEY", Message: "service role key is required"}
	}

	switch c.Storage.Backend {
	case StorageBackendREST, StorageBackendLocal:
	case StorageBackendS3:
		if c.Storage.S3.Endpoint == "" {
			return &ConfigError{Field: "S3_ENDPOINT", Message: "required when STORAGE_BACKEND=s3"}
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return &ConfigError{Field: "S3_ACCESS_KEY", Message: "S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_BACKEND=s3"}
		}
	default:
		return &ConfigError{Field: "STORAGE_BACKEND", Message: fmt.Sprintf("unknown backend %q (want rest, s3 or local)", c.Storage.Backend)}
	}

	if c.Scrape.Concurrency < 1 {
		return &ConfigError{Field: "SCRAPE_CONCURRENCY", Message: "must be at least 1"}
	}
	if c.Scrape.Delay < 0 {
		return &ConfigError{Field: "SCRAPE_DELAY", Message: "must not be negative"}
	}
	if c.HTTP.Timeout <= 0 {
		return &ConfigError{Field: "HTTP_TIMEOUT", Message: "must be positive"}
	}
	if c.Waitlist.Capacity < 1 {
		return &ConfigError{Field: "WAITLIST_CAPACITY", Message: "must be at least 1"}
	}
	return nil
}

// HasDirectDatabase reports whether a Postgres connection string is configured.
func (c *Config) HasDirectDatabase() bool {
	return c.Database.URL != ""
}

// LooksLikeProduction guards tasks that write synthetic data. APP_ENV wins when set;
// otherwise any non-local Supabase host is treated as production.
func (c *Config) LooksLikeProduction() bool {
	switch strings.ToLower(c.Environment) {
	case "prod", "production":
		return true
	case "dev", "development", "local", "staging", "test":
		return false
	}
	u, err := url.Parse(c.Supabase.URL)
	if err != nil {
		return true
	}
	host := u.Hostname()
	return host != "localhost" && host != "127.0.0.1" && host != "::1" && !strings.HasSuffix(host, ".local")
}

// ConfigError represents configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

const (
	RoleServiceRole = "service_role"
	RoleAnon        = "anon"
)

// KeyRole returns the role a Supabase API key carries. Legacy keys are JWTs whose
// payload has a "role" claim; the signature is not verified. Newer opaque keys are
// recognised by prefix.
func KeyRole(key string) (string, error) {
	switch {
	case key == "":
		return "", fmt.Errorf("empty key")
	case strings.HasPrefix(key, "sb_secret_"):
		return RoleServiceRole, nil
	case strings.HasPrefix(key, "sb_publishable_"):
		return RoleAnon, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return "", fmt.Errorf("key is not a Supabase JWT: %w", err)
	}
	role, ok := claims["role"].(string)
	if !ok || role == "" {
		return "", fmt.Errorf("key has no role claim")
	}
	return role, nil
}
