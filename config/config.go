// Package config assembles runtime settings from defaults, an optional TOML
// file and the environment, in that order of precedence.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendTable  = "table"

	AuthSession = "session"
	AuthJWT     = "jwt"
	AuthHS256   = "hs256"
)

type Config struct {
	Debug      bool   `toml:"debug"`
	ListenAddr string `toml:"listen_addr"`

	StoreBackend     string        `toml:"store_backend"`
	RedisConn        string        `toml:"redis_connection_string"`
	RedisKeyPrefix   string        `toml:"redis_key_prefix"`
	StorageConn      string        `toml:"storage_connection_string"`
	RecordsTable     string        `toml:"records_table"`
	RecordsPartition string        `toml:"records_partition"`
	CacheTTL         time.Duration `toml:"cache_ttl"`

	NotifyQueue          string        `toml:"notify_queue"`
	NotifyWorkers        int           `toml:"notify_workers"`
	NotifyBuffer         int           `toml:"notify_buffer"`
	NotifyHandoffTimeout time.Duration `toml:"notify_handoff_timeout"`
	NotifyTimeout        time.Duration `toml:"notify_timeout"`

	TasksPageSize     int           `toml:"tasks_page_size"`
	LoginDelay        time.Duration `toml:"login_delay"`
	LogoutClearsTasks bool          `toml:"logout_clears_tasks"`

	AuthMode       string        `toml:"auth_mode"`
	Auth0Domain    string        `toml:"auth0_domain"`
	Auth0Audience  string        `toml:"auth0_audience"`
	SharedSecret   string        `toml:"local_auth_shared_secret"`
	JWKSCacheTTL   time.Duration `toml:"jwks_cache_ttl"`
	IdempotencyTTL time.Duration `toml:"idempotency_ttl"`
}

func Default() *Config {
	return &Config{
		ListenAddr:           ":8080",
		StoreBackend:         BackendMemory,
		RedisKeyPrefix:       "todofy:",
		RecordsTable:         "records",
		RecordsPartition:     "todofy",
		CacheTTL:             5 * time.Minute,
		NotifyWorkers:        4,
		NotifyBuffer:         256,
		NotifyHandoffTimeout: 15 * time.Millisecond,
		NotifyTimeout:        30 * time.Second,
		TasksPageSize:        5,
		LoginDelay:           time.Second,
		AuthMode:             AuthSession,
		JWKSCacheTTL:         15 * time.Minute,
		IdempotencyTTL:       24 * time.Hour,
	}
}

// Load builds the configuration. path names an optional TOML file; when empty
// TODOFY_CONFIG is consulted.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("TODOFY_CONFIG")
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := loadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the TOML file onto cfg. Durations are written as strings
// such as "15ms".
func loadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	if v := os.Getenv("DEBUG"); v != "" {
		// unparsable DEBUG means off
		cfg.Debug, _ = strconv.ParseBool(v)
	}
	str("LISTEN_ADDR", &cfg.ListenAddr)
	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		cfg.ListenAddr = ":" + v
	}
	str("STORE_BACKEND", &cfg.StoreBackend)
	str("REDIS_CONNECTION_STRING", &cfg.RedisConn)
	str("REDIS_KEY_PREFIX", &cfg.RedisKeyPrefix)
	str("STORAGE_CONNECTION_STRING", &cfg.StorageConn)
	str("RECORDS_TABLE", &cfg.RecordsTable)
	str("RECORDS_PARTITION", &cfg.RecordsPartition)
	dur("CACHE_TTL", &cfg.CacheTTL)
	str("NOTIFY_QUEUE", &cfg.NotifyQueue)
	integer("NOTIFY_WORKERS", &cfg.NotifyWorkers)
	integer("NOTIFY_BUFFER", &cfg.NotifyBuffer)
	dur("NOTIFY_HANDOFF_TIMEOUT", &cfg.NotifyHandoffTimeout)
	dur("NOTIFY_TIMEOUT", &cfg.NotifyTimeout)
	integer("TASKS_PAGE_SIZE", &cfg.TasksPageSize)
	dur("LOGIN_DELAY", &cfg.LoginDelay)
	boolean("LOGOUT_CLEARS_TASKS", &cfg.LogoutClearsTasks)
	str("AUTH_MODE", &cfg.AuthMode)
	str("AUTH0_DOMAIN", &cfg.Auth0Domain)
	str("AUTH0_AUDIENCE", &cfg.Auth0Audience)
	str("LOCAL_AUTH_SHARED_SECRET", &cfg.SharedSecret)
	dur("JWKS_CACHE_TTL", &cfg.JWKSCacheTTL)
	dur("IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)

	return errors.Join(errs...)
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisConn == "" {
			errs = append(errs, errors.New("missing redis config: REDIS_CONNECTION_STRING is required for the redis backend"))
		}
	case BackendTable:
		if c.StorageConn == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING is required for the table backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.AuthMode {
	case AuthSession:
	case AuthJWT:
		if c.Auth0Domain == "" || c.Auth0Audience == "" {
			errs = append(errs, errors.New("missing Auth0 config"))
		}
	case AuthHS256:
		if c.SharedSecret == "" {
			errs = append(errs, errors.New("missing LOCAL_AUTH_SHARED_SECRET"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid AUTH_MODE %q", c.AuthMode))
	}
	if c.TasksPageSize <= 0 {
		errs = append(errs, errors.New("invalid TASKS_PAGE_SIZE: must be greater than zero"))
	}
	if c.NotifyQueue != "" && c.StorageConn == "" {
		errs = append(errs, errors.New("NOTIFY_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("invalid IDEMPOTENCY_TTL: must be greater than zero"))
	}
	return errors.Join(errs...)
}

// RedisOptions parses RedisConn, which is either a redis:// URL or the Azure
// style "host:port,password=...,ssl=true" form.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisConn == "" {
		return nil, errors.New("missing redis config")
	}
	opts, err := redis.ParseURL(c.RedisConn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(c.RedisConn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

// JWKSURL is the key set endpoint of the configured Auth0 tenant.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Issuer is the expected iss claim of Auth0 tokens.
func (c *Config) Issuer() string {
	return "https://" + c.Auth0Domain + "/"
}
