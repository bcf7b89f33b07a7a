package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Call  CallConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is only required when Store is "postgres".
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// CallConfig controls call routing and signaling behavior.
type CallConfig struct {
	// Store selects the call record backend: "memory" or "postgres".
	Store string
	// AvailabilityStore selects the availability index backend: "memory" or "redis".
	AvailabilityStore string

	// RingTimeout is how long a call stays ringing before it is marked missed.
	RingTimeout time.Duration

	// SocketPath is the websocket endpoint path.
	SocketPath string
	// RoomPrefix namespaces all room names (optional).
	RoomPrefix string
	// DefaultOrgID scopes calls that arrive without an explicit org.
	DefaultOrgID string

	// OrgMaxRinging caps concurrently ringing calls per org (0 = unlimited).
	// Enforced only when Redis is configured.
	OrgMaxRinging int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Call.Store = defaultString("CALL_STORE", "memory")
	c.Call.AvailabilityStore = defaultString("AVAILABILITY_STORE", "memory")
	{
		d, err := optionalDuration("CALL_RING_TIMEOUT")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Call.RingTimeout = d
	}
	c.Call.SocketPath = defaultString("SOCKET_PATH", "/socket")
	c.Call.RoomPrefix = strings.TrimSpace(os.Getenv("ROOM_PREFIX"))
	c.Call.DefaultOrgID = defaultString("DEFAULT_ORG_ID", "default")
	{
		n, err := optionalInt("CALL_ORG_MAX_RINGING")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Call.OrgMaxRinging = n
	}

	if c.Call.Store == "postgres" {
		c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
		{
			n, err := mustInt("DB_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.DB.Port = n
		}
		c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
		c.DB.Password = os.Getenv("DB_PASSWORD")
		c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
		c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	}

	if c.RedisRequired() {
		c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
		{
			n, err := mustInt("REDIS_PORT")
			n, parseErrs = appendParseErr(parseErrs, n, err)
			c.Redis.Port = n
		}
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	{
		d, err := optionalDuration("JWT_ACCESS_TTL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth.AccessTokenTTL = d
	}
	{
		d, err := optionalDuration("JWT_REFRESH_TTL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth.RefreshTokenTTL = d
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	switch c.Call.Store {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("CALL_STORE must be memory or postgres, got %q", c.Call.Store))
	}
	switch c.Call.AvailabilityStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("AVAILABILITY_STORE must be memory or redis, got %q", c.Call.AvailabilityStore))
	}
	if c.Call.RingTimeout <= 0 {
		// Default: callers should not ring forever.
		c.Call.RingTimeout = 45 * time.Second
	}
	if !strings.HasPrefix(c.Call.SocketPath, "/") {
		errs = append(errs, fmt.Errorf("SOCKET_PATH must start with /, got %q", c.Call.SocketPath))
	}
	if c.Call.OrgMaxRinging < 0 {
		errs = append(errs, fmt.Errorf("CALL_ORG_MAX_RINGING must be >= 0, got %d", c.Call.OrgMaxRinging))
	}

	if c.Call.Store == "postgres" {
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required"))
		}
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisRequired() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		// Default: longer-lived refresh tokens.
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// RedisRequired reports whether any configured feature needs a redis connection.
func (c Config) RedisRequired() bool {
	return c.Call.AvailabilityStore == "redis" || c.Call.OrgMaxRinging > 0
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 45s, got %q", key, v)
	}
	return d, nil
}

func defaultString(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
