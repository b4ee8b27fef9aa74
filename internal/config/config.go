package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the gateway process.
// All values must come from env (or a .env file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	SIP          SIPConfig
	Media        MediaConfig
	AI           AIConfig
	Registration RegistrationConfig
	Call         CallConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	// Driver selects the ledger backend: postgres or sqlite.
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	SQLitePath string
}

// RedisConfig is optional; Host empty disables call caps.
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

	// AdminPassword seeds the "admin" user on startup when set.
	AdminPassword string
}

type SIPConfig struct {
	ListenAddr      string
	Transport       string
	PublicHost      string
	PublicPort      int
	UserAgent       string
	RegisterTimeout time.Duration
}

type MediaConfig struct {
	ServerURL    string
	ServerSecret string
	// MediaPath holds greetings/ and goodbyes/ prompt files.
	MediaPath string
	TempPath  string
}

type AIConfig struct {
	OpenAIKey     string
	OpenAIBaseURL string
	ElevenLabsKey string
	HTTPTimeout   time.Duration
}

type RegistrationConfig struct {
	RetryDelay      time.Duration
	ReregisterDelay time.Duration
}

type CallConfig struct {
	MaxRecord              time.Duration
	SilenceTimeout         time.Duration
	EndMarker              string
	MaxConcurrentPerClient int
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

	c.DB.Driver = strings.TrimSpace(os.Getenv("DB_DRIVER"))
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")
	c.Auth.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	c.SIP.ListenAddr = strings.TrimSpace(os.Getenv("SIP_LISTEN_ADDR"))
	c.SIP.Transport = strings.TrimSpace(os.Getenv("SIP_TRANSPORT"))
	c.SIP.PublicHost = strings.TrimSpace(os.Getenv("SIP_PUBLIC_HOST"))
	{
		n, err := optionalInt("SIP_PUBLIC_PORT", 5060)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.SIP.PublicPort = n
	}
	c.SIP.UserAgent = strings.TrimSpace(os.Getenv("SIP_USER_AGENT"))
	c.SIP.RegisterTimeout = mustDuration("SIP_REGISTER_TIMEOUT")

	c.Media.ServerURL = strings.TrimSpace(os.Getenv("MEDIA_SERVER_URL"))
	c.Media.ServerSecret = os.Getenv("MEDIA_SERVER_SECRET")
	c.Media.MediaPath = strings.TrimSpace(os.Getenv("MEDIA_PATH"))
	c.Media.TempPath = strings.TrimSpace(os.Getenv("TEMP_PATH"))

	c.AI.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.AI.OpenAIBaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.AI.ElevenLabsKey = os.Getenv("ELEVENLABS_API_KEY")
	c.AI.HTTPTimeout = mustDuration("AI_HTTP_TIMEOUT")

	c.Registration.RetryDelay = mustDuration("REG_RETRY_DELAY")
	c.Registration.ReregisterDelay = mustDuration("REG_REREGISTER_DELAY")

	c.Call.MaxRecord = mustDuration("CALL_MAX_RECORD")
	c.Call.SilenceTimeout = mustDuration("CALL_SILENCE_TIMEOUT")
	c.Call.EndMarker = os.Getenv("CALL_END_MARKER")
	{
		n, err := optionalInt("CALL_MAX_CONCURRENT_PER_CLIENT", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Call.MaxConcurrentPerClient = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
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

	errs = append(errs, c.validateDB()...)

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Call.MaxConcurrentPerClient < 0 {
		errs = append(errs, errors.New("CALL_MAX_CONCURRENT_PER_CLIENT must not be negative"))
	}
	if c.Call.MaxConcurrentPerClient > 0 && c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required when CALL_MAX_CONCURRENT_PER_CLIENT is set"))
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
		c.Auth.AccessTokenTTL = time.Hour
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.SIP.ListenAddr == "" {
		c.SIP.ListenAddr = "0.0.0.0:5060"
	}
	if c.SIP.Transport == "" {
		c.SIP.Transport = "udp"
	}
	if !isValidSIPTransport(c.SIP.Transport) {
		errs = append(errs, fmt.Errorf("SIP_TRANSPORT must be one of udp, tcp, got %q", c.SIP.Transport))
	}
	if c.SIP.PublicHost == "" {
		errs = append(errs, errors.New("SIP_PUBLIC_HOST is required"))
	}
	if c.SIP.PublicPort <= 0 || c.SIP.PublicPort > 65535 {
		errs = append(errs, fmt.Errorf("SIP_PUBLIC_PORT must be a valid port, got %d", c.SIP.PublicPort))
	}
	if c.SIP.UserAgent == "" {
		c.SIP.UserAgent = "voice-gateway"
	}
	if c.SIP.RegisterTimeout <= 0 {
		c.SIP.RegisterTimeout = 30 * time.Second
	}

	if c.Media.ServerURL == "" {
		errs = append(errs, errors.New("MEDIA_SERVER_URL is required"))
	}
	if c.Media.MediaPath == "" {
		c.Media.MediaPath = "./media"
	}
	if c.Media.TempPath == "" {
		c.Media.TempPath = os.TempDir()
	}

	if c.AI.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.AI.ElevenLabsKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
	}
	if c.AI.OpenAIBaseURL == "" {
		c.AI.OpenAIBaseURL = "https://api.openai.com"
	}
	if c.AI.HTTPTimeout <= 0 {
		c.AI.HTTPTimeout = 60 * time.Second
	}

	if c.Registration.RetryDelay <= 0 {
		c.Registration.RetryDelay = 60 * time.Second
	}
	if c.Registration.ReregisterDelay <= 0 {
		c.Registration.ReregisterDelay = 5 * time.Second
	}

	if c.Call.MaxRecord <= 0 {
		c.Call.MaxRecord = 10 * time.Second
	}
	if c.Call.SilenceTimeout <= 0 {
		c.Call.SilenceTimeout = 2 * time.Second
	}
	if strings.TrimSpace(c.Call.EndMarker) == "" {
		c.Call.EndMarker = "[END_CONVERSATION]"
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Driver == "" {
		c.DB.Driver = "postgres"
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.SQLitePath == "" {
			c.DB.SQLitePath = "voice-gateway.db"
		}
		return nil
	case "postgres":
	default:
		return []error{fmt.Errorf("DB_DRIVER must be one of postgres, sqlite, got %q", c.DB.Driver)}
	}

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
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
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

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
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

func isValidSIPTransport(v string) bool {
	switch v {
	case "udp", "tcp":
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
