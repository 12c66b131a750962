package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/MKhalifi/employee-checkin/internal/schedule"
)

// ErrConfigurationMissing means a required setting is absent. The process must not serve traffic.
var ErrConfigurationMissing = errors.New("configuration missing")

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8081"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"postgres"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"./checkin.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	QueueBackend  string `env:"QUEUE_BACKEND" envDefault:"redis"`
	QueueKey      string `env:"QUEUE_KEY" envDefault:"checkin:events"`

	CronSecret    string `env:"CRON_SECRET"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	Timezone    string        `env:"CHECKIN_TIMEZONE" envDefault:"UTC"`
	MiddayHour  int           `env:"CHECKIN_MIDDAY_HOUR" envDefault:"12"`
	WindowTTL   time.Duration `env:"WINDOW_TTL" envDefault:"4h"`
	RotateTimes string        `env:"ROTATE_AT" envDefault:"08:00,14:00"`

	PublicBaseURL string   `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8081"`
	AllowOrigins  []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`

	OIDCIssuer       string `env:"OIDC_ISSUER"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string `env:"OIDC_REDIRECT_URL"`
	StateSigningKey  string `env:"STATE_SIGNING_KEY"`
	StateIssuer      string `env:"STATE_ISSUER" envDefault:"employee-checkin"`
}

// Load reads an optional dotenv file, then the environment. Variables already
// set in the environment win over the file.
func Load(envFile string) (App, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return App{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Production reports whether the app runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// OIDCEnabled reports whether identity provider login is configured.
func (a App) OIDCEnabled() bool {
	return a.OIDCIssuer != ""
}

// Location resolves the civil-time zone used for session kinds.
func (a App) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid CHECKIN_TIMEZONE %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// Validate reports every missing setting shared by the API and the worker at once.
func (a App) Validate() error {
	return a.validate(nil)
}

// ValidateAPI is Validate plus the settings only the HTTP API needs.
func (a App) ValidateAPI() error {
	var missing []string
	if a.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}
	return a.validate(missing)
}

func (a App) validate(missing []string) error {
	switch a.StoreBackend {
	case "postgres":
		if a.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		if a.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want postgres or sqlite)", a.StoreBackend)
	}
	if a.OIDCEnabled() {
		if a.OIDCClientID == "" {
			missing = append(missing, "OIDC_CLIENT_ID")
		}
		if a.OIDCRedirectURL == "" {
			missing = append(missing, "OIDC_REDIRECT_URL")
		}
		if a.StateSigningKey == "" {
			missing = append(missing, "STATE_SIGNING_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", "))
	}

	if _, err := a.Location(); err != nil {
		return err
	}
	if _, err := schedule.ParseTimes(a.RotateTimes); err != nil {
		return fmt.Errorf("invalid ROTATE_AT: %w", err)
	}
	if a.MiddayHour < 1 || a.MiddayHour > 23 {
		return fmt.Errorf("CHECKIN_MIDDAY_HOUR must be between 1 and 23, got %d", a.MiddayHour)
	}
	switch a.QueueBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q (want redis or memory)", a.QueueBackend)
	}
	switch a.RateLimitBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q (want redis or memory)", a.RateLimitBackend)
	}
	return nil
}
