package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Mail      MailConfig
	Events    EventsConfig
	RateLimit RateLimitConfig
	Sweep     SweepConfig
	Auth      AuthConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8080"`
	Env          string        `envconfig:"APP_ENV" default:"development"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is
	// believed. Empty means the TCP peer is the client.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`
}

type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" required:"true"`
	Port            string        `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" required:"true"`
	Password        string        `envconfig:"DB_PASSWORD" required:"true"`
	Name            string        `envconfig:"DB_NAME" required:"true"`
	SSLMode         string        `envconfig:"DB_SSLMODE" default:"require"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
}

// GatewayConfig holds the Cashfree PG credentials and callback URLs.
type GatewayConfig struct {
	BaseURL          string        `envconfig:"CASHFREE_BASE_URL" default:"https://sandbox.cashfree.com/pg"`
	APIVersion       string        `envconfig:"CASHFREE_API_VERSION" default:"2023-08-01"`
	AppID            string        `envconfig:"CASHFREE_APP_ID" required:"true"`
	SecretKey        string        `envconfig:"CASHFREE_SECRET_KEY" required:"true"`
	WebhookSecret    string        `envconfig:"CASHFREE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `envconfig:"CASHFREE_WEBHOOK_TOLERANCE" default:"10m"`
	CheckoutURL      string        `envconfig:"CHECKOUT_URL" required:"true"`
	ReturnURL        string        `envconfig:"PAYMENT_RETURN_URL" required:"true"`
	NotifyURL        string        `envconfig:"PAYMENT_NOTIFY_URL" required:"true"`
	Currency         string        `envconfig:"PAYMENT_CURRENCY" default:"INR"`
	Timeout          time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"5s"`
}

// SigningSecret is the key webhooks are verified with. Cashfree signs with
// the API secret unless a dedicated webhook secret is configured.
func (g GatewayConfig) SigningSecret() string {
	if g.WebhookSecret != "" {
		return g.WebhookSecret
	}
	return g.SecretKey
}

type MailConfig struct {
	Host     string `envconfig:"SMTP_HOST" required:"true"`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USERNAME"`
	Password string `envconfig:"SMTP_PASSWORD"`
	From     string `envconfig:"MAIL_FROM" required:"true"`
	TLS      bool   `envconfig:"SMTP_TLS" default:"true"`
}

// EventsConfig is optional: an empty RabbitURL disables event publishing.
type EventsConfig struct {
	RabbitURL string `envconfig:"RABBIT_URL"`
	Exchange  string `envconfig:"EVENTS_EXCHANGE" default:"enrollment.exchange"`
}

type RateLimitConfig struct {
	StatusLimit  int           `envconfig:"STATUS_RATE_LIMIT" default:"10"`
	StatusWindow time.Duration `envconfig:"STATUS_RATE_WINDOW" default:"1m"`
}

type SweepConfig struct {
	Interval  time.Duration `envconfig:"SWEEP_INTERVAL" default:"0"`
	MinAge    time.Duration `envconfig:"SWEEP_MIN_AGE" default:"15m"`
	BatchSize int           `envconfig:"SWEEP_BATCH_SIZE" default:"50"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	QRSecret  string `envconfig:"QR_SECRET"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"enrollhub"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// LoadConfig reads the process environment. Missing credentials fail here,
// at startup, rather than degrading into no-op clients later.
func LoadConfig() (*Config, error) {
	var cfg Config
	groups := []any{
		&cfg.Server, &cfg.Database, &cfg.Gateway, &cfg.Mail, &cfg.Events,
		&cfg.RateLimit, &cfg.Sweep, &cfg.Auth, &cfg.Telemetry, &cfg.Log,
	}
	// Each group is processed on its own so keys stay unprefixed.
	for _, g := range groups {
		if err := envconfig.Process("", g); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabase reads only the database group, for commands that never
// touch the gateway or SMTP.
func LoadDatabase() (*DatabaseConfig, error) {
	var d DatabaseConfig
	if err := envconfig.Process("", &d); err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	return &d, nil
}

func LoadAuth() (*AuthConfig, error) {
	var a AuthConfig
	if err := envconfig.Process("", &a); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	return &a, nil
}

func (c *Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{
		"CASHFREE_BASE_URL":  c.Gateway.BaseURL,
		"CHECKOUT_URL":       c.Gateway.CheckoutURL,
		"PAYMENT_RETURN_URL": c.Gateway.ReturnURL,
		"PAYMENT_NOTIFY_URL": c.Gateway.NotifyURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", name))
		}
	}
	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p))
			}
		}
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.RateLimit.StatusLimit <= 0 || c.RateLimit.StatusWindow <= 0 {
		errs = append(errs, errors.New("STATUS_RATE_LIMIT and STATUS_RATE_WINDOW must be positive"))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}
	if !strings.Contains(c.Mail.From, "@") {
		errs = append(errs, errors.New("MAIL_FROM must be an email address"))
	}
	return errors.Join(errs...)
}

// QRSigningSecret falls back to the JWT secret when no dedicated key is set.
func (a AuthConfig) QRSigningSecret() string {
	if a.QRSecret != "" {
		return a.QRSecret
	}
	return a.JWTSecret
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

// InitDatabase opens the pool. Schema is owned by the migrate command.
func InitDatabase(cfg *DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}
