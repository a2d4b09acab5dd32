package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source" validate:"required"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

type PaymentConfig struct {
	DefaultGateway string         `mapstructure:"default_gateway" validate:"required,oneof=paystack razorpay"`
	Currency       string         `mapstructure:"currency" validate:"required,len=3"`
	MinorExponent  int32          `mapstructure:"minor_exponent" validate:"min=0,max=4"`
	CallbackURL    string         `mapstructure:"callback_url" validate:"omitempty,url"`
	VerifyTimeout  time.Duration  `mapstructure:"verify_timeout"`
	Retry          RetryConfig    `mapstructure:"retry"`
	Paystack       PaystackConfig `mapstructure:"paystack"`
	Razorpay       RazorpayConfig `mapstructure:"razorpay"`
}

type RetryConfig struct {
	MaxAttempts    uint64        `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type PaystackConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	SecretKey     string `mapstructure:"secret_key" validate:"required_if=Enabled true"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type RazorpayConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	KeyID         string `mapstructure:"key_id" validate:"required_if=Enabled true"`
	KeySecret     string `mapstructure:"key_secret" validate:"required_if=Enabled true"`
	WebhookSecret string `mapstructure:"webhook_secret" validate:"required_if=Enabled true"`
}

type WebhookConfig struct {
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ProcessingLease time.Duration `mapstructure:"processing_lease"`
}

type ReconcileConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	AbandonAfter time.Duration `mapstructure:"abandon_after"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type NotificationConfig struct {
	SMTP  SMTPConfig  `mapstructure:"smtp"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"required_if=Enabled true,omitempty,email"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers" validate:"required_if=Enabled true"`
	EventsTopic  string        `mapstructure:"events_topic"`
	SMSTopic     string        `mapstructure:"sms_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ----------------- DEFAULTS -----------------

// ApplyDefaults fills the knobs that have a sensible fallback.
func (c *Config) ApplyDefaults() {
	if c.Payment.DefaultGateway == "" {
		c.Payment.DefaultGateway = "paystack"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "GHS"
	}
	if c.Payment.MinorExponent == 0 {
		c.Payment.MinorExponent = 2
	}
	if c.Payment.VerifyTimeout <= 0 {
		c.Payment.VerifyTimeout = 10 * time.Second
	}
	if c.Payment.Retry.MaxAttempts == 0 {
		c.Payment.Retry.MaxAttempts = 3
	}
	if c.Payment.Retry.InitialBackoff <= 0 {
		c.Payment.Retry.InitialBackoff = 200 * time.Millisecond
	}
	if c.Payment.Retry.MaxBackoff <= 0 {
		c.Payment.Retry.MaxBackoff = 2 * time.Second
	}
	if c.Payment.Paystack.BaseURL == "" {
		c.Payment.Paystack.BaseURL = "https://api.paystack.co"
	}
	if c.Payment.Paystack.WebhookSecret == "" {
		c.Payment.Paystack.WebhookSecret = c.Payment.Paystack.SecretKey
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}
	if c.Webhook.ProcessingLease <= 0 {
		c.Webhook.ProcessingLease = 2 * time.Minute
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = time.Minute
	}
	if c.Reconcile.StaleAfter <= 0 {
		c.Reconcile.StaleAfter = 15 * time.Minute
	}
	if c.Reconcile.AbandonAfter <= 0 {
		c.Reconcile.AbandonAfter = 24 * time.Hour
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 100
	}
	if c.Notification.Kafka.EventsTopic == "" {
		c.Notification.Kafka.EventsTopic = "payments.events"
	}
	if c.Notification.Kafka.SMSTopic == "" {
		c.Notification.Kafka.SMSTopic = "notifications.sms"
	}
	if c.Notification.Kafka.WriteTimeout <= 0 {
		c.Notification.Kafka.WriteTimeout = 10 * time.Second
	}
	if c.Notification.SMTP.Port == 0 {
		c.Notification.SMTP.Port = 587
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the config from plain environment variables for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Payment: PaymentConfig{
			DefaultGateway: getEnv("PAYMENT_DEFAULT_GATEWAY", "paystack"),
			Currency:       getEnv("PAYMENT_CURRENCY", "GHS"),
			MinorExponent:  int32(getEnvAsInt("PAYMENT_MINOR_EXPONENT", 2)),
			CallbackURL:    getEnv("PAYMENT_CALLBACK_URL", ""),
			VerifyTimeout:  getEnvAsDuration("PAYMENT_VERIFY_TIMEOUT", 10*time.Second),
			Retry: RetryConfig{
				MaxAttempts:    uint64(getEnvAsInt("PAYMENT_RETRY_MAX_ATTEMPTS", 3)),
				InitialBackoff: getEnvAsDuration("PAYMENT_RETRY_INITIAL_BACKOFF", 200*time.Millisecond),
				MaxBackoff:     getEnvAsDuration("PAYMENT_RETRY_MAX_BACKOFF", 2*time.Second),
			},
			Paystack: PaystackConfig{
				Enabled:       getEnvAsBool("PAYSTACK_ENABLED", true),
				BaseURL:       getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
				SecretKey:     getEnv("PAYSTACK_SECRET_KEY", ""),
				WebhookSecret: getEnv("PAYSTACK_WEBHOOK_SECRET", ""),
			},
			Razorpay: RazorpayConfig{
				Enabled:       getEnvAsBool("RAZORPAY_ENABLED", false),
				KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
				KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
				WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			},
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:    int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
			ProcessingLease: getEnvAsDuration("WEBHOOK_PROCESSING_LEASE", 2*time.Minute),
		},
		Reconcile: ReconcileConfig{
			Interval:     getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter:   getEnvAsDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			AbandonAfter: getEnvAsDuration("RECONCILE_ABANDON_AFTER", 24*time.Hour),
			BatchSize:    getEnvAsInt("RECONCILE_BATCH_SIZE", 100),
			MaxWorkers:   getEnvAsInt("RECONCILE_MAX_WORKERS", 4),
			QueueSize:    getEnvAsInt("RECONCILE_QUEUE_SIZE", 100),
		},
		Notification: NotificationConfig{
			SMTP: SMTPConfig{
				Enabled:  getEnvAsBool("SMTP_ENABLED", false),
				Host:     getEnv("SMTP_HOST", ""),
				Port:     getEnvAsInt("SMTP_PORT", 587),
				Username: getEnv("SMTP_USERNAME", ""),
				Password: getEnv("SMTP_PASSWORD", ""),
				From:     getEnv("SMTP_FROM", ""),
			},
			Kafka: KafkaConfig{
				Enabled:      getEnvAsBool("KAFKA_ENABLED", false),
				Brokers:      splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
				EventsTopic:  getEnv("KAFKA_EVENTS_TOPIC", "payments.events"),
				SMSTopic:     getEnv("KAFKA_SMS_TOPIC", "notifications.sms"),
				WriteTimeout: getEnvAsDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
			},
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	var errs []string

	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if !c.Paystack.Enabled && !c.Razorpay.Enabled {
		return errors.New("at least one gateway must be enabled")
	}
	switch c.DefaultGateway {
	case "paystack":
		if !c.Paystack.Enabled {
			return errors.New("default gateway paystack is not enabled")
		}
	case "razorpay":
		if !c.Razorpay.Enabled {
			return errors.New("default gateway razorpay is not enabled")
		}
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return errors.New("retry.max_backoff must be >= retry.initial_backoff")
	}
	return nil
}
