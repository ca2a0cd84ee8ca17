package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	RabbitMQ      RabbitMQConfig
	Notifications NotificationsConfig
	Outbox        OutboxConfig
	Cron          CronConfig
	Metrics       MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Notifications.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYMENTS_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYMENTS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PAYMENTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYMENTS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYMENTS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYMENTS_DB_DSN"`
	Driver string `envconfig:"PAYMENTS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYMENTS_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYMENTS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYMENTS_DB_USER"`
	LegacyPassword string `envconfig:"PAYMENTS_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYMENTS_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYMENTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYMENTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYMENTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYMENTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYMENTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is only consumed by the cron worker and the notifications consumer.
type RedisConfig struct {
	URL          string        `envconfig:"PAYMENTS_REDIS_URL"`
	Address      string        `envconfig:"PAYMENTS_REDIS_ADDR"`
	Password     string        `envconfig:"PAYMENTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYMENTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYMENTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYMENTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYMENTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYMENTS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYMENTS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PAYMENTS_JWT_SECRET"`
	Issuer            string `envconfig:"PAYMENTS_JWT_ISSUER" default:"payments-core"`
	ExpirationMinutes int    `envconfig:"PAYMENTS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYMENTS_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PAYMENTS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PAYMENTS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationSubscription string `envconfig:"PAYMENTS_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
	EnableOrdering           bool   `envconfig:"PAYMENTS_PUBSUB_ENABLE_ORDERING" default:"false"`
}

type RabbitMQConfig struct {
	URL      string `envconfig:"PAYMENTS_RABBITMQ_URL"`
	Exchange string `envconfig:"PAYMENTS_RABBITMQ_EXCHANGE" default:"payments"`
}

// NotificationsConfig selects the channel payment notifications are sent on. The size and
// compression limits are handed to the channel driver untouched.
type NotificationsConfig struct {
	Driver          string `envconfig:"PAYMENTS_NOTIFICATIONS_DRIVER" default:"pubsub"`
	Topic           string `envconfig:"PAYMENTS_NOTIFICATIONS_TOPIC" default:"payment-notifications"`
	MaxMessageBytes int    `envconfig:"PAYMENTS_NOTIFICATIONS_MAX_MESSAGE_BYTES" default:"1048576"`
	Compression     string `envconfig:"PAYMENTS_NOTIFICATIONS_COMPRESSION" default:"none"`
}

func (n NotificationsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(n.Driver)) {
	case NotificationsDriverPubSub, NotificationsDriverRabbitMQ, NotificationsDriverMemory:
	default:
		return fmt.Errorf("unsupported %s %q", EnvNotificationsDriver, n.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(n.Compression)) {
	case CompressionNone, CompressionGzip, "":
	default:
		return fmt.Errorf("unsupported %s %q", EnvNotificationsCompression, n.Compression)
	}
	if strings.TrimSpace(n.Topic) == "" {
		return fmt.Errorf("%s is required", EnvNotificationsTopic)
	}
	return nil
}

// DriverName returns the normalized channel driver.
func (n NotificationsConfig) DriverName() string {
	return strings.ToLower(strings.TrimSpace(n.Driver))
}

// Compressed reports whether payloads should be gzip-compressed on the wire.
func (n NotificationsConfig) Compressed() bool {
	return strings.EqualFold(strings.TrimSpace(n.Compression), CompressionGzip)
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PAYMENTS_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PAYMENTS_OUTBOX_POLL_MS" default:"1000"`
	MaxAttempts    int           `envconfig:"PAYMENTS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	LeaseTimeout   time.Duration `envconfig:"PAYMENTS_OUTBOX_LEASE_TIMEOUT" default:"60s"`
	PublishTimeout time.Duration `envconfig:"PAYMENTS_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
}

// Validate rejects a publish timeout that can outlive the claim lease. A send
// still waiting on the channel when its lease expires is reclaimed by another
// poller and published twice. Zero values are left for callers to default.
func (o OutboxConfig) Validate() error {
	if o.LeaseTimeout < 0 || o.PublishTimeout < 0 {
		return fmt.Errorf("%s and %s must not be negative", EnvOutboxLeaseTimeout, EnvOutboxPublishTimeout)
	}
	if o.LeaseTimeout > 0 && o.PublishTimeout > 0 && o.PublishTimeout >= o.LeaseTimeout {
		return fmt.Errorf("%s (%s) must be shorter than %s (%s)",
			EnvOutboxPublishTimeout, o.PublishTimeout, EnvOutboxLeaseTimeout, o.LeaseTimeout)
	}
	return nil
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"PAYMENTS_CRON_INTERVAL" default:"1h"`
	OutboxRetentionDays int           `envconfig:"PAYMENTS_OUTBOX_RETENTION_DAYS" default:"30"`
	FailedReportLimit   int           `envconfig:"PAYMENTS_OUTBOX_FAILED_REPORT_LIMIT" default:"20"`
}

type MetricsConfig struct {
	Addr string `envconfig:"PAYMENTS_METRICS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
