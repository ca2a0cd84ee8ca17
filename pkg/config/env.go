package config

const EnvPrefix = "PAYMENTS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	NotificationsDriverPubSub   = "pubsub"
	NotificationsDriverRabbitMQ = "rabbitmq"
	NotificationsDriverMemory   = "memory"

	CompressionNone = "none"
	CompressionGzip = "gzip"
)

const (
	EnvAppEnv   = "PAYMENTS_APP_ENV"
	EnvPort     = "PAYMENTS_APP_PORT"
	EnvLogLevel = "PAYMENTS_LOG_LEVEL"

	EnvDBDSN  = "PAYMENTS_DB_DSN"
	EnvDBHost = "PAYMENTS_DB_HOST"
	EnvDBPort = "PAYMENTS_DB_PORT"
	EnvDBUser = "PAYMENTS_DB_USER"
	EnvDBPass = "PAYMENTS_DB_PASSWORD"
	EnvDBName = "PAYMENTS_DB_NAME"

	EnvRedisURL     = "PAYMENTS_REDIS_URL"
	EnvJWTSecret    = "PAYMENTS_JWT_SECRET"
	EnvGCPProjectID = "PAYMENTS_GCP_PROJECT_ID"

	EnvNotificationsDriver      = "PAYMENTS_NOTIFICATIONS_DRIVER"
	EnvNotificationsTopic       = "PAYMENTS_NOTIFICATIONS_TOPIC"
	EnvNotificationsCompression = "PAYMENTS_NOTIFICATIONS_COMPRESSION"

	EnvOutboxPollMS       = "PAYMENTS_OUTBOX_POLL_MS"
	EnvOutboxBatchSize    = "PAYMENTS_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts  = "PAYMENTS_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxLeaseTimeout = "PAYMENTS_OUTBOX_LEASE_TIMEOUT"

	EnvOutboxPublishTimeout = "PAYMENTS_OUTBOX_PUBLISH_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
