package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"clover-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Timezone pickup windows are rendered in
	Timezone string `env:"TIMEZONE" env-default:"Europe/Copenhagen"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort int `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"clover"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// SMS provider base URL
	SMSBaseURL string `env:"SMS_BASE_URL" env-default:""`
	// SMS provider API key
	SMSAPIKey string `env:"SMS_API_KEY" env-default:""`
	// Originator shown on the handset
	SMSFrom string `env:"SMS_FROM" env-default:"Pakkeboks"`
	// Per-request provider timeout
	SMSTimeout time.Duration `env:"SMS_TIMEOUT" env-default:"10s"`
	// When true, sends are logged instead of hitting the provider
	SMSTestMode bool `env:"SMS_TEST_MODE" env-default:"true"`

	// Outbound send rate limiting
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" env-default:"true"`
	// Messages admitted per window across all dispatcher instances
	RateLimitMessagesPerWindow int `env:"RATE_LIMIT_MESSAGES_PER_WINDOW" env-default:"10"`
	// Sliding window length
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"1s"`
	// Longest a dispatch waits for an admission slot
	RateLimitMaxWait time.Duration `env:"RATE_LIMIT_MAX_WAIT" env-default:"30s"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka event publishing (lifecycle events are skipped when disabled)
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for notification lifecycle events
	KafkaEventsTopic string `env:"KAFKA_EVENTS_TOPIC" env-default:"clover.notification-events"`

	// Dispatcher settings
	// Enable/disable the dispatcher
	DispatcherEnabled bool `env:"DISPATCHER_ENABLED" env-default:"true"`
	// Dispatcher poll interval
	DispatcherPollInterval time.Duration `env:"DISPATCHER_POLL_INTERVAL" env-default:"15s"`
	// Records claimed per cycle
	DispatcherBatchSize int `env:"DISPATCHER_BATCH_SIZE" env-default:"25"`
	// Per-record send budget
	DispatcherSendTimeout time.Duration `env:"DISPATCHER_SEND_TIMEOUT" env-default:"30s"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
	// Trace sampling ratio
	TracingSampleRatio float64 `env:"TRACING_SAMPLE_RATIO" env-default:"1.0"`
}

// Load reads the optional .env file and binds environment variables onto the
// config struct.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var config Config
	if err := ectoenv.BindEnv(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
