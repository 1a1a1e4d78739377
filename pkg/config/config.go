package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "taskforge"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "TASKFORGE_DB_DSN"
	EnvDBHost = "TASKFORGE_DB_HOST"
	EnvDBUser = "TASKFORGE_DB_USER"
	EnvDBName = "TASKFORGE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	Ops         OpsConfig
	Jobs        JobQueueConfig
	Outbox      OutboxConfig
	Delivery    DeliveryConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	Maintenance MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TASKFORGE_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"TASKFORGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TASKFORGE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"TASKFORGE_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind     string `envconfig:"TASKFORGE_SERVICE_KIND" default:"job-worker"`
	WorkerID string `envconfig:"TASKFORGE_WORKER_ID"`
}

type DBConfig struct {
	DSN    string `envconfig:"TASKFORGE_DB_DSN"`
	Driver string `envconfig:"TASKFORGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TASKFORGE_DB_HOST"`
	LegacyPort     int    `envconfig:"TASKFORGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TASKFORGE_DB_USER"`
	LegacyPassword string `envconfig:"TASKFORGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TASKFORGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TASKFORGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TASKFORGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TASKFORGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TASKFORGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TASKFORGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TASKFORGE_REDIS_URL"`
	Address      string        `envconfig:"TASKFORGE_REDIS_ADDR"`
	Password     string        `envconfig:"TASKFORGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TASKFORGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TASKFORGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TASKFORGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TASKFORGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TASKFORGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TASKFORGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// OpsConfig configures the embedded operational HTTP listener.
type OpsConfig struct {
	Port            string        `envconfig:"TASKFORGE_OPS_PORT" default:"9090"`
	ShutdownTimeout time.Duration `envconfig:"TASKFORGE_OPS_SHUTDOWN_TIMEOUT" default:"10s"`
}

// JobQueueConfig tunes the job_queue poller. Job handlers tend to be
// heavier than deliveries, so the retry curve starts slower and caps higher.
type JobQueueConfig struct {
	BatchSize          int           `envconfig:"TASKFORGE_JOBS_BATCH_SIZE" default:"25"`
	PollInterval       time.Duration `envconfig:"TASKFORGE_JOBS_POLL_INTERVAL" default:"5s"`
	LeaseTimeout       time.Duration `envconfig:"TASKFORGE_JOBS_LEASE_TIMEOUT" default:"5m"`
	DefaultMaxAttempts int           `envconfig:"TASKFORGE_JOBS_DEFAULT_MAX_ATTEMPTS" default:"3"`
	InitialBackoff     time.Duration `envconfig:"TASKFORGE_JOBS_INITIAL_BACKOFF" default:"5s"`
	MaxBackoff         time.Duration `envconfig:"TASKFORGE_JOBS_MAX_BACKOFF" default:"1h"`
	BackoffMultiplier  float64       `envconfig:"TASKFORGE_JOBS_BACKOFF_MULTIPLIER" default:"2"`
	JitterFraction     float64       `envconfig:"TASKFORGE_JOBS_JITTER_FRACTION" default:"0.1"`
	MaxCircuitPause    time.Duration `envconfig:"TASKFORGE_JOBS_MAX_CIRCUIT_PAUSE" default:"30s"`
	ShutdownGrace      time.Duration `envconfig:"TASKFORGE_JOBS_SHUTDOWN_GRACE" default:"30s"`
}

// OutboxConfig tunes the event_outbox poller.
type OutboxConfig struct {
	BatchSize          int           `envconfig:"TASKFORGE_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval       time.Duration `envconfig:"TASKFORGE_OUTBOX_POLL_INTERVAL" default:"500ms"`
	LeaseTimeout       time.Duration `envconfig:"TASKFORGE_OUTBOX_LEASE_TIMEOUT" default:"1m"`
	DefaultMaxAttempts int           `envconfig:"TASKFORGE_OUTBOX_DEFAULT_MAX_ATTEMPTS" default:"5"`
	InitialBackoff     time.Duration `envconfig:"TASKFORGE_OUTBOX_INITIAL_BACKOFF" default:"1s"`
	MaxBackoff         time.Duration `envconfig:"TASKFORGE_OUTBOX_MAX_BACKOFF" default:"5m"`
	BackoffMultiplier  float64       `envconfig:"TASKFORGE_OUTBOX_BACKOFF_MULTIPLIER" default:"2"`
	JitterFraction     float64       `envconfig:"TASKFORGE_OUTBOX_JITTER_FRACTION" default:"0.1"`
	MaxCircuitPause    time.Duration `envconfig:"TASKFORGE_OUTBOX_MAX_CIRCUIT_PAUSE" default:"30s"`
	ShutdownGrace      time.Duration `envconfig:"TASKFORGE_OUTBOX_SHUTDOWN_GRACE" default:"30s"`
}

// QueueSettings is the poller tuning shared by both queue instantiations.
type QueueSettings struct {
	BatchSize          int
	PollInterval       time.Duration
	LeaseTimeout       time.Duration
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
	JitterFraction     float64
	MaxCircuitPause    time.Duration
	ShutdownGrace      time.Duration
}

func (c JobQueueConfig) Settings() QueueSettings {
	return QueueSettings{
		BatchSize:          c.BatchSize,
		PollInterval:       c.PollInterval,
		LeaseTimeout:       c.LeaseTimeout,
		DefaultMaxAttempts: c.DefaultMaxAttempts,
		InitialBackoff:     c.InitialBackoff,
		MaxBackoff:         c.MaxBackoff,
		BackoffMultiplier:  c.BackoffMultiplier,
		JitterFraction:     c.JitterFraction,
		MaxCircuitPause:    c.MaxCircuitPause,
		ShutdownGrace:      c.ShutdownGrace,
	}
}

func (c OutboxConfig) Settings() QueueSettings {
	return QueueSettings{
		BatchSize:          c.BatchSize,
		PollInterval:       c.PollInterval,
		LeaseTimeout:       c.LeaseTimeout,
		DefaultMaxAttempts: c.DefaultMaxAttempts,
		InitialBackoff:     c.InitialBackoff,
		MaxBackoff:         c.MaxBackoff,
		BackoffMultiplier:  c.BackoffMultiplier,
		JitterFraction:     c.JitterFraction,
		MaxCircuitPause:    c.MaxCircuitPause,
		ShutdownGrace:      c.ShutdownGrace,
	}
}

// DeliveryConfig configures the outbox destination adapters.
type DeliveryConfig struct {
	WebhookTimeout time.Duration `envconfig:"TASKFORGE_DELIVERY_WEBHOOK_TIMEOUT" default:"10s"`

	EmailEndpoint string `envconfig:"TASKFORGE_DELIVERY_EMAIL_ENDPOINT"`
	EmailAPIKey   string `envconfig:"TASKFORGE_DELIVERY_EMAIL_API_KEY"`

	SMSEndpoint string `envconfig:"TASKFORGE_DELIVERY_SMS_ENDPOINT"`
	SMSAPIKey   string `envconfig:"TASKFORGE_DELIVERY_SMS_API_KEY"`

	PaymentEndpoint string `envconfig:"TASKFORGE_DELIVERY_PAYMENT_ENDPOINT"`
	PaymentAPIKey   string `envconfig:"TASKFORGE_DELIVERY_PAYMENT_API_KEY"`

	PublishTimeout time.Duration `envconfig:"TASKFORGE_DELIVERY_PUBLISH_TIMEOUT" default:"15s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TASKFORGE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TASKFORGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TASKFORGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AnalyticsTopic    string `envconfig:"TASKFORGE_PUBSUB_ANALYTICS_TOPIC" default:"tf-analytics-events"`
	NotificationTopic string `envconfig:"TASKFORGE_PUBSUB_NOTIFICATION_TOPIC" default:"tf-notification-events"`
}

type MaintenanceConfig struct {
	Interval                 time.Duration `envconfig:"TASKFORGE_MAINTENANCE_INTERVAL" default:"24h"`
	CompletedRetentionDays   int           `envconfig:"TASKFORGE_MAINTENANCE_COMPLETED_RETENTION_DAYS" default:"30"`
	DLQResolvedRetentionDays int           `envconfig:"TASKFORGE_MAINTENANCE_DLQ_RESOLVED_RETENTION_DAYS" default:"90"`
	DLQWarnThreshold         int64         `envconfig:"TASKFORGE_MAINTENANCE_DLQ_WARN_THRESHOLD" default:"100"`
	LockTTL                  time.Duration `envconfig:"TASKFORGE_MAINTENANCE_LOCK_TTL" default:"25h"`
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
