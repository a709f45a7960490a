package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Redis     RedisConfig
	DB        DBConfig
	Saga      SagaConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Saga.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TXNFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"TXNFLOW_APP_PORT" default:"3001"`
	LogLevel     string `envconfig:"TXNFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TXNFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TXNFLOW_SERVICE_KIND" default:"api"`
}

// GCPConfig carries the project hosting the Pub/Sub topics. PUBSUB_EMULATOR_HOST is
// honoured by the client library directly.
type GCPConfig struct {
	ProjectID              string `envconfig:"TXNFLOW_GCP_PROJECT_ID" required:"true"`
	ApplicationCredentials string `envconfig:"TXNFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CommandsTopic            string        `envconfig:"TXNFLOW_PUBSUB_COMMANDS_TOPIC" default:"txn.commands"`
	EventsTopic              string        `envconfig:"TXNFLOW_PUBSUB_EVENTS_TOPIC" default:"txn.events"`
	DLQTopic                 string        `envconfig:"TXNFLOW_PUBSUB_DLQ_TOPIC" default:"txn.dlq"`
	OrchestratorSubscription string        `envconfig:"TXNFLOW_PUBSUB_ORCHESTRATOR_SUBSCRIPTION" default:"orchestrator-group"`
	GatewaySubscription      string        `envconfig:"TXNFLOW_PUBSUB_GATEWAY_SUBSCRIPTION" default:"gateway-group"`
	DLQSubscription          string        `envconfig:"TXNFLOW_PUBSUB_DLQ_SUBSCRIPTION" default:"dlq-archiver"`
	PublishTimeout           time.Duration `envconfig:"TXNFLOW_PUBSUB_PUBLISH_TIMEOUT" default:"15s"`
	ReceiveGoroutines        int           `envconfig:"TXNFLOW_PUBSUB_RECEIVE_GOROUTINES" default:"4"`
	MaxOutstandingMessages   int           `envconfig:"TXNFLOW_PUBSUB_MAX_OUTSTANDING" default:"256"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TXNFLOW_REDIS_URL"`
	Address      string        `envconfig:"TXNFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"TXNFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"TXNFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TXNFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TXNFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TXNFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TXNFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TXNFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any Redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type DBConfig struct {
	DSN    string `envconfig:"TXNFLOW_DB_DSN"`
	Driver string `envconfig:"TXNFLOW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TXNFLOW_DB_HOST"`
	Port     int    `envconfig:"TXNFLOW_DB_PORT" default:"5432"`
	User     string `envconfig:"TXNFLOW_DB_USER"`
	Password string `envconfig:"TXNFLOW_DB_PASSWORD"`
	Name     string `envconfig:"TXNFLOW_DB_NAME"`
	SSLMode  string `envconfig:"TXNFLOW_DB_SSLMODE" default:"disable"`

	AutoMigrate     bool          `envconfig:"TXNFLOW_DB_AUTO_MIGRATE" default:"false"`
	MaxOpenConns    int           `envconfig:"TXNFLOW_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"TXNFLOW_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"TXNFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TXNFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TXNFLOW_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the archive runs on the embedded driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

// Configured reports whether enough settings exist to open a connection.
func (db DBConfig) Configured() bool {
	return strings.TrimSpace(db.DSN) != "" || strings.TrimSpace(db.Host) != ""
}

// ResolveDSN returns the configured DSN, assembling a Postgres URL from the discrete
// host/user/name settings when no DSN is given.
func (db DBConfig) ResolveDSN() (string, error) {
	if db.DSN != "" {
		return db.DSN, nil
	}
	if db.IsSQLite() {
		return "", fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// SagaConfig tunes the orchestrator worker and its reference risk assessor.
type SagaConfig struct {
	RiskLowProbability float64       `envconfig:"TXNFLOW_SAGA_RISK_LOW_PROBABILITY" default:"0.8"`
	RiskMinDelay       time.Duration `envconfig:"TXNFLOW_SAGA_RISK_MIN_DELAY" default:"1s"`
	RiskMaxDelay       time.Duration `envconfig:"TXNFLOW_SAGA_RISK_MAX_DELAY" default:"3s"`
	RiskTimeout        time.Duration `envconfig:"TXNFLOW_SAGA_RISK_TIMEOUT" default:"10s"`
	MaxConcurrent      int           `envconfig:"TXNFLOW_SAGA_MAX_CONCURRENT" default:"64"`
	DrainTimeout       time.Duration `envconfig:"TXNFLOW_SAGA_DRAIN_TIMEOUT" default:"30s"`
	IdempotencyTTL     time.Duration `envconfig:"TXNFLOW_SAGA_IDEMPOTENCY_TTL" default:"24h"`
	MetricsPort        string        `envconfig:"TXNFLOW_SAGA_METRICS_PORT" default:"9101"`
}

func (s SagaConfig) validate() error {
	if s.RiskLowProbability < 0 || s.RiskLowProbability > 1 {
		return fmt.Errorf("%s must be within [0,1]", EnvSagaRiskLowProbability)
	}
	if s.RiskMinDelay < 0 || s.RiskMaxDelay < s.RiskMinDelay {
		return fmt.Errorf("%s must not be lower than %s", EnvSagaRiskMaxDelay, EnvSagaRiskMinDelay)
	}
	if s.RiskTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvSagaRiskTimeout)
	}
	return nil
}

type GatewayConfig struct {
	Port           string        `envconfig:"TXNFLOW_GATEWAY_PORT" default:"3002"`
	SendBuffer     int           `envconfig:"TXNFLOW_GATEWAY_SEND_BUFFER" default:"32"`
	WriteTimeout   time.Duration `envconfig:"TXNFLOW_GATEWAY_WRITE_TIMEOUT" default:"10s"`
	PingInterval   time.Duration `envconfig:"TXNFLOW_GATEWAY_PING_INTERVAL" default:"30s"`
	MaxMessageSize int64         `envconfig:"TXNFLOW_GATEWAY_MAX_MESSAGE_BYTES" default:"4096"`
	AllowedOrigins []string      `envconfig:"TXNFLOW_GATEWAY_ALLOWED_ORIGINS" default:"*"`
}

type RateLimitConfig struct {
	Window time.Duration `envconfig:"TXNFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"TXNFLOW_RATE_LIMIT_SUBMIT_LIMIT" default:"60"`
}
