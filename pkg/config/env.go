package config

const EnvPrefix = "TXNFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv    = "TXNFLOW_APP_ENV"
	EnvPort      = "TXNFLOW_APP_PORT"
	EnvLogLevel  = "TXNFLOW_LOG_LEVEL"
	EnvRedisURL  = "TXNFLOW_REDIS_URL"
	EnvDBDSN     = "TXNFLOW_DB_DSN"
	EnvDBDriver  = "TXNFLOW_DB_DRIVER"
	EnvDBHost    = "TXNFLOW_DB_HOST"
	EnvDBUser    = "TXNFLOW_DB_USER"
	EnvDBName    = "TXNFLOW_DB_NAME"
	EnvGCPProjID = "TXNFLOW_GCP_PROJECT_ID"

	EnvPubSubCommandsTopic = "TXNFLOW_PUBSUB_COMMANDS_TOPIC"
	EnvPubSubEventsTopic   = "TXNFLOW_PUBSUB_EVENTS_TOPIC"
	EnvPubSubDLQTopic      = "TXNFLOW_PUBSUB_DLQ_TOPIC"

	EnvSagaRiskLowProbability = "TXNFLOW_SAGA_RISK_LOW_PROBABILITY"
	EnvSagaRiskMinDelay       = "TXNFLOW_SAGA_RISK_MIN_DELAY"
	EnvSagaRiskMaxDelay       = "TXNFLOW_SAGA_RISK_MAX_DELAY"
	EnvSagaRiskTimeout        = "TXNFLOW_SAGA_RISK_TIMEOUT"

	EnvGatewayAllowedOrigins = "TXNFLOW_GATEWAY_ALLOWED_ORIGINS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
