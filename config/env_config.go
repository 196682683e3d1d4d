package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	Postgres struct {
		HOST     string
		Database string
		Username string
		Password string
		Port     string
	}
	Redis struct {
		Password  string
		Database  int
		RedisHost string
		RedisPort string
	}
	RabbitMQ struct {
		Host     string
		Port     string
		Username string
		Password string
	}
	JWT struct {
		SecretKey string
		Expire    int
	}
	CORS struct {
		AllowDomains string
	}
	DA struct {
		Backend              string // celestia | objectstore | mock
		CelestiaRPCURL       string
		CelestiaAuthToken    string
		CelestiaNamespace    string
		ObjectStoreEndpoint  string
		ObjectStoreAccessKey string
		ObjectStoreSecretKey string
		ObjectStoreBucket    string
		ObjectStoreUseSSL    bool
	}
	Settlement struct {
		Backend    string // http | mock
		ServiceURL string
		APIKey     string
	}
	Prover struct {
		Backend    string // http | mock
		ServiceURL string
	}
	Orchestrator struct {
		WorkerCount     int
		MaxAttempts     int
		HandlerTimeout  time.Duration
		LeaseTimeout    time.Duration
		VerifyInterval  time.Duration
		ReapInterval    time.Duration
		AdvanceInterval time.Duration
		ScanLimit       int
		PipelineStages  []string
	}
	Grafana struct {
		OTLPEndpoint string
		ServiceName  string
	}
	Environment struct {
		Mode  string
		Group string
	}
	HTTPPort string
}

func LoadEnvConfig() *EnvConfig {
	var config EnvConfig

	// Postgres
	config.Postgres.HOST = os.Getenv("PGPOOL_HOST")
	config.Postgres.Database = os.Getenv("PGPOOL_DB")
	config.Postgres.Username = os.Getenv("PGPOOL_USER")
	config.Postgres.Password = os.Getenv("PGPOOL_PASSWORD")
	config.Postgres.Port = os.Getenv("PGPOOL_PORT")
	if config.Postgres.Port == "" {
		config.Postgres.Port = "5432"
	}

	// Redis
	config.Redis.Password = os.Getenv("REDIS_PASSWORD")
	config.Redis.Database, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	config.Redis.RedisHost = os.Getenv("REDIS_HOST")
	if config.Redis.RedisHost == "" {
		config.Redis.RedisHost = "localhost"
	}
	config.Redis.RedisPort = os.Getenv("REDIS_PORT")
	if config.Redis.RedisPort == "" {
		config.Redis.RedisPort = "6379"
	}

	// RabbitMQ
	config.RabbitMQ.Host = os.Getenv("RABBITMQ_HOST")
	if config.RabbitMQ.Host == "" {
		config.RabbitMQ.Host = "localhost"
	}
	config.RabbitMQ.Port = os.Getenv("RABBITMQ_PORT")
	if config.RabbitMQ.Port == "" {
		config.RabbitMQ.Port = "5672"
	}
	config.RabbitMQ.Username = os.Getenv("RABBITMQ_USER")
	if config.RabbitMQ.Username == "" {
		config.RabbitMQ.Username = "guest"
	}
	config.RabbitMQ.Password = os.Getenv("RABBITMQ_PASSWORD")
	if config.RabbitMQ.Password == "" {
		config.RabbitMQ.Password = "guest"
	}

	// JWT
	config.JWT.SecretKey = os.Getenv("JWT_SECRET_KEY")
	if val := os.Getenv("JWT_EXPIRE"); val != "" {
		config.JWT.Expire, _ = strconv.Atoi(val)
	} else {
		config.JWT.Expire = 3600 * 24 * 7
	}

	config.CORS.AllowDomains = os.Getenv("ALLOWED_DOMAINS")

	// DA backend
	config.DA.Backend = os.Getenv("DA_BACKEND")
	if config.DA.Backend == "" {
		config.DA.Backend = "celestia"
	}
	config.DA.CelestiaRPCURL = os.Getenv("CELESTIA_RPC_URL")
	config.DA.CelestiaAuthToken = os.Getenv("CELESTIA_AUTH_TOKEN")
	config.DA.CelestiaNamespace = os.Getenv("CELESTIA_NAMESPACE")
	if config.DA.CelestiaNamespace == "" {
		config.DA.CelestiaNamespace = "0000000000000000000000000000000000000000000000726f6c6c7570"
	}
	config.DA.ObjectStoreEndpoint = os.Getenv("OBJECTSTORE_ENDPOINT")
	config.DA.ObjectStoreAccessKey = os.Getenv("OBJECTSTORE_ACCESS_KEY")
	config.DA.ObjectStoreSecretKey = os.Getenv("OBJECTSTORE_SECRET_KEY")
	config.DA.ObjectStoreBucket = os.Getenv("OBJECTSTORE_BUCKET")
	if config.DA.ObjectStoreBucket == "" {
		config.DA.ObjectStoreBucket = "rollup-state-diffs"
	}
	config.DA.ObjectStoreUseSSL = os.Getenv("OBJECTSTORE_USE_SSL") == "true"

	// Settlement backend
	config.Settlement.Backend = os.Getenv("SETTLEMENT_BACKEND")
	if config.Settlement.Backend == "" {
		config.Settlement.Backend = "http"
	}
	config.Settlement.ServiceURL = os.Getenv("SETTLEMENT_SERVICE_URL")
	if config.Settlement.ServiceURL == "" {
		config.Settlement.ServiceURL = "http://localhost:8545"
	}
	config.Settlement.APIKey = os.Getenv("SETTLEMENT_API_KEY")

	// Prover backend
	config.Prover.Backend = os.Getenv("PROVER_BACKEND")
	if config.Prover.Backend == "" {
		config.Prover.Backend = "http"
	}
	config.Prover.ServiceURL = os.Getenv("PROVER_SERVICE_URL")
	if config.Prover.ServiceURL == "" {
		config.Prover.ServiceURL = "http://localhost:8090"
	}

	// Orchestrator tuning
	config.Orchestrator.WorkerCount = envInt("WORKER_COUNT", 4)
	config.Orchestrator.MaxAttempts = envInt("JOB_MAX_ATTEMPTS", 3)
	config.Orchestrator.HandlerTimeout = envDuration("HANDLER_TIMEOUT", 60*time.Second)
	config.Orchestrator.LeaseTimeout = envDuration("LEASE_TIMEOUT", 5*time.Minute)
	config.Orchestrator.VerifyInterval = envDuration("VERIFY_INTERVAL", 15*time.Second)
	config.Orchestrator.ReapInterval = envDuration("REAP_INTERVAL", 30*time.Second)
	config.Orchestrator.AdvanceInterval = envDuration("ADVANCE_INTERVAL", 10*time.Second)
	config.Orchestrator.ScanLimit = envInt("SCAN_LIMIT", 100)

	stages := os.Getenv("PIPELINE_STAGES")
	if stages == "" {
		stages = "proof_generation,data_submission,state_update"
	}
	for _, s := range strings.Split(stages, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			config.Orchestrator.PipelineStages = append(config.Orchestrator.PipelineStages, s)
		}
	}

	// Grafana/OpenTelemetry
	grafanaEndpoint := os.Getenv("GRAFANA_OTLP_ENDPOINT")
	if grafanaEndpoint == "" {
		grafanaEndpoint = "localhost:4318"
	}
	grafanaEndpoint = strings.TrimPrefix(grafanaEndpoint, "https://")
	grafanaEndpoint = strings.TrimPrefix(grafanaEndpoint, "http://")
	config.Grafana.OTLPEndpoint = grafanaEndpoint
	config.Grafana.ServiceName = os.Getenv("SERVICE_NAME")
	if config.Grafana.ServiceName == "" {
		config.Grafana.ServiceName = "gau-rollup-orchestrator"
	}

	config.Environment.Mode = os.Getenv("DEPLOY_ENV")
	if config.Environment.Mode == "" {
		config.Environment.Mode = "development"
	}
	config.Environment.Group = os.Getenv("GROUP_NAME")
	if config.Environment.Group == "" {
		config.Environment.Group = "local"
	}

	config.HTTPPort = os.Getenv("HTTP_PORT")
	if config.HTTPPort == "" {
		config.HTTPPort = "8080"
	}

	return &config
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
