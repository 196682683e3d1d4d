package infra

import (
	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/infra/produce"
)

type Infra struct {
	Postgres   *PostgresClient
	Redis      *RedisClient
	RabbitMQ   *RabbitMQClient
	Logger     *LoggerClient
	Telemetry  *TelemetryClient
	DA         DAClient
	Settlement SettlementClient
	Prover     ProverClient
	Produce    *produce.Produce
}

var infraInstance *Infra

func InitInfra(cfg *config.Config) *Infra {
	if infraInstance != nil {
		return infraInstance
	}

	postgres := InitPostgresClient(cfg.EnvConfig)
	if postgres == nil {
		panic("Failed to initialize Postgres service")
	}

	redis := InitRedisClient(cfg.EnvConfig)
	if redis == nil {
		panic("Failed to initialize Redis service")
	}

	logger := InitLoggerClient(cfg.EnvConfig)
	if logger == nil {
		panic("Failed to initialize Logger service")
	}

	telemetry := InitTelemetryClient(cfg.EnvConfig)
	if telemetry == nil {
		panic("Failed to initialize Telemetry service")
	}

	rabbitMQ := InitRabbitMQClient(cfg.EnvConfig)
	if rabbitMQ == nil {
		panic("Failed to initialize RabbitMQ service")
	}

	produceService := produce.InitProduce(rabbitMQ.Channel)
	if produceService == nil {
		panic("Failed to initialize Produce service")
	}

	// DA, settlement and prover backends are fixed at startup by configuration.
	da := InitDAClient(cfg.EnvConfig)
	settlement := InitSettlementClient(cfg.EnvConfig)
	prover := InitProverClient(cfg.EnvConfig)

	infraInstance = &Infra{
		Postgres:   postgres,
		Redis:      redis,
		RabbitMQ:   rabbitMQ,
		Logger:     logger,
		Telemetry:  telemetry,
		DA:         da,
		Settlement: settlement,
		Prover:     prover,
		Produce:    produceService,
	}

	return infraInstance
}

func GetClient() *Infra {
	if infraInstance == nil {
		panic("Infra not initialized. Call InitInfra() first.")
	}
	return infraInstance
}
