package infra

import (
	"context"
	"log"

	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/entity"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryClient owns the tracer and meter providers plus the job counters.
// Export is best effort; orchestration never depends on delivery.
type TelemetryClient struct {
	Tracer trace.Tracer

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	jobsCreated    metric.Int64Counter
	jobTransitions metric.Int64Counter
	jobFailures    metric.Int64Counter
}

func InitTelemetryClient(cfg *config.EnvConfig) *TelemetryClient {
	ctx := context.Background()

	res, err := telemetryResource(cfg)
	if err != nil {
		log.Printf("Failed to build telemetry resource: %v", err)
		return nil
	}

	var traceOpts []otlptracehttp.Option
	var metricOpts []otlpmetrichttp.Option
	traceOpts = append(traceOpts, otlptracehttp.WithEndpoint(cfg.Grafana.OTLPEndpoint), otlptracehttp.WithURLPath("/otlp/v1/traces"))
	metricOpts = append(metricOpts, otlpmetrichttp.WithEndpoint(cfg.Grafana.OTLPEndpoint), otlpmetrichttp.WithURLPath("/otlp/v1/metrics"))
	if cfg.Environment.Mode == "development" {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(traceOpts...))
	if err != nil {
		log.Printf("Failed to initialize OTLP trace exporter: %v", err)
		return nil
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		log.Printf("Failed to initialize OTLP metric exporter: %v", err)
		return nil
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		log.Printf("Failed to start runtime instrumentation: %v", err)
	}

	meter := meterProvider.Meter(cfg.Grafana.ServiceName)
	jobsCreated, err := meter.Int64Counter("orchestrator_jobs_created_total")
	if err != nil {
		log.Printf("Failed to create jobs counter: %v", err)
		return nil
	}
	jobTransitions, err := meter.Int64Counter("orchestrator_job_transitions_total")
	if err != nil {
		log.Printf("Failed to create transitions counter: %v", err)
		return nil
	}
	jobFailures, err := meter.Int64Counter("orchestrator_job_failures_total")
	if err != nil {
		log.Printf("Failed to create failures counter: %v", err)
		return nil
	}

	return &TelemetryClient{
		Tracer:         tracerProvider.Tracer(cfg.Grafana.ServiceName),
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		jobsCreated:    jobsCreated,
		jobTransitions: jobTransitions,
		jobFailures:    jobFailures,
	}
}

func (t *TelemetryClient) RecordJobCreated(ctx context.Context, jobType entity.JobType) {
	t.jobsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(jobType))))
}

func (t *TelemetryClient) RecordTransition(ctx context.Context, jobType entity.JobType, from, to entity.JobStatus) {
	t.jobTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", string(jobType)),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	if to == entity.JobStatusFailed {
		t.jobFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(jobType))))
	}
}

func (t *TelemetryClient) Shutdown(ctx context.Context) {
	if t.tracerProvider != nil {
		_ = t.tracerProvider.Shutdown(ctx)
	}
	if t.meterProvider != nil {
		_ = t.meterProvider.Shutdown(ctx)
	}
}
