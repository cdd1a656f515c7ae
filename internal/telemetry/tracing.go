package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	OTLPEndpoint   string
	OTLPInsecure   bool
	// SampleRatio applies to root spans; children follow their parent.
	SampleRatio float64
}

type ShutdownFunc func(context.Context) error

// SetupTracing installs a global tracer provider for the configured
// exporter. Exporter "none" or "" leaves the no-op provider in place.
func SetupTracing(ctx context.Context, cfg TraceConfig, logger logrus.FieldLogger) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporterName := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if exporterName == "" || exporterName == "none" {
		if logger != nil {
			logger.Debug("tracing exporter disabled")
		}
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, exporterName, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	custom, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}
	res, err := resource.Merge(resource.Default(), custom)
	if err != nil {
		return nil, fmt.Errorf("merge trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"exporter":     exporterName,
			"sample_ratio": cfg.SampleRatio,
		}).Info("tracing exporter enabled")
	}

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, name string, cfg TraceConfig) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch name {
	case "stdout":
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if strings.TrimSpace(cfg.OTLPEndpoint) == "" {
			return nil, fmt.Errorf("otlp trace exporter requires endpoint")
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return exp, nil
}

// Sampler maps a ratio onto a parent-based sampler. Ratios at or above one
// sample everything and ratios at or below zero sample nothing.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
