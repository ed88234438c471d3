package tracing

import (
	"io"
	"net"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-client-go/log/zap"

	"github.com/customeros/mailbackend/internal/logger"
)

const DEFAULT_SERVICE_NAME = "mailbackend"

type JaegerConfig struct {
	Endpoint     string  `env:"JAEGER_ENDPOINT"`
	ServiceName  string  `env:"JAEGER_SERVICE_NAME" envDefault:"mailbackend"`
	AgentHost    string  `env:"JAEGER_AGENT_HOST" envDefault:"localhost"`
	AgentPort    string  `env:"JAEGER_AGENT_PORT" envDefault:"6831"`
	Enabled      bool    `env:"JAEGER_ENABLED" envDefault:"true"`
	LogSpans     bool    `env:"JAEGER_REPORTER_LOG_SPANS" envDefault:"false"`
	SamplerType  string  `env:"JAEGER_SAMPLER_TYPE" envDefault:"const"`
	SamplerParam float64 `env:"JAEGER_SAMPLER_PARAM" envDefault:"1"`
}

// NewJaegerTracer returns a noop tracer when tracing is disabled or not configured
func NewJaegerTracer(jaegerConfig *JaegerConfig, log logger.Logger) (opentracing.Tracer, io.Closer, error) {
	if jaegerConfig == nil || !jaegerConfig.Enabled {
		return opentracing.NoopTracer{}, io.NopCloser(nil), nil
	}
	return jaegerConfiguration(jaegerConfig).NewTracer(config.Logger(zap.NewLogger(log.Logger())))
}

func jaegerConfiguration(jaegerConfig *JaegerConfig) *config.Configuration {
	serviceName := jaegerConfig.ServiceName
	if serviceName == "" {
		serviceName = DEFAULT_SERVICE_NAME
	}

	reporter := &config.ReporterConfig{LogSpans: jaegerConfig.LogSpans}
	// the collector endpoint takes precedence over the agent
	if jaegerConfig.Endpoint != "" {
		reporter.CollectorEndpoint = jaegerConfig.Endpoint
	} else {
		reporter.LocalAgentHostPort = net.JoinHostPort(jaegerConfig.AgentHost, jaegerConfig.AgentPort)
	}

	return &config.Configuration{
		ServiceName: serviceName,
		Sampler: &config.SamplerConfig{
			Type:  jaegerConfig.SamplerType,
			Param: jaegerConfig.SamplerParam,
		},
		Reporter: reporter,
	}
}
