package signalr

import (
	"net/http"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/wsrpc/signalr-client"

// config is the common configuration of Client and Connection. It is set up by Options.
type config struct {
	headersFactory            HeadersFactory
	propertyParsers           []PropertyParser
	idleTimeout               time.Duration
	maximumReceiveMessageSize int64
	httpClient                Doer
	httpHeaders               func() http.Header
	registerer                prometheus.Registerer
	tracerProvider            trace.TracerProvider
	propagator                propagation.TextMapPropagator
	limiter                   *rate.Limiter
	info                      StructuredLogger
	dbg                       StructuredLogger

	// derived in build()
	serializer *Serializer
	metrics    *metrics
	tracer     trace.Tracer
}

func newConfig() *config {
	info, dbg := buildInfoDebugLogger(log.NewLogfmtLogger(os.Stderr), false)
	return &config{
		propertyParsers:           []PropertyParser{ParseISODate},
		idleTimeout:               time.Second * 30,
		maximumReceiveMessageSize: 1 << 15, // 32KB
		httpClient:                http.DefaultClient,
		info:                      info,
		dbg:                       dbg,
	}
}

func buildConfig(options ...Option) (*config, error) {
	cfg := newConfig()
	for _, option := range options {
		if option != nil {
			if err := option(cfg); err != nil {
				return nil, err
			}
		}
	}
	if err := cfg.build(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) build() (err error) {
	c.serializer = NewSerializer(c.propertyParsers...)
	if c.metrics, err = newMetrics(c.registerer); err != nil {
		return err
	}
	tp := c.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer(tracerName)
	return nil
}

func (c *config) loggers() (info StructuredLogger, dbg StructuredLogger) {
	return c.info, c.dbg
}

func (c *config) setLoggers(info StructuredLogger, dbg StructuredLogger) {
	c.info = info
	c.dbg = dbg
}
