package signalr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Option configures a Client or a Connection.
type Option func(*config) error

// HeadersFactory provides the headers for the message sent by Invoke, Stream or Send.
// It is called once per call, before the message is built. It may block, other calls on the
// same connection are not affected. If it returns an error, the call fails with this error.
type HeadersFactory func(ctx context.Context, method string, arguments []interface{}) (map[string]string, error)

// HeadersFactoryFunc sets the HeadersFactory. Without it, messages are sent without headers.
func HeadersFactoryFunc(factory HeadersFactory) Option {
	return func(c *config) error {
		c.headersFactory = factory
		return nil
	}
}

// PropertyParsers replaces the parsers applied to the values of received messages.
// The default is ParseISODate. PropertyParsers() without arguments disables parsing.
func PropertyParsers(parsers ...PropertyParser) Option {
	return func(c *config) error {
		c.propertyParsers = parsers
		return nil
	}
}

// IdleTimeout is the interval after which the connection is closed when nothing has been sent within.
// Every sent message restarts the interval. 0 disables the idle watchdog.
// Default is 30 seconds.
func IdleTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return fmt.Errorf("invalid idle timeout %v", timeout)
		}
		c.idleTimeout = timeout
		return nil
	}
}

// MaximumReceiveMessageSize is the maximum size in bytes of a single frame the websocket transport accepts.
// Default is 32KB.
func MaximumReceiveMessageSize(size uint) Option {
	return func(c *config) error {
		if size == 0 {
			return errors.New("maximum receive message size must be greater than 0")
		}
		c.maximumReceiveMessageSize = int64(size)
		return nil
	}
}

// WithHTTPClient sets the http client used for negotiation and as base of the websocket dial.
func WithHTTPClient(client Doer) Option {
	return func(c *config) error {
		if client == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithHTTPHeaders sets the function for providing request headers for the negotiation and the websocket request
func WithHTTPHeaders(headers func() http.Header) Option {
	return func(c *config) error {
		c.httpHeaders = headers
		return nil
	}
}

// WithRegisterer registers the connection metrics with registerer.
// Without this option, metrics are collected but not exposed.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(c *config) error {
		c.registerer = registerer
		return nil
	}
}

// WithTracerProvider sets the provider of the tracer used for call spans. Default is the global provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) error {
		c.tracerProvider = provider
		return nil
	}
}

// PropagateTraceContext injects the trace context of a call into the headers of the messages sent for it.
// Headers from the HeadersFactory take precedence.
func PropagateTraceContext(propagator propagation.TextMapPropagator) Option {
	return func(c *config) error {
		c.propagator = propagator
		return nil
	}
}

// SendRateLimit limits the rate of frames written to the transport.
func SendRateLimit(limit rate.Limit, burst int) Option {
	return func(c *config) error {
		if burst <= 0 {
			return fmt.Errorf("invalid burst %v", burst)
		}
		c.limiter = rate.NewLimiter(limit, burst)
		return nil
	}
}

// StructuredLogger is the simplest logging interface for structured logging.
// See github.com/go-kit/log
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// Logger sets the logger used by the Client and its connections to log info events.
// If debug is true, debug log event are generated, too
func Logger(logger StructuredLogger, debug bool) Option {
	return func(c *config) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		i, d := buildInfoDebugLogger(logger, debug)
		c.setLoggers(i, d)
		return nil
	}
}

func buildInfoDebugLogger(logger log.Logger, debug bool) (log.Logger, log.Logger) {
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return level.Info(logger), log.With(level.Debug(logger), "caller", log.DefaultCaller)
}

// Log keys
const (
	evt     = "event"
	msg     = "message"
	react   = "reaction"
	msgRecv = "message received"
	msgSend = "message sent"
)
