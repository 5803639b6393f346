package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"

	"github.com/wsrpc/signalr-client"
)

// connect builds a client from opts and connects it to the hub. Failed connects are retried,
// except the server refused to negotiate a usable transport.
func connect(ctx context.Context, opts *globalOptions, logOut io.Writer) (*signalr.Connection, error) {
	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(logOut))
	options := []signalr.Option{
		signalr.Logger(logger, opts.debug),
		signalr.IdleTimeout(opts.idleTimeout),
	}
	if headers != nil {
		options = append(options, signalr.HeadersFactoryFunc(
			func(context.Context, string, []interface{}) (map[string]string, error) {
				return headers, nil
			}))
	}
	client, err := signalr.NewClient(options...)
	if err != nil {
		return nil, err
	}

	var conn *signalr.Connection
	operation := func() error {
		var err error
		conn, err = client.Connect(ctx, opts.url, opts.token)
		if errors.Is(err, signalr.ErrUnsupportedTransport) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	notify := func(err error, next time.Duration) {
		_ = logger.Log("event", "connect", "error", err, "reaction", "retry", "in", next)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, opts.retries), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}
