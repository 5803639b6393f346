package signalr

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-kit/log"
)

// Client connects to SignalR hubs. All connections of a Client share its Options,
// including metrics and the send rate limit.
type Client struct {
	cfg  *config
	info StructuredLogger
	dbg  StructuredLogger
}

// NewClient builds a Client with the given Options.
func NewClient(options ...Option) (*Client, error) {
	cfg, err := buildConfig(options...)
	if err != nil {
		return nil, err
	}
	info, dbg := cfg.loggers()
	return &Client{
		cfg:  cfg,
		info: log.WithPrefix(info, "ts", log.DefaultTimestampUTC, "class", "Client"),
		dbg:  log.WithPrefix(dbg, "ts", log.DefaultTimestampUTC, "class", "Client"),
	}, nil
}

// Connect negotiates a connection with the hub at hubURL, opens its websocket and sends the handshake.
// If accessToken is not empty, it is sent as query parameter access_token with the negotiation and the websocket request.
// ctx bounds the connect, not the lifetime of the returned connection. Use Connection.Close to end it.
func (c *Client) Connect(ctx context.Context, hubURL string, accessToken string) (*Connection, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, &NegotiationError{URL: hubURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &NegotiationError{URL: hubURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	nr, cookies, err := negotiate(ctx, c.cfg, u, accessToken)
	if err != nil {
		_ = c.info.Log(evt, "negotiate", "url", hubURL, "error", err)
		return nil, &NegotiationError{URL: hubURL, Err: err}
	}
	_ = c.dbg.Log(evt, "negotiate", "url", hubURL, "connection", nr.ConnectionID)
	wsURL, err := transportURL(u, nr.transportID(), accessToken)
	if err != nil {
		return nil, err
	}
	transport, err := dial(ctx, c.cfg, wsURL, cookies)
	if err != nil {
		_ = c.info.Log(evt, "dial", "url", hubURL, "error", err)
		return nil, err
	}
	conn := newConnection(transport, c.cfg, nr.ConnectionID)
	if err := conn.Start(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}
