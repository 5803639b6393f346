package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/coder/websocket"
)

// Doer is the *http.Client method used for negotiation
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// negotiate asks the server at hubURL for a connection.
// It fails if the server does not offer text WebSockets.
func negotiate(ctx context.Context, cfg *config, hubURL *url.URL, accessToken string) (*negotiateResponse, []*http.Cookie, error) {
	negotiateURL := *hubURL
	negotiateURL.Path = path.Join(negotiateURL.Path, "negotiate")
	negotiateURL.RawPath = ""
	if accessToken != "" {
		q := negotiateURL.Query()
		q.Set("access_token", accessToken)
		negotiateURL.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	copyHeaders(req.Header, cfg.httpHeaders)

	resp, err := cfg.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { closeResponseBody(resp.Body) }()

	if resp.StatusCode != http.StatusOK {
		negotiateURL.RawQuery = ""
		return nil, nil, fmt.Errorf("%v %v -> %v", req.Method, negotiateURL.String(), resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	nr := negotiateResponse{}
	if err := json.Unmarshal(body, &nr); err != nil {
		return nil, nil, err
	}
	if nr.Error != "" {
		return nil, nil, errors.New(nr.Error)
	}
	if !nr.hasTransport(TransportWebSockets, TransferFormatText) {
		return nil, nil, ErrUnsupportedTransport
	}
	return &nr, resp.Cookies(), nil
}

// transportURL is hubURL with websocket scheme, the connection id and the access token
func transportURL(hubURL *url.URL, connectionID string, accessToken string) (*url.URL, error) {
	wsURL := *hubURL
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", hubURL.Scheme)
	}
	q := wsURL.Query()
	q.Set("id", connectionID)
	if accessToken != "" {
		q.Set("access_token", accessToken)
	}
	wsURL.RawQuery = q.Encode()
	return &wsURL, nil
}

// dial opens the websocket at wsURL and wraps it into a Transport
func dial(ctx context.Context, cfg *config, wsURL *url.URL, cookies []*http.Cookie) (Transport, error) {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	// websocket.Dial refuses clients with a timeout, ctx is the way to limit the dial
	if client, ok := cfg.httpClient.(*http.Client); ok && client.Timeout == 0 {
		opts.HTTPClient = client
	}
	copyHeaders(opts.HTTPHeader, cfg.httpHeaders)
	for _, cookie := range cookies {
		opts.HTTPHeader.Add("Cookie", (&http.Cookie{Name: cookie.Name, Value: cookie.Value}).String())
	}
	ws, _, err := websocket.Dial(ctx, wsURL.String(), opts)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(cfg.maximumReceiveMessageSize)
	return NewWebSocketTransport(ws), nil
}

func copyHeaders(dst http.Header, headers func() http.Header) {
	if headers == nil {
		return
	}
	for key, values := range headers() {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// closeResponseBody reads a http response body to the end and closes it
// See https://blog.cubieserver.de/2022/http-connection-reuse-in-go-clients/
// The body needs to be fully read and closed, otherwise the connection will not be reused
func closeResponseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
