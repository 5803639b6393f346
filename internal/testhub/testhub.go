// Package testhub is a minimal in-process SignalR hub speaking the JSON hub protocol over websockets.
// It serves the hub methods the tests of the client and the hubcli smoke test need.
package testhub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const recordSeparator = 0x1e

// AvailableTransport is one entry of the negotiate response
type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// WebSocketsText is the transport the client needs
var WebSocketsText = AvailableTransport{Transport: "WebSockets", TransferFormats: []string{"Text", "Binary"}}

// Hub serves the negotiate endpoint and the websocket endpoint of a hub at its path.
type Hub struct {
	path            string
	router          chi.Router
	upgrader        websocket.Upgrader
	transports      []AvailableTransport
	negotiateStatus int
	negotiateVer    int
	pingInterval    time.Duration
	info            log.Logger
	dbg             log.Logger

	mx           sync.Mutex
	conns        map[string]*hubConn
	received     []Received
	accessTokens []string
	negotiations int
}

// Received is a message the hub received from a client
type Received struct {
	ConnectionID string
	Message      map[string]interface{}
}

// Type is the message type of the received message, 0 for the handshake
func (r Received) Type() int {
	t, _ := r.Message["type"].(float64)
	return int(t)
}

// Option configures a Hub
type Option func(h *Hub)

// Path sets the path of the hub. Default is "/hub"
func Path(path string) Option {
	return func(h *Hub) {
		h.path = path
	}
}

// Transports sets the availableTransports of the negotiate response
func Transports(transports ...AvailableTransport) Option {
	return func(h *Hub) {
		h.transports = transports
	}
}

// NegotiateStatus lets the negotiate endpoint fail with status
func NegotiateStatus(status int) Option {
	return func(h *Hub) {
		h.negotiateStatus = status
	}
}

// NegotiateVersion sets the negotiateVersion of the negotiate response.
// With version 1, the response contains a connectionToken which the client has to use as id.
func NegotiateVersion(version int) Option {
	return func(h *Hub) {
		h.negotiateVer = version
	}
}

// PingInterval lets the hub send pings to its clients
func PingInterval(interval time.Duration) Option {
	return func(h *Hub) {
		h.pingInterval = interval
	}
}

// Logger sets the logger of the hub. If debug is true, debug events are logged, too.
func Logger(logger log.Logger, debug bool) Option {
	return func(h *Hub) {
		if debug {
			logger = level.NewFilter(logger, level.AllowDebug())
		} else {
			logger = level.NewFilter(logger, level.AllowInfo())
		}
		h.info = level.Info(logger)
		h.dbg = level.Debug(logger)
	}
}

// New creates a Hub
func New(options ...Option) *Hub {
	h := &Hub{
		path:       "/hub",
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		transports: []AvailableTransport{WebSocketsText},
		info:       log.NewNopLogger(),
		dbg:        log.NewNopLogger(),
		conns:      make(map[string]*hubConn),
	}
	for _, option := range options {
		option(h)
	}
	r := chi.NewRouter()
	r.Post(h.path+"/negotiate", h.negotiate)
	r.Get(h.path, h.serveWebSocket)
	h.router = r
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Path is the path the hub is served at
func (h *Hub) Path() string {
	return h.path
}

func (h *Hub) negotiate(w http.ResponseWriter, r *http.Request) {
	h.mx.Lock()
	h.negotiations++
	h.accessTokens = append(h.accessTokens, r.URL.Query().Get("access_token"))
	h.mx.Unlock()
	if h.negotiateStatus != 0 {
		w.WriteHeader(h.negotiateStatus)
		return
	}
	response := struct {
		ConnectionToken     string               `json:"connectionToken,omitempty"`
		ConnectionID        string               `json:"connectionId"`
		NegotiateVersion    int                  `json:"negotiateVersion"`
		AvailableTransports []AvailableTransport `json:"availableTransports"`
	}{
		ConnectionID:        uuid.NewString(),
		NegotiateVersion:    h.negotiateVer,
		AvailableTransports: h.transports,
	}
	if h.negotiateVer > 0 {
		response.ConnectionToken = uuid.NewString()
	}
	http.SetCookie(w, &http.Cookie{Name: "hub-affinity", Value: response.ConnectionID, Path: "/"})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Hub) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = h.info.Log("event", "upgrade", "error", err)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	cookie := ""
	if c, err := r.Cookie("hub-affinity"); err == nil {
		cookie = c.Value
	}
	h.mx.Lock()
	h.accessTokens = append(h.accessTokens, r.URL.Query().Get("access_token"))
	h.mx.Unlock()
	conn := newHubConn(h, id, ws, cookie)
	h.mx.Lock()
	h.conns[id] = conn
	h.mx.Unlock()
	defer func() {
		h.mx.Lock()
		delete(h.conns, id)
		h.mx.Unlock()
	}()
	conn.run()
}

func (h *Hub) record(connectionID string, message map[string]interface{}) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.received = append(h.received, Received{ConnectionID: connectionID, Message: message})
}

// Received returns the messages the hub has received so far, the handshakes included
func (h *Hub) Received() []Received {
	h.mx.Lock()
	defer h.mx.Unlock()
	received := make([]Received, len(h.received))
	copy(received, h.received)
	return received
}

// ReceivedOfType returns the received messages of type t
func (h *Hub) ReceivedOfType(t int) []Received {
	var received []Received
	for _, r := range h.Received() {
		if r.Type() == t {
			received = append(received, r)
		}
	}
	return received
}

// AccessTokens returns the access_token query values of all negotiate and websocket requests
func (h *Hub) AccessTokens() []string {
	h.mx.Lock()
	defer h.mx.Unlock()
	tokens := make([]string, len(h.accessTokens))
	copy(tokens, h.accessTokens)
	return tokens
}

// Negotiations is the number of negotiate requests
func (h *Hub) Negotiations() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.negotiations
}

// Connections returns the ids of the open connections
func (h *Hub) Connections() []string {
	h.mx.Lock()
	defer h.mx.Unlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

// Cookie returns the affinity cookie the client of connection id has sent with the websocket request
func (h *Hub) Cookie(id string) string {
	h.mx.Lock()
	defer h.mx.Unlock()
	if conn, ok := h.conns[id]; ok {
		return conn.cookie
	}
	return ""
}

// Broadcast invokes target on all connected clients
func (h *Hub) Broadcast(target string, arguments ...interface{}) {
	for _, conn := range h.connections() {
		conn.write(invocation(target, arguments))
	}
}

// CloseAll sends a close message with errorMessage to all clients and closes their websockets.
func (h *Hub) CloseAll(errorMessage string) {
	for _, conn := range h.connections() {
		conn.write(closeMessage(errorMessage))
		conn.close()
	}
}

// Abort closes the websockets of all clients without a close message
func (h *Hub) Abort() {
	for _, conn := range h.connections() {
		conn.close()
	}
}

// SendRaw writes frame as it is to all clients
func (h *Hub) SendRaw(frame string) {
	for _, conn := range h.connections() {
		conn.writeRaw([]byte(frame))
	}
}

func (h *Hub) connections() []*hubConn {
	h.mx.Lock()
	defer h.mx.Unlock()
	conns := make([]*hubConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}
