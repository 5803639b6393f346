package testhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type hubConn struct {
	hub     *Hub
	id      string
	ws      *websocket.Conn
	cookie  string
	ctx     context.Context
	cancel  context.CancelFunc
	writeMx sync.Mutex
	mx      sync.Mutex
	streams map[string]context.CancelFunc
}

func newHubConn(hub *Hub, id string, ws *websocket.Conn, cookie string) *hubConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &hubConn{
		hub:     hub,
		id:      id,
		ws:      ws,
		cookie:  cookie,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]context.CancelFunc),
	}
}

func (c *hubConn) run() {
	defer c.close()
	handshaken := false
	if c.hub.pingInterval > 0 {
		go c.ping()
	}
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.hub.dbg.Log("event", "read", "connection", c.id, "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			_ = c.hub.info.Log("event", "read", "connection", c.id, "error", "binary frame")
			return
		}
		for _, record := range bytes.Split(bytes.TrimSuffix(data, []byte{recordSeparator}), []byte{recordSeparator}) {
			message := map[string]interface{}{}
			if err := json.Unmarshal(record, &message); err != nil {
				_ = c.hub.info.Log("event", "read", "connection", c.id, "error", err, "record", string(record))
				return
			}
			c.hub.record(c.id, message)
			if !handshaken {
				if !c.handshake(message) {
					return
				}
				handshaken = true
				continue
			}
			if !c.handle(message) {
				c.awaitClose()
				return
			}
		}
	}
}

func (c *hubConn) handshake(message map[string]interface{}) bool {
	if protocol, _ := message["protocol"].(string); protocol != "json" {
		c.write(map[string]interface{}{"error": fmt.Sprintf("protocol %v not supported", message["protocol"])})
		return false
	}
	c.write(map[string]interface{}{})
	return true
}

// handle processes one message and returns false if the connection should end
func (c *hubConn) handle(message map[string]interface{}) bool {
	t, _ := message["type"].(float64)
	id, _ := message["invocationId"].(string)
	switch int(t) {
	case 1:
		c.invoke(id, message)
	case 4:
		ctx, cancel := context.WithCancel(c.ctx)
		c.mx.Lock()
		c.streams[id] = cancel
		c.mx.Unlock()
		go c.stream(ctx, id, message)
	case 5:
		c.mx.Lock()
		if cancel, ok := c.streams[id]; ok {
			cancel()
			delete(c.streams, id)
		}
		c.mx.Unlock()
	case 7:
		return false
	}
	return true
}

func (c *hubConn) invoke(id string, message map[string]interface{}) {
	target, _ := message["target"].(string)
	arguments, _ := message["arguments"].([]interface{})
	var result interface{}
	var errorMessage string
	switch target {
	case "Add":
		x, y := number(arguments, 0), number(arguments, 1)
		result = x + y
	case "Echo":
		if len(arguments) > 0 {
			result = arguments[0]
		}
	case "Headers":
		result = message["headers"]
	case "Repeat":
		c.write(invocation("Receive", arguments))
	case "Fail":
		errorMessage = fmt.Sprint(arguments...)
	case "Block":
		return
	default:
		errorMessage = fmt.Sprintf("Unknown method %v", target)
	}
	if id != "" {
		c.write(completion(id, result, errorMessage))
	}
}

// stream serves Enumerate(count, delayMs) with the items 0..count-1
func (c *hubConn) stream(ctx context.Context, id string, message map[string]interface{}) {
	defer func() {
		c.mx.Lock()
		delete(c.streams, id)
		c.mx.Unlock()
	}()
	target, _ := message["target"].(string)
	arguments, _ := message["arguments"].([]interface{})
	if target != "Enumerate" {
		c.write(completion(id, nil, fmt.Sprintf("Unknown method %v", target)))
		return
	}
	count, delay := int(number(arguments, 0)), time.Duration(number(arguments, 1))*time.Millisecond
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		c.write(map[string]interface{}{"type": 2, "invocationId": id, "item": i})
	}
	c.write(completion(id, nil, ""))
}

// awaitClose reads until the client closes the websocket. The default close handler answers its close frame.
func (c *hubConn) awaitClose() {
	_ = c.ws.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *hubConn) ping() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.write(map[string]interface{}{"type": 6})
		}
	}
}

func (c *hubConn) write(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		_ = c.hub.info.Log("event", "write", "connection", c.id, "error", err)
		return
	}
	c.writeRaw(append(data, recordSeparator))
}

func (c *hubConn) writeRaw(frame []byte) {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = c.hub.dbg.Log("event", "write", "connection", c.id, "error", err)
	}
}

func (c *hubConn) close() {
	c.cancel()
	_ = c.ws.Close()
}

func invocation(target string, arguments []interface{}) map[string]interface{} {
	if arguments == nil {
		arguments = []interface{}{}
	}
	return map[string]interface{}{"type": 1, "target": target, "arguments": arguments}
}

func completion(id string, result interface{}, errorMessage string) map[string]interface{} {
	m := map[string]interface{}{"type": 3, "invocationId": id}
	if errorMessage != "" {
		m["error"] = errorMessage
	} else if result != nil {
		m["result"] = result
	}
	return m
}

func closeMessage(errorMessage string) map[string]interface{} {
	m := map[string]interface{}{"type": 7}
	if errorMessage != "" {
		m["error"] = errorMessage
	}
	return m
}

func number(arguments []interface{}, i int) float64 {
	if i >= len(arguments) {
		return 0
	}
	f, _ := arguments[i].(float64)
	return f
}
