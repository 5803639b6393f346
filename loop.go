package signalr

import (
	"context"
	"errors"
	"fmt"
)

// loop reads frames until the transport fails or the connection is closed.
// Frames which can not be parsed are dropped, the connection keeps running.
func (c *Connection) loop() {
	for {
		frame, err := c.transport.ReadFrame(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				_ = c.info.Log(evt, msgRecv, "error", err, react, "close connection")
				c.teardown(fmt.Errorf("read: %w", err), false)
			}
			break
		}
		messages, err := c.cfg.serializer.Deserialize(frame)
		if err != nil {
			c.cfg.metrics.droppedFrames.Inc()
			_ = c.info.Log(evt, msgRecv, "error", err, msg, string(frame), react, "drop frame")
			continue
		}
		if !c.dispatch(messages) {
			break
		}
	}
	_ = c.dbg.Log(evt, "message loop ended")
}

// dispatch handles the messages of one frame. It returns false when a message has ended the connection.
func (c *Connection) dispatch(messages []Message) bool {
	// One pong per frame, however many pings it carries
	for _, message := range messages {
		if _, ok := message.(PingMessage); ok {
			c.sendAndLog(c.ctx, Ping)
			break
		}
	}
	for _, message := range messages {
		c.cfg.metrics.received(message)
		switch message := message.(type) {
		case PingMessage:
			_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message))
		case HandshakeResponse:
			if message.Error != "" {
				_ = c.info.Log(evt, "handshake received", "error", message.Error, react, "close connection")
				c.teardown(fmt.Errorf("handshake refused: %v", message.Error), false)
				return false
			}
			_ = c.dbg.Log(evt, "handshake received", msg, fmtMsg(message))
		case CloseMessage:
			_ = c.info.Log(evt, msgRecv, msg, fmtMsg(message), react, "close connection")
			cause := errors.New("closed by server")
			if message.Error != "" {
				cause = fmt.Errorf("closed by server: %v", message.Error)
			}
			c.teardown(cause, false)
			return false
		default:
			if c.dispatcher.publish(message) {
				_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message))
			} else {
				_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message), react, "no receiver, ignore")
			}
		}
	}
	return true
}

func (c *Connection) sendAndLog(ctx context.Context, message Message) {
	if err := c.send(ctx, message); err != nil {
		_ = c.info.Log(evt, msgSend, msg, fmtMsg(message), "error", err)
	}
}

func fmtMsg(message interface{}) string {
	return fmt.Sprintf("%v", message)
}
