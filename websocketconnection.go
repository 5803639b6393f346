package signalr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/coder/websocket"
)

// Transport is a message based duplex channel. Every call of ReadFrame returns exactly one
// frame as it was sent by the server, WriteFrame sends one frame.
// ReadFrame is only called by one goroutine at a time, the same holds for WriteFrame.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close(reason string) error
}

type webSocketTransport struct {
	ws *websocket.Conn
}

// NewWebSocketTransport wraps an open websocket into a Transport using text frames.
func NewWebSocketTransport(ws *websocket.Conn) Transport {
	return &webSocketTransport{ws: ws}
}

func (w *webSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	messageType, data, err := w.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%T: %w", w, err)
	}
	if messageType != websocket.MessageText {
		return nil, fmt.Errorf("%T: unexpected %v frame", w, messageType)
	}
	return data, nil
}

func (w *webSocketTransport) WriteFrame(ctx context.Context, frame []byte) error {
	if err := w.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("%T: %w", w, err)
	}
	return nil
}

// Close runs the websocket close handshake. A peer which has already closed or dropped the
// websocket is not an error.
func (w *webSocketTransport) Close(reason string) error {
	err := w.ws.Close(websocket.StatusNormalClosure, reason)
	if err == nil || peerClosed(err) {
		return nil
	}
	return fmt.Errorf("%T: %w", w, err)
}

func peerClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
