package signalr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/teivah/onecontext"
)

const (
	closeMessageTimeout = time.Second
	cancelTimeout       = 5 * time.Second
)

// Connection is a hub connection over a single Transport.
// It is created in state Opening and ready for calls after Start.
// Invoke, Stream, Send and On can be used concurrently.
type Connection struct {
	ctx          context.Context
	cancel       context.CancelCauseFunc
	connectionID string
	transport    Transport
	cfg          *config
	info         StructuredLogger
	dbg          StructuredLogger
	lastID       atomic.Int64
	started      atomic.Bool
	stateMx      sync.RWMutex
	state        ConnectionState
	stateChans   []chan<- struct{}
	writeSlot    chan struct{}
	dispatcher   *dispatcher
	watchdog     *idleWatchdog
	closeOnce    sync.Once
	closeCalled  atomic.Bool
	closeErr     error
}

// NewConnection creates a Connection on an already opened transport.
// Most users will get their connection from Client.Connect instead.
func NewConnection(transport Transport, options ...Option) (*Connection, error) {
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	cfg, err := buildConfig(options...)
	if err != nil {
		return nil, err
	}
	return newConnection(transport, cfg, ""), nil
}

func newConnection(transport Transport, cfg *config, connectionID string) *Connection {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Connection{
		ctx:          ctx,
		cancel:       cancel,
		connectionID: connectionID,
		transport:    transport,
		cfg:          cfg,
		state:        Opening,
		writeSlot:    make(chan struct{}, 1),
		dispatcher:   newDispatcher(),
	}
	c.info, c.dbg = c.prefixLoggers()
	c.watchdog = newIdleWatchdog(cfg.idleTimeout, func() {
		_ = c.info.Log(evt, "idle timeout", "timeout", cfg.idleTimeout, react, "close connection")
		c.teardown(fmt.Errorf("%w (%v)", ErrIdleTimeout, cfg.idleTimeout), true)
	})
	return c
}

func (c *Connection) prefixLoggers() (info StructuredLogger, dbg StructuredLogger) {
	info, dbg = c.cfg.loggers()
	return log.WithPrefix(info, "ts", log.DefaultTimestampUTC, "class", "Connection", "connection", c.connectionID),
		log.WithPrefix(dbg, "ts", log.DefaultTimestampUTC, "class", "Connection", "connection", c.connectionID)
}

// Start sends the handshake request and switches the connection to state Opened.
// The connection does not wait for the handshake response of the server.
// ctx bounds sending the handshake only.
func (c *Connection) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("connection already started")
	}
	if state := c.State(); state != Opening {
		return fmt.Errorf("connection can not be started in state %v", state)
	}
	c.watchdog.Start()
	ctx, cancel := onecontext.Merge(ctx, c.ctx)
	defer cancel()
	// The handshake is never batched with other messages
	if err := c.write(ctx, []Message{Handshake}); err != nil {
		_ = c.info.Log(evt, "handshake sent", "error", err, react, "close connection")
		c.teardown(fmt.Errorf("handshake: %w", err), false)
		return err
	}
	_ = c.dbg.Log(evt, "handshake sent", msg, fmtMsg(Handshake))
	if !c.setState(Opened) {
		// Closed while the handshake was on its way
		return closedError(context.Cause(c.ctx))
	}
	c.cfg.metrics.openConnections.Inc()
	go c.loop()
	return nil
}

// Close ends the connection. It stops the ping responder and the idle watchdog, sends a CloseMessage
// and closes the transport. Pending calls fail with ErrConnectionClosed, running streams are not canceled on the server.
// Close can be called multiple times, only the first call returns the error of closing the transport.
func (c *Connection) Close() error {
	c.teardown(ErrConnectionClosed, true)
	if !c.closeCalled.CompareAndSwap(false, true) {
		return nil
	}
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	err := c.closeErr
	c.closeErr = nil
	return err
}

// Context returns a Context which is canceled when the connection is closed.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Err returns the reason why the connection has been closed, or nil while it is not closed.
func (c *Connection) Err() error {
	return context.Cause(c.ctx)
}

// ConnectionID is the id the server assigned during negotiation. It is empty for connections created by NewConnection.
func (c *Connection) ConnectionID() string {
	return c.connectionID
}

func (c *Connection) nextID() string {
	return strconv.FormatInt(c.lastID.Add(1), 10)
}

// teardown runs once. It leaves the connection in state Closed with cause as Err().
func (c *Connection) teardown(cause error, sendClose bool) {
	c.closeOnce.Do(func() {
		wasOpened := c.State() == Opened
		c.setState(Closing)
		c.watchdog.Stop()
		if sendClose && wasOpened {
			ctx, cancel := context.WithTimeout(c.ctx, closeMessageTimeout)
			if err := c.writeWith(ctx, ctx, []Message{CloseNormally}); err != nil {
				_ = c.dbg.Log(evt, msgSend, msg, fmtMsg(CloseNormally), "error", err)
			}
			cancel()
		}
		reason := ""
		if !errors.Is(cause, ErrConnectionClosed) {
			reason = cause.Error()
		}
		err := c.transport.Close(truncateReason(reason))
		if err != nil {
			_ = c.dbg.Log(evt, "close transport", "error", err)
		}
		c.stateMx.Lock()
		c.closeErr = err
		c.stateMx.Unlock()
		c.setState(Closed)
		c.cancel(cause)
		if wasOpened {
			c.cfg.metrics.openConnections.Dec()
		}
		_ = c.info.Log(evt, "connection closed", "cause", cause)
	})
}

// send sends messages in one frame if the connection is opened.
// A transport failure closes the connection.
func (c *Connection) send(ctx context.Context, messages ...Message) error {
	if c.State() != Opened {
		return ErrNotOpened
	}
	return c.write(ctx, messages)
}

// write sends messages in one frame, regardless of the connection state.
// ctx bounds the wait for the transport, the write itself is bound to the connection.
func (c *Connection) write(ctx context.Context, messages []Message) error {
	err := c.writeWith(ctx, c.ctx, messages)
	var wErr *writeError
	if errors.As(err, &wErr) && c.ctx.Err() == nil {
		_ = c.info.Log(evt, msgSend, "error", err, react, "close connection")
		c.teardown(err, false)
	}
	return err
}

type writeError struct {
	err error
}

func (w *writeError) Error() string {
	return fmt.Sprintf("write: %v", w.err)
}

func (w *writeError) Unwrap() error {
	return w.err
}

func (c *Connection) writeWith(waitCtx context.Context, writeCtx context.Context, messages []Message) error {
	frame, err := c.cfg.serializer.Serialize(messages)
	if err != nil {
		return err
	}
	if c.cfg.limiter != nil {
		if err := c.cfg.limiter.Wait(waitCtx); err != nil {
			return err
		}
	}
	select {
	case c.writeSlot <- struct{}{}:
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
	err = c.transport.WriteFrame(writeCtx, frame)
	<-c.writeSlot
	if err != nil {
		return &writeError{err}
	}
	c.watchdog.Feed()
	c.cfg.metrics.sent(messages)
	_ = c.dbg.Log(evt, msgSend, msg, string(frame[:len(frame)-1]))
	return nil
}

// callError replaces the error of a call by ErrConnectionClosed if the connection has ended
func (c *Connection) callError(err error) error {
	if c.ctx.Err() != nil {
		return closedError(context.Cause(c.ctx))
	}
	return err
}

// websocket close reasons must not exceed 123 bytes
func truncateReason(reason string) string {
	if len(reason) > 123 {
		return reason[:123]
	}
	return reason
}
