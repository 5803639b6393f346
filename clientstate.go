package signalr

import (
	"context"
	"fmt"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int

const (
	// Opening means the transport is open but the handshake has not been sent yet
	Opening ConnectionState = iota
	// Opened is the steady state. Only in this state calls can be made
	Opened
	// Closing means the connection is being torn down
	Closing
	// Closed is final
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Opening:
		return "opening"
	case Opened:
		return "opened"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// State returns the current state of the connection.
func (c *Connection) State() ConnectionState {
	c.stateMx.RLock()
	defer c.stateMx.RUnlock()
	return c.state
}

// PushStateChanged registers ch to be signaled when the state changes.
// ch should be buffered, a signal is skipped when ch is not ready to receive.
func (c *Connection) PushStateChanged(ch chan<- struct{}) {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	c.stateChans = append(c.stateChans, ch)
}

// PullStateChanged removes ch from the channels signaled on state changes.
func (c *Connection) PullStateChanged(ch chan<- struct{}) {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	for i, stateCh := range c.stateChans {
		if stateCh == ch {
			c.stateChans = append(c.stateChans[:i], c.stateChans[i+1:]...)
			return
		}
	}
}

// WaitForState returns a channel for waiting on the connection to reach a specific state.
// The channel returns an error if ctx has been canceled or the state can not be reached anymore,
// or is closed without value when waitFor has been reached.
func (c *Connection) WaitForState(ctx context.Context, waitFor ConnectionState) <-chan error {
	ch := make(chan error, 1)
	stateCh := make(chan struct{}, 1)
	c.PushStateChanged(stateCh)
	go func() {
		defer close(ch)
		defer c.PullStateChanged(stateCh)
		for {
			state := c.State()
			switch {
			case state == waitFor:
				return
			case state > waitFor:
				ch <- fmt.Errorf("connection is %v, %v can not be reached anymore", state, waitFor)
				return
			}
			select {
			case <-stateCh:
			case <-ctx.Done():
				ch <- ctx.Err()
				return
			}
		}
	}()
	return ch
}

// setState moves the connection forward to state. States never go back,
// setState reports false if state is behind the current state.
func (c *Connection) setState(state ConnectionState) bool {
	c.stateMx.Lock()
	if c.state == state {
		c.stateMx.Unlock()
		return true
	}
	if state < c.state {
		c.stateMx.Unlock()
		return false
	}
	_ = c.dbg.Log(evt, "state changed", "from", c.state, "to", state)
	c.state = state
	chans := make([]chan<- struct{}, len(c.stateChans))
	copy(chans, c.stateChans)
	c.stateMx.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}
