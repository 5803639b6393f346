package signalr

import (
	"context"
	"sync"
)

// dispatcher fans the received messages out to all subscriptions which accept them.
// Publishing never blocks: every subscription queues its messages until its consumer takes them.
type dispatcher struct {
	mx     sync.RWMutex
	lastID uint64
	subs   map[uint64]*subscription
}

func newDispatcher() *dispatcher {
	return &dispatcher{subs: make(map[uint64]*subscription)}
}

func (d *dispatcher) subscribe(accept func(Message) bool) *subscription {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.lastID++
	s := &subscription{
		id:     d.lastID,
		accept: accept,
		signal: make(chan struct{}, 1),
	}
	d.subs[s.id] = s
	return s
}

func (d *dispatcher) unsubscribe(s *subscription) {
	d.mx.Lock()
	delete(d.subs, s.id)
	d.mx.Unlock()
	s.discard()
}

// publish queues message at all accepting subscriptions and reports if there was any
func (d *dispatcher) publish(message Message) bool {
	d.mx.RLock()
	defer d.mx.RUnlock()
	accepted := false
	for _, s := range d.subs {
		if s.accept(message) {
			s.push(message)
			accepted = true
		}
	}
	return accepted
}

// subscription is an unbounded FIFO with a single consumer
type subscription struct {
	id     uint64
	accept func(Message) bool
	mx     sync.Mutex
	queue  []Message
	signal chan struct{}
	closed bool
}

func (s *subscription) push(message Message) {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.queue = append(s.queue, message)
	s.mx.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// next returns the oldest queued message. It blocks until there is one or ctx is done.
func (s *subscription) next(ctx context.Context) (Message, error) {
	for {
		s.mx.Lock()
		if len(s.queue) > 0 {
			message := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mx.Unlock()
			return message, nil
		}
		s.mx.Unlock()
		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *subscription) discard() {
	s.mx.Lock()
	s.closed = true
	s.queue = nil
	s.mx.Unlock()
}

// byInvocationID accepts the responses to the invocation with id.
// Invocations sent by the server have their own id space.
func byInvocationID(id string) func(Message) bool {
	return func(message Message) bool {
		switch message.(type) {
		case StreamItemMessage, CompletionMessage:
			return message.(invocationBound).invocationID() == id
		}
		return false
	}
}

func byTarget(target string) func(Message) bool {
	return func(message Message) bool {
		invocation, ok := message.(InvocationMessage)
		return ok && invocation.Target == target
	}
}
