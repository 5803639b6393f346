package signalr

import (
	"context"
	"fmt"

	"github.com/teivah/onecontext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Invoke invokes method on the server and waits for its completion.
// The returned channel receives exactly one InvokeResult and is closed afterwards.
// If ctx is canceled before the completion has arrived, the result carries ctx.Err().
// The server is not notified about that.
func (c *Connection) Invoke(ctx context.Context, method string, arguments ...interface{}) <-chan InvokeResult {
	if c.State() != Opened {
		return errorInvokeResultChan(ErrNotOpened)
	}
	id := c.nextID()
	// Subscribe before sending, the completion might be faster than the send returns
	sub := c.dispatcher.subscribe(byInvocationID(id))
	ch := make(chan InvokeResult, 1)
	go func() {
		defer close(ch)
		defer c.dispatcher.unsubscribe(sub)
		c.cfg.metrics.pendingCalls.Inc()
		defer c.cfg.metrics.pendingCalls.Dec()
		callCtx, cancel := onecontext.Merge(ctx, c.ctx)
		defer cancel()
		callCtx, span := c.startSpan(callCtx, "Invoke", method, id)
		result := c.invoke(callCtx, sub, id, method, arguments)
		endSpan(span, result.Error)
		ch <- result
	}()
	return ch
}

func (c *Connection) invoke(ctx context.Context, sub *subscription, id, method string, arguments []interface{}) InvokeResult {
	headers, err := c.resolveHeaders(ctx, method, arguments)
	if err == nil {
		err = c.send(ctx, NewInvocationMessage(method, arguments, id, headers))
	}
	if err != nil {
		return InvokeResult{Error: c.callError(err)}
	}
	for {
		message, err := sub.next(ctx)
		if err != nil {
			return InvokeResult{Error: c.callError(err)}
		}
		if completion, ok := message.(CompletionMessage); ok {
			if completion.Error != "" {
				return InvokeResult{Error: &InvocationError{InvocationID: id, Method: method, Message: completion.Error}}
			}
			return InvokeResult{Value: completion.Result}
		}
		_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message), react, "ignore stream item for invocation")
	}
}

// Stream invokes the streaming method on the server.
// The returned channel receives the stream items in the order the server sent them.
// When the server completes the stream with an error, a last InvokeResult carries an *InvocationError.
// The channel is closed after the completion or when the connection is closed.
// Canceling ctx before the completion detaches the consumer and asks the server to cancel the stream.
func (c *Connection) Stream(ctx context.Context, method string, arguments ...interface{}) <-chan InvokeResult {
	if c.State() != Opened {
		return errorInvokeResultChan(ErrNotOpened)
	}
	id := c.nextID()
	sub := c.dispatcher.subscribe(byInvocationID(id))
	ch := make(chan InvokeResult, 1)
	go func() {
		defer close(ch)
		defer c.dispatcher.unsubscribe(sub)
		c.cfg.metrics.pendingCalls.Inc()
		defer c.cfg.metrics.pendingCalls.Dec()
		callCtx, cancel := onecontext.Merge(ctx, c.ctx)
		defer cancel()
		callCtx, span := c.startSpan(callCtx, "Stream", method, id)
		err := c.stream(callCtx, sub, id, method, arguments, ch)
		// A detached consumer gets nothing more
		if err != nil && ctx.Err() == nil {
			err = c.callError(err)
			select {
			case ch <- InvokeResult{Error: err}:
			case <-ctx.Done():
			}
		}
		endSpan(span, err)
	}()
	return ch
}

// stream forwards the items of the stream id to ch until the server completes the stream.
// If it returns before the completion, the server is asked to cancel the stream.
func (c *Connection) stream(ctx context.Context, sub *subscription, id, method string, arguments []interface{}, ch chan<- InvokeResult) error {
	headers, err := c.resolveHeaders(ctx, method, arguments)
	if err != nil {
		return err
	}
	if err = c.send(ctx, NewStreamInvocationMessage(method, arguments, id, headers)); err != nil {
		return err
	}
	completed := false
	defer func() {
		if !completed {
			c.cancelStream(id, headers)
		}
	}()
	for {
		message, err := sub.next(ctx)
		if err != nil {
			return err
		}
		switch message := message.(type) {
		case StreamItemMessage:
			select {
			case ch <- InvokeResult{Value: message.Item}:
			case <-ctx.Done():
				return ctx.Err()
			}
		case CompletionMessage:
			completed = true
			if message.Error != "" {
				return &InvocationError{InvocationID: id, Method: method, Message: message.Error}
			}
			return nil
		}
	}
}

// cancelStream sends the CancelInvocation with the headers of the StreamInvocation.
// It is a no-op when the connection is not opened anymore.
func (c *Connection) cancelStream(id string, headers map[string]string) {
	if c.State() != Opened {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, cancelTimeout)
	defer cancel()
	c.sendAndLog(ctx, NewCancelInvocationMessage(id, headers))
}

// Send invokes method on the server without waiting for a result.
// The returned channel receives an error if the message could not be sent and is closed afterwards.
func (c *Connection) Send(ctx context.Context, method string, arguments ...interface{}) <-chan error {
	errCh := make(chan error, 1)
	if c.State() != Opened {
		errCh <- ErrNotOpened
		close(errCh)
		return errCh
	}
	go func() {
		defer close(errCh)
		callCtx, cancel := onecontext.Merge(ctx, c.ctx)
		defer cancel()
		callCtx, span := c.startSpan(callCtx, "Send", method, "")
		headers, err := c.resolveHeaders(callCtx, method, arguments)
		if err == nil {
			err = c.send(callCtx, NewInvocationMessage(method, arguments, "", headers))
		}
		if err != nil {
			err = c.callError(err)
			errCh <- err
		}
		endSpan(span, err)
	}()
	return errCh
}

// On returns a channel receiving the arguments of every invocation of method the server sends to the client.
// The subscription is active when On returns. It ends when ctx is canceled or the connection is closed,
// then the channel is closed. Every On call gets its own copy of the invocations.
func (c *Connection) On(ctx context.Context, method string) (<-chan []interface{}, error) {
	if c.State() != Opened {
		return nil, ErrNotOpened
	}
	sub := c.dispatcher.subscribe(byTarget(method))
	ch := make(chan []interface{})
	go func() {
		defer close(ch)
		defer c.dispatcher.unsubscribe(sub)
		onCtx, cancel := onecontext.Merge(ctx, c.ctx)
		defer cancel()
		for {
			message, err := sub.next(onCtx)
			if err != nil {
				return
			}
			select {
			case ch <- message.(InvocationMessage).Arguments:
			case <-onCtx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// resolveHeaders builds the headers of one outbound invocation.
// Trace context is injected first, the HeadersFactory can override it.
func (c *Connection) resolveHeaders(ctx context.Context, method string, arguments []interface{}) (map[string]string, error) {
	var headers map[string]string
	if c.cfg.propagator != nil {
		carrier := propagation.MapCarrier{}
		c.cfg.propagator.Inject(ctx, carrier)
		if len(carrier) > 0 {
			headers = carrier
		}
	}
	if c.cfg.headersFactory == nil {
		return headers, nil
	}
	factoryHeaders, err := c.cfg.headersFactory(ctx, method, arguments)
	if err != nil {
		return nil, fmt.Errorf("headers factory: %w", err)
	}
	if headers == nil {
		return factoryHeaders, nil
	}
	for key, value := range factoryHeaders {
		headers[key] = value
	}
	return headers, nil
}

func (c *Connection) startSpan(ctx context.Context, kind, method, id string) (context.Context, trace.Span) {
	attributes := []attribute.KeyValue{
		attribute.String("rpc.system", "signalr"),
		attribute.String("rpc.method", method),
	}
	if id != "" {
		attributes = append(attributes, attribute.String("signalr.invocation_id", id))
	}
	if c.connectionID != "" {
		attributes = append(attributes, attribute.String("signalr.connection_id", c.connectionID))
	}
	return c.cfg.tracer.Start(ctx, fmt.Sprintf("signalr.%v %v", kind, method),
		trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attributes...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
