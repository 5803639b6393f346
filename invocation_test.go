package signalr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var _ = Describe("Invocation", func() {

	Context("ids", func() {
		It("should number the invocations of a connection from 1", func(done Done) {
			conn, transport := openConnection()
			conn.Invoke(context.Background(), "Block")
			conn.Stream(context.Background(), "Block")
			conn.Invoke(context.Background(), "Block")
			ids := map[interface{}]bool{}
			for i := 0; i < 3; i++ {
				ids[transport.writtenMessage()["invocationId"]] = true
			}
			Expect(ids).To(Equal(map[interface{}]bool{"1": true, "2": true, "3": true}))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
	})

	Context("Invoke", func() {
		It("should resolve with the result of the matching completion", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Invoke(context.Background(), "Add", 5, 20)
			m := transport.writtenMessage()
			Expect(m).To(Equal(map[string]interface{}{
				"type":         float64(1),
				"invocationId": "1",
				"target":       "Add",
				"arguments":    []interface{}{float64(5), float64(20)},
			}))
			transport.serverSend(`{"type":3,"invocationId":"1","result":25}`)
			r := <-ch
			Expect(r.Error).NotTo(HaveOccurred())
			Expect(r.Value).To(Equal(float64(25)))
			var sum int
			Expect(r.Into(&sum)).To(Succeed())
			Expect(sum).To(Equal(25))
			Eventually(ch).Should(BeClosed())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should resolve with an InvocationError when the completion carries an error", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Invoke(context.Background(), "Fail")
			transport.writtenMessage()
			transport.serverSend(`{"type":3,"invocationId":"1","error":"it failed"}`)
			r := <-ch
			var iErr *InvocationError
			Expect(errors.As(r.Error, &iErr)).To(BeTrue())
			Expect(iErr.Message).To(Equal("it failed"))
			Expect(iErr.Method).To(Equal("Fail"))
			Expect(iErr.InvocationID).To(Equal("1"))
			Expect(r.Into(new(int))).To(MatchError(r.Error))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should resolve void completions with nil", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Invoke(context.Background(), "Void")
			transport.writtenMessage()
			transport.serverSend(`{"type":3,"invocationId":"1"}`)
			r := <-ch
			Expect(r.Error).NotTo(HaveOccurred())
			Expect(r.Value).To(BeNil())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should only take the completion with its own id", func(done Done) {
			conn, transport := openConnection()
			ch1 := conn.Invoke(context.Background(), "A")
			ch2 := conn.Invoke(context.Background(), "B")
			transport.writtenMessage()
			transport.writtenMessage()
			transport.serverSend(`{"type":3,"invocationId":"2","result":"b"}`, `{"type":3,"invocationId":"1","result":"a"}`)
			Expect((<-ch1).Value).To(Equal("a"))
			Expect((<-ch2).Value).To(Equal("b"))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should not mistake a server invocation for the completion", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Invoke(context.Background(), "A")
			transport.writtenMessage()
			transport.serverSend(`{"type":1,"invocationId":"1","target":"Client","arguments":[]}`)
			Consistently(ch, 100*time.Millisecond).ShouldNot(Receive())
			transport.serverSend(`{"type":3,"invocationId":"1","result":"a"}`)
			Expect((<-ch).Value).To(Equal("a"))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should return the context error when the caller gives up", func(done Done) {
			conn, transport := openConnection()
			ctx, cancel := context.WithCancel(context.Background())
			ch := conn.Invoke(ctx, "Block")
			transport.writtenMessage()
			cancel()
			r := <-ch
			Expect(r.Error).To(MatchError(context.Canceled))
			Expect(conn.State()).To(Equal(Opened))
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
	})

	Context("Stream", func() {
		It("should deliver the items in order and close after the completion", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Stream(context.Background(), "Enumerate", 5, 50)
			m := transport.writtenMessage()
			Expect(m["type"]).To(Equal(float64(4)))
			Expect(m["invocationId"]).To(Equal("1"))
			Expect(m["target"]).To(Equal("Enumerate"))
			for i := 0; i < 5; i++ {
				transport.serverSend(fmt.Sprintf(`{"type":2,"invocationId":"1","item":%v}`, i))
			}
			transport.serverSend(`{"type":3,"invocationId":"1"}`)
			var items []interface{}
			for r := range ch {
				Expect(r.Error).NotTo(HaveOccurred())
				items = append(items, r.Value)
			}
			Expect(items).To(Equal([]interface{}{float64(0), float64(1), float64(2), float64(3), float64(4)}))
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should deliver items and completion from one frame", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Stream(context.Background(), "Enumerate", 2, 0)
			transport.writtenMessage()
			transport.serverSend(`{"type":2,"invocationId":"1","item":"a"}`, `{"type":2,"invocationId":"1","item":"b"}`, `{"type":3,"invocationId":"1"}`)
			var items []interface{}
			for r := range ch {
				items = append(items, r.Value)
			}
			Expect(items).To(Equal([]interface{}{"a", "b"}))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should end with an InvocationError when the completion carries an error", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Stream(context.Background(), "Enumerate", 2, 0)
			transport.writtenMessage()
			transport.serverSend(`{"type":2,"invocationId":"1","item":"a"}`, `{"type":3,"invocationId":"1","error":"broken"}`)
			Expect((<-ch).Value).To(Equal("a"))
			r := <-ch
			var iErr *InvocationError
			Expect(errors.As(r.Error, &iErr)).To(BeTrue())
			Expect(iErr.Message).To(Equal("broken"))
			Eventually(ch).Should(BeClosed())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should send exactly one cancel invocation when the consumer detaches", func(done Done) {
			conn, transport := openConnection(HeadersFactoryFunc(func(context.Context, string, []interface{}) (map[string]string, error) {
				return map[string]string{"X-Header": "Test"}, nil
			}))
			ctx, cancel := context.WithCancel(context.Background())
			ch := conn.Stream(ctx, "Enumerate", 1000, 10)
			transport.writtenMessage()
			transport.serverSend(`{"type":2,"invocationId":"1","item":0}`)
			Expect((<-ch).Value).To(Equal(float64(0)))
			cancel()
			Expect(transport.writtenMessage()).To(Equal(map[string]interface{}{
				"type":         float64(5),
				"invocationId": "1",
				"headers":      map[string]interface{}{"X-Header": "Test"},
			}))
			Eventually(ch).Should(BeClosed())
			transport.serverSend(`{"type":2,"invocationId":"1","item":1}`)
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should not send a cancel invocation after the completion", func(done Done) {
			conn, transport := openConnection()
			ctx, cancel := context.WithCancel(context.Background())
			ch := conn.Stream(ctx, "Enumerate", 0, 0)
			transport.writtenMessage()
			transport.serverSend(`{"type":3,"invocationId":"1"}`)
			Eventually(ch).Should(BeClosed())
			cancel()
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should not send a cancel invocation when the connection closes", func(done Done) {
			conn, transport := openConnection()
			ch := conn.Stream(context.Background(), "Enumerate", 1000, 10)
			transport.writtenMessage()
			Expect(conn.Close()).To(Succeed())
			Expect(transport.writtenMessage()["type"]).To(Equal(float64(7)))
			r := <-ch
			Expect(errors.Is(r.Error, ErrConnectionClosed)).To(BeTrue())
			Eventually(ch).Should(BeClosed())
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			close(done)
		}, 2.0)
	})

	Context("Send", func() {
		It("should send an invocation without id", func(done Done) {
			conn, transport := openConnection()
			Expect(<-conn.Send(context.Background(), "Broadcast", "hello")).To(Succeed())
			Expect(transport.writtenMessage()).To(Equal(map[string]interface{}{
				"type":      float64(1),
				"target":    "Broadcast",
				"arguments": []interface{}{"hello"},
			}))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should not consume an invocation id", func(done Done) {
			conn, transport := openConnection()
			Expect(<-conn.Send(context.Background(), "Broadcast")).To(Succeed())
			transport.writtenMessage()
			conn.Invoke(context.Background(), "Block")
			Expect(transport.writtenMessage()["invocationId"]).To(Equal("1"))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
	})

	Context("On", func() {
		It("should deliver the arguments of matching server invocations to every subscriber", func(done Done) {
			conn, transport := openConnection()
			ch1, err := conn.On(context.Background(), "Receive")
			Expect(err).NotTo(HaveOccurred())
			ch2, err := conn.On(context.Background(), "Receive")
			Expect(err).NotTo(HaveOccurred())
			other, err := conn.On(context.Background(), "receive")
			Expect(err).NotTo(HaveOccurred())
			transport.serverSend(`{"type":1,"target":"Receive","arguments":[42]}`)
			Expect(<-ch1).To(Equal([]interface{}{float64(42)}))
			Expect(<-ch2).To(Equal([]interface{}{float64(42)}))
			Consistently(other, 100*time.Millisecond).ShouldNot(Receive())
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should keep the order of server invocations", func(done Done) {
			conn, transport := openConnection()
			ch, err := conn.On(context.Background(), "Receive")
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 10; i++ {
				transport.serverSend(fmt.Sprintf(`{"type":1,"target":"Receive","arguments":[%v]}`, i))
			}
			for i := 0; i < 10; i++ {
				Expect(<-ch).To(Equal([]interface{}{float64(i)}))
			}
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should end when the context is canceled", func(done Done) {
			conn, transport := openConnection()
			ctx, cancel := context.WithCancel(context.Background())
			ch, err := conn.On(ctx, "Receive")
			Expect(err).NotTo(HaveOccurred())
			cancel()
			Eventually(ch).Should(BeClosed())
			transport.serverSend(`{"type":1,"target":"Receive","arguments":[]}`)
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should end when the connection is closed", func(done Done) {
			conn, _ := openConnection()
			ch, err := conn.On(context.Background(), "Receive")
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.Close()).To(Succeed())
			Eventually(ch).Should(BeClosed())
			close(done)
		}, 2.0)
	})

	Context("headers", func() {
		It("should pass method and arguments to the factory and attach its headers", func(done Done) {
			var mx sync.Mutex
			var calls []string
			factory := func(_ context.Context, method string, arguments []interface{}) (map[string]string, error) {
				mx.Lock()
				defer mx.Unlock()
				calls = append(calls, fmt.Sprint(method, arguments))
				return map[string]string{"X-Header": "Test"}, nil
			}
			conn, transport := openConnection(HeadersFactoryFunc(factory))
			conn.Invoke(context.Background(), "Add", 1, 2)
			Expect(transport.writtenMessage()["headers"]).To(Equal(map[string]interface{}{"X-Header": "Test"}))
			conn.Stream(context.Background(), "Enumerate", 3)
			Expect(transport.writtenMessage()["headers"]).To(Equal(map[string]interface{}{"X-Header": "Test"}))
			Expect(<-conn.Send(context.Background(), "Echo")).To(Succeed())
			Expect(transport.writtenMessage()["headers"]).To(Equal(map[string]interface{}{"X-Header": "Test"}))
			mx.Lock()
			Expect(calls).To(Equal([]string{"Add[1 2]", "Enumerate[3]", "Echo[]"}))
			mx.Unlock()
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should fail only the call whose factory fails", func(done Done) {
			factory := func(_ context.Context, method string, _ []interface{}) (map[string]string, error) {
				if method == "Bad" {
					return nil, errors.New("no token")
				}
				return nil, nil
			}
			conn, transport := openConnection(HeadersFactoryFunc(factory))
			r := <-conn.Invoke(context.Background(), "Bad")
			Expect(r.Error).To(MatchError(ContainSubstring("no token")))
			Expect(<-conn.Send(context.Background(), "Bad")).To(MatchError(ContainSubstring("no token")))
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			ch := conn.Invoke(context.Background(), "Good")
			m := transport.writtenMessage()
			Expect(m).NotTo(HaveKey("headers"))
			Expect(m["invocationId"]).To(Equal("2"))
			transport.serverSend(`{"type":3,"invocationId":"2","result":true}`)
			Expect((<-ch).Value).To(Equal(true))
			Expect(conn.State()).To(Equal(Opened))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should send in the order the headers have been resolved", func(done Done) {
			release := make(chan struct{})
			factory := func(_ context.Context, method string, _ []interface{}) (map[string]string, error) {
				if method == "Slow" {
					<-release
				}
				return nil, nil
			}
			conn, transport := openConnection(HeadersFactoryFunc(factory))
			conn.Invoke(context.Background(), "Slow")
			conn.Invoke(context.Background(), "Fast")
			Expect(transport.writtenMessage()["target"]).To(Equal("Fast"))
			close(release)
			m := transport.writtenMessage()
			Expect(m["target"]).To(Equal("Slow"))
			Expect(m["invocationId"]).To(Equal("1"))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should fail calls whose factory did not return before the connection closed", func(done Done) {
			release := make(chan struct{})
			factory := func(ctx context.Context, _ string, _ []interface{}) (map[string]string, error) {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil, nil
			}
			conn, transport := openConnection(HeadersFactoryFunc(factory))
			ch := conn.Invoke(context.Background(), "Slow")
			Expect(conn.Close()).To(Succeed())
			Expect(transport.writtenMessage()["type"]).To(Equal(float64(7)))
			r := <-ch
			Expect(errors.Is(r.Error, ErrConnectionClosed)).To(BeTrue())
			close(release)
			Consistently(transport.toServer, 100*time.Millisecond).ShouldNot(Receive())
			close(done)
		}, 2.0)
	})

	Context("tracing", func() {
		It("should propagate the trace context of the caller in the headers", func(done Done) {
			traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
			spanID := trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}
			ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
			}))
			conn, transport := openConnection(WithTracerProvider(noop.NewTracerProvider()), PropagateTraceContext(propagation.TraceContext{}))
			conn.Invoke(ctx, "Add", 1, 2)
			headers := transport.writtenMessage()["headers"].(map[string]interface{})
			Expect(headers["traceparent"]).To(Equal("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should let the headers factory override propagated headers", func(done Done) {
			ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
				TraceID: trace.TraceID{1},
				SpanID:  trace.SpanID{1},
			}))
			conn, transport := openConnection(PropagateTraceContext(propagation.TraceContext{}),
				HeadersFactoryFunc(func(context.Context, string, []interface{}) (map[string]string, error) {
					return map[string]string{"traceparent": "custom", "X-Header": "Test"}, nil
				}))
			conn.Invoke(ctx, "Add", 1, 2)
			Expect(transport.writtenMessage()["headers"]).To(Equal(map[string]interface{}{"traceparent": "custom", "X-Header": "Test"}))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
		It("should not add headers without a span in the context", func(done Done) {
			conn, transport := openConnection(WithTracerProvider(noop.NewTracerProvider()), PropagateTraceContext(propagation.TraceContext{}))
			conn.Invoke(context.Background(), "Add", 1, 2)
			Expect(transport.writtenMessage()).NotTo(HaveKey("headers"))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 2.0)
	})

	Context("send rate limit", func() {
		It("should delay writes beyond the burst", func(done Done) {
			conn, transport := openConnection(SendRateLimit(10, 1))
			start := time.Now()
			for i := 0; i < 3; i++ {
				Expect(<-conn.Send(context.Background(), "Echo", i)).To(Succeed())
				transport.writtenMessage()
			}
			Expect(time.Since(start)).To(BeNumerically(">=", 150*time.Millisecond))
			Expect(conn.Close()).To(Succeed())
			close(done)
		}, 3.0)
	})
})
