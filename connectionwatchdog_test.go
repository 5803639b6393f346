package signalr

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("idleWatchdog", func() {
	It("should bark after the timeout", func(done Done) {
		barked := make(chan struct{})
		d := newIdleWatchdog(50*time.Millisecond, func() { close(barked) })
		d.Start()
		Eventually(barked).Should(BeClosed())
		close(done)
	}, 1.0)
	It("should not bark while it is fed", func(done Done) {
		var barks atomic.Int32
		d := newIdleWatchdog(100*time.Millisecond, func() { barks.Add(1) })
		d.Start()
		for i := 0; i < 5; i++ {
			time.Sleep(40 * time.Millisecond)
			d.Feed()
		}
		Expect(barks.Load()).To(Equal(int32(0)))
		Eventually(barks.Load, 500*time.Millisecond).Should(Equal(int32(1)))
		Consistently(barks.Load, 200*time.Millisecond).Should(Equal(int32(1)))
		close(done)
	}, 2.0)
	It("should not bark after Stop", func(done Done) {
		var barks atomic.Int32
		d := newIdleWatchdog(50*time.Millisecond, func() { barks.Add(1) })
		d.Start()
		d.Stop()
		Consistently(barks.Load, 200*time.Millisecond).Should(Equal(int32(0)))
		close(done)
	}, 1.0)
	It("should never bark with timeout 0", func(done Done) {
		var barks atomic.Int32
		d := newIdleWatchdog(0, func() { barks.Add(1) })
		d.Start()
		d.Feed()
		Consistently(barks.Load, 100*time.Millisecond).Should(Equal(int32(0)))
		d.Stop()
		close(done)
	}, 1.0)
})
