package realtime_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/soundscribe/analytics-service/internal/realtime"
)

type stubChannel struct {
	name   string
	events chan realtime.Event
	closed bool
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Events() <-chan realtime.Event { return c.events }
func (c *stubChannel) Close() error {
	c.closed = true
	return nil
}

type stubManager struct {
	failWith   error
	panicWith  any
	createArgs []string
	removed    []string
	cleanups   int
	connected  bool
	open       int
}

func (m *stubManager) CreateChannel(_ context.Context, name string, _ realtime.ChannelConfig) (realtime.Channel, error) {
	m.createArgs = append(m.createArgs, name)
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.failWith != nil {
		return nil, m.failWith
	}
	return &stubChannel{name: name, events: make(chan realtime.Event, 1)}, nil
}

func (m *stubManager) RemoveChannel(name string) error {
	m.removed = append(m.removed, name)
	return nil
}

func (m *stubManager) Cleanup() error {
	m.cleanups++
	return nil
}

func (m *stubManager) Status() realtime.ManagerStatus {
	return realtime.ManagerStatus{Connected: m.connected, OpenChannels: m.open}
}

var _ = Describe("Factory", func() {
	var (
		now      time.Time
		guard    *realtime.Guard
		manager  *stubManager
		disabled bool
		factory  *realtime.Factory
		ctx      context.Context
	)

	advance := func(d time.Duration) {
		now = now.Add(d)
	}

	BeforeEach(func() {
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		guard = realtime.NewGuardWithClock(3, 300*time.Second, 30*time.Second, func() time.Time {
			return now
		})
		manager = &stubManager{connected: true}
		disabled = false
		factory = realtime.NewFactory(guard, manager, func() bool { return disabled }, slog.Default())
		ctx = context.Background()
	})

	Describe("CreateChannel", func() {
		It("should return a channel from the manager", func() {
			ch := factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{BufferSize: 4})
			Expect(ch).NotTo(BeNil())
			Expect(ch.Name()).To(Equal("recording:abc"))
			Expect(manager.createArgs).To(Equal([]string{"recording:abc"}))
		})

		It("should leave the guard clean after a successful create", func() {
			ch := factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			Expect(ch).NotTo(BeNil())

			status := factory.Status()
			Expect(status.FailureCount).To(BeZero())
			Expect(status.CircuitBreakerTripped).To(BeFalse())
		})

		It("should return nil for an empty channel name without touching the guard", func() {
			ch := factory.CreateChannel(ctx, "", realtime.ChannelConfig{})
			Expect(ch).To(BeNil())
			Expect(manager.createArgs).To(BeEmpty())
			Expect(factory.Status().FailureCount).To(BeZero())
		})

		It("should count a failure when the manager errors", func() {
			manager.failWith = errors.New("socket refused")

			ch := factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			Expect(ch).To(BeNil())
			Expect(factory.Status().FailureCount).To(Equal(1))
		})

		It("should count a failure when the manager panics", func() {
			manager.panicWith = "transport exploded"

			var ch realtime.Channel
			Expect(func() {
				ch = factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			}).NotTo(Panic())
			Expect(ch).To(BeNil())
			Expect(factory.Status().FailureCount).To(Equal(1))
		})

		It("should count a failure when no manager is wired", func() {
			bare := realtime.NewFactory(guard, nil, func() bool { return false }, slog.Default())

			ch := bare.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			Expect(ch).To(BeNil())
			Expect(bare.Status().FailureCount).To(Equal(1))
		})

		It("should stop consulting the manager once the breaker trips", func() {
			manager.failWith = errors.New("socket refused")

			for i := 0; i < 3; i++ {
				Expect(factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})).To(BeNil())
			}
			Expect(manager.createArgs).To(HaveLen(3))

			// The fourth attempt trips the breaker before reaching the manager.
			Expect(factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})).To(BeNil())
			Expect(manager.createArgs).To(HaveLen(3))
			Expect(factory.Status().CircuitBreakerTripped).To(BeTrue())
		})

		It("should recover after the cooldown", func() {
			manager.failWith = errors.New("socket refused")
			for i := 0; i < 4; i++ {
				factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			}
			Expect(factory.Status().CircuitBreakerTripped).To(BeTrue())

			manager.failWith = nil
			advance(300 * time.Second)

			ch := factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			Expect(ch).NotTo(BeNil())

			status := factory.Status()
			Expect(status.CircuitBreakerTripped).To(BeFalse())
			Expect(status.FailureCount).To(BeZero())
		})

		It("should interrupt a failure streak on success", func() {
			manager.failWith = errors.New("socket refused")
			factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})

			manager.failWith = nil
			Expect(factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})).NotTo(BeNil())

			manager.failWith = errors.New("socket refused")
			Expect(factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})).To(BeNil())

			status := factory.Status()
			Expect(status.FailureCount).To(Equal(1))
			Expect(status.CircuitBreakerTripped).To(BeFalse())
		})
	})

	Describe("Kill switch", func() {
		BeforeEach(func() {
			disabled = true
		})

		It("should return nil without consulting the manager", func() {
			ch := factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			Expect(ch).To(BeNil())
			Expect(manager.createArgs).To(BeEmpty())
		})

		It("should not touch the guard", func() {
			factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})

			status := factory.Status()
			Expect(status.FailureCount).To(BeZero())
			Expect(status.Disabled).To(BeTrue())
		})

		It("should take effect per call", func() {
			disabled = false
			Expect(factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})).NotTo(BeNil())

			disabled = true
			Expect(factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})).To(BeNil())
		})
	})

	Describe("RemoveChannel", func() {
		It("should forward to the manager", func() {
			factory.RemoveChannel("recording:abc")
			Expect(manager.removed).To(Equal([]string{"recording:abc"}))
		})

		It("should ignore empty names", func() {
			factory.RemoveChannel("")
			Expect(manager.removed).To(BeEmpty())
		})
	})

	Describe("Cleanup", func() {
		It("should forward to the manager", func() {
			factory.Cleanup()
			Expect(manager.cleanups).To(Equal(1))
		})

		It("should tolerate a missing manager", func() {
			bare := realtime.NewFactory(guard, nil, nil, slog.Default())
			Expect(func() { bare.Cleanup() }).NotTo(Panic())
		})
	})

	Describe("Status", func() {
		It("should include the manager status", func() {
			manager.open = 2

			status := factory.Status()
			Expect(status.Manager).NotTo(BeNil())
			Expect(status.Manager.Connected).To(BeTrue())
			Expect(status.Manager.OpenChannels).To(Equal(2))
		})

		It("should report a nil manager status when unwired", func() {
			bare := realtime.NewFactory(guard, nil, nil, slog.Default())
			Expect(bare.Status().Manager).To(BeNil())
		})

		It("should expose the tripped timestamp and countdown", func() {
			manager.failWith = errors.New("socket refused")
			for i := 0; i < 4; i++ {
				factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			}

			trippedAt := now
			advance(100 * time.Second)

			status := factory.Status()
			Expect(status.CircuitBreakerTripped).To(BeTrue())
			Expect(status.CircuitBreakerTrippedAt).NotTo(BeNil())
			Expect(*status.CircuitBreakerTrippedAt).To(Equal(trippedAt))
			Expect(status.TimeUntilResetMS).To(Equal(int64(200_000)))
		})

		It("should never trip the breaker itself", func() {
			manager.failWith = errors.New("socket refused")
			for i := 0; i < 3; i++ {
				factory.CreateChannel(ctx, "recording:abc", realtime.ChannelConfig{})
			}

			// Three failures are on the books but no evaluation has run.
			Expect(factory.Status().FailureCount).To(Equal(3))
			Expect(factory.Status().CircuitBreakerTripped).To(BeFalse())
			Expect(factory.Status().CircuitBreakerTripped).To(BeFalse())
		})
	})
})
