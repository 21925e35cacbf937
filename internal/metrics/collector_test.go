package metrics_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/soundscribe/analytics-service/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Suppress logs in tests
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
		time.Sleep(10 * time.Millisecond) // Allow goroutine to finish
	})

	Describe("NewCollector", func() {
		It("should create a collector with specified buffer size", func() {
			c := metrics.NewCollector(500, log)
			Expect(c).NotTo(BeNil())
		})
	})

	Describe("EventChannel", func() {
		It("should return a write-only channel", func() {
			ch := collector.EventChannel()
			Expect(ch).NotTo(BeNil())
		})
	})

	Describe("Start and event processing", func() {
		It("should process EventRecordingUploaded", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:      metrics.EventRecordingUploaded,
				Timestamp: time.Now(),
			}

			Eventually(func() int64 {
				return collector.Snapshot().RecordingsUploaded
			}).Should(Equal(int64(1)))
		})

		It("should process EventStageCompleted", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:      metrics.EventStageCompleted,
				Timestamp: time.Now(),
				Stage:     "transcribe",
				Duration:  100 * time.Millisecond,
			}

			Eventually(func() time.Duration {
				return collector.Snapshot().Stages["transcribe"].AvgDuration
			}).Should(Equal(100 * time.Millisecond))
		})

		It("should process EventRecordingFailed", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:      metrics.EventRecordingFailed,
				Timestamp: time.Now(),
			}

			Eventually(func() int64 {
				return collector.Snapshot().RecordingsFailed
			}).Should(Equal(int64(1)))
		})

		It("should process channel lifecycle events", func() {
			collector.Start(ctx)

			events := []metrics.MetricEvent{
				{Type: metrics.EventChannelCreated, Timestamp: time.Now()},
				{Type: metrics.EventChannelRejected, Timestamp: time.Now(), Reason: metrics.ReasonKillSwitch},
				{Type: metrics.EventChannelFailed, Timestamp: time.Now()},
				{Type: metrics.EventPublished, Timestamp: time.Now()},
			}

			for _, event := range events {
				collector.EventChannel() <- event
			}

			Eventually(func() metrics.ChannelMetrics {
				return collector.Snapshot().Channels
			}).Should(SatisfyAll(
				HaveField("Created", int64(1)),
				HaveField("Failed", int64(1)),
			))
			Expect(collector.Snapshot().Channels.Rejected[metrics.ReasonKillSwitch]).To(Equal(int64(1)))
			Expect(collector.Snapshot().EventsPublished).To(Equal(int64(1)))
		})

		It("should drain events on context cancellation", func() {
			collector.Start(ctx)

			// Send events before cancellation
			for i := 0; i < 5; i++ {
				collector.EventChannel() <- metrics.MetricEvent{
					Type:      metrics.EventRecordingUploaded,
					Timestamp: time.Now(),
				}
			}

			cancel()

			Eventually(func() int64 {
				return collector.Snapshot().RecordingsUploaded
			}).Should(Equal(int64(5)))
		})
	})

	Describe("Handler", func() {
		It("should serve the snapshot as JSON", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:      metrics.EventRecordingUploaded,
				Timestamp: time.Now(),
			}
			Eventually(func() int64 {
				return collector.Snapshot().RecordingsUploaded
			}).Should(Equal(int64(1)))

			recorder := httptest.NewRecorder()
			request := httptest.NewRequest("GET", "/metrics", nil)
			collector.Handler()(recorder, request)

			Expect(recorder.Code).To(Equal(200))
			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(recorder.Body.String()).To(ContainSubstring(`"recordings_uploaded":1`))
		})
	})

	Describe("Snapshot", func() {
		It("should return current metrics snapshot", func() {
			collector.Start(ctx)

			collector.EventChannel() <- metrics.MetricEvent{
				Type:      metrics.EventRecordingUploaded,
				Timestamp: time.Now(),
			}

			Eventually(func() int64 {
				return collector.Snapshot().RecordingsUploaded
			}).Should(Equal(int64(1)))
		})
	})
})
