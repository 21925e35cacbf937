package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRecordingUploaded EventType = "recording_uploaded"
	EventStageCompleted    EventType = "stage_completed"
	EventRecordingFailed   EventType = "recording_failed"
	EventChannelCreated    EventType = "channel_created"
	EventChannelRejected   EventType = "channel_rejected"
	EventChannelFailed     EventType = "channel_failed"
	EventPublished         EventType = "event_published"
)

// Rejection reasons recorded with EventChannelRejected.
const (
	ReasonKillSwitch = "kill_switch"
	ReasonBreaker    = "circuit_breaker"
	ReasonManager    = "manager_failure"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Stage     string
	Duration  time.Duration
	Reason    string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRecordingUploaded:
		c.metrics.IncrementUploads()

	case EventStageCompleted:
		c.metrics.RecordStage(event.Stage, event.Duration)

	case EventRecordingFailed:
		c.metrics.IncrementFailures()

	case EventChannelCreated:
		c.metrics.IncrementChannelsCreated()

	case EventChannelRejected:
		c.metrics.RecordChannelRejection(event.Reason)

	case EventChannelFailed:
		c.metrics.IncrementChannelsFailed()

	case EventPublished:
		c.metrics.IncrementEventsPublished()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
