package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/soundscribe/analytics-service/internal/realtime"
)

// topicPrefix namespaces every pub/sub topic this service owns.
const topicPrefix = "soundscribe:"

const defaultChannelBuffer = 16

// Manager implements realtime.Manager over Redis pub/sub. Each
// created channel holds its own subscription; creating the same name
// twice yields two independent channels.
type Manager struct {
	client *redis.Client
	logger *slog.Logger
	buffer int

	mutex    sync.Mutex
	channels map[string][]*channel
}

func NewManager(client *redis.Client, buffer int, logger *slog.Logger) *Manager {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &Manager{
		client:   client,
		logger:   logger,
		buffer:   buffer,
		channels: make(map[string][]*channel),
	}
}

func (m *Manager) CreateChannel(ctx context.Context, name string, cfg realtime.ChannelConfig) (realtime.Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name is empty")
	}

	topic := topicPrefix + name
	pubsub := m.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so a dead broker surfaces
	// here instead of silently dropping events later.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = m.buffer
	}

	ch := &channel{
		name:    name,
		manager: m,
		pubsub:  pubsub,
		events:  make(chan realtime.Event, buffer),
	}

	go ch.forward(m.logger)

	m.mutex.Lock()
	m.channels[name] = append(m.channels[name], ch)
	m.mutex.Unlock()

	m.logger.Debug("subscribed channel", slog.String("topic", topic))
	return ch, nil
}

// RemoveChannel closes every channel registered under name. Removing
// an unknown name is a no-op.
func (m *Manager) RemoveChannel(name string) error {
	m.mutex.Lock()
	chans := m.channels[name]
	delete(m.channels, name)
	m.mutex.Unlock()

	var firstErr error
	for _, ch := range chans {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Cleanup closes every channel the manager holds.
func (m *Manager) Cleanup() error {
	m.mutex.Lock()
	all := m.channels
	m.channels = make(map[string][]*channel)
	m.mutex.Unlock()

	var firstErr error
	for _, chans := range all {
		for _, ch := range chans {
			if err := ch.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) Status() realtime.ManagerStatus {
	m.mutex.Lock()
	open := 0
	for _, chans := range m.channels {
		open += len(chans)
	}
	m.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return realtime.ManagerStatus{
		Connected:    m.client.Ping(ctx).Err() == nil,
		OpenChannels: open,
	}
}

// Publish fans an event out to every subscriber of name. Missing IDs
// and timestamps are filled in before the event hits the wire.
func (m *Manager) Publish(ctx context.Context, name string, ev realtime.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := m.client.Publish(ctx, topicPrefix+name, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// forget drops ch from the registry once it closes itself.
func (m *Manager) forget(ch *channel) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	chans := m.channels[ch.name]
	for i, c := range chans {
		if c == ch {
			m.channels[ch.name] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(m.channels[ch.name]) == 0 {
		delete(m.channels, ch.name)
	}
}

type channel struct {
	name    string
	manager *Manager
	pubsub  *redis.PubSub
	events  chan realtime.Event
	once    sync.Once
}

func (c *channel) Name() string { return c.name }

func (c *channel) Events() <-chan realtime.Event { return c.events }

func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		c.manager.forget(c)
		err = c.pubsub.Close()
	})
	return err
}

// forward decodes wire payloads into events until the subscription
// closes. Slow consumers lose events rather than stalling the pump.
func (c *channel) forward(logger *slog.Logger) {
	for msg := range c.pubsub.Channel() {
		var ev realtime.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn("dropping malformed event",
				slog.String("channel", c.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case c.events <- ev:
		default:
		}
	}
	close(c.events)
}
