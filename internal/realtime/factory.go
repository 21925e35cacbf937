package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Factory wraps channel creation with the kill switch and the guard.
// Every failure mode degrades to a nil channel; callers never see an
// error from this type.
type Factory struct {
	guard    *Guard
	manager  Manager
	disabled func() bool
	logger   *slog.Logger
}

// ConnectionStatus is the introspection payload served to operators
// and the frontend. Manager is nil when no channel manager is wired.
type ConnectionStatus struct {
	FailureCount            int            `json:"failure_count"`
	Disabled                bool           `json:"disabled"`
	CircuitBreakerTripped   bool           `json:"circuit_breaker_tripped"`
	CircuitBreakerTrippedAt *time.Time     `json:"circuit_breaker_tripped_at,omitempty"`
	TimeUntilResetMS        int64          `json:"time_until_reset_ms"`
	Manager                 *ManagerStatus `json:"manager"`
}

func NewFactory(guard *Guard, manager Manager, disabled func() bool, logger *slog.Logger) *Factory {
	return &Factory{
		guard:    guard,
		manager:  manager,
		disabled: disabled,
		logger:   logger,
	}
}

// CreateChannel asks the manager for a live channel named name. It
// returns nil when the kill switch is on, the breaker is open, the
// manager is missing or fails, or the name is empty. Successful
// creation resets the guard.
func (f *Factory) CreateChannel(ctx context.Context, name string, cfg ChannelConfig) Channel {
	if name == "" {
		f.logger.Warn("refusing channel with empty name")
		return nil
	}

	if f.disabled != nil && f.disabled() {
		f.logger.Info("realtime disabled by kill switch", slog.String("channel", name))
		return nil
	}

	if f.guard.ShouldBlock() {
		f.logger.Warn("circuit breaker open, refusing channel",
			slog.String("channel", name),
		)
		return nil
	}

	if f.manager == nil {
		f.guard.RecordFailure()
		f.logger.Error("no channel manager configured", slog.String("channel", name))
		return nil
	}

	ch, err := f.create(ctx, name, cfg)
	if err != nil || ch == nil {
		f.guard.RecordFailure()
		if err == nil {
			err = fmt.Errorf("manager returned no channel")
		}
		f.logger.Error("channel creation failed",
			slog.String("channel", name),
			slog.String("error", err.Error()),
		)
		return nil
	}

	f.guard.RecordSuccess()
	f.logger.Debug("channel created", slog.String("channel", name))
	return ch
}

// create shields the factory from misbehaving manager implementations.
// A panic inside the manager is converted into an ordinary failure.
func (f *Factory) create(ctx context.Context, name string, cfg ChannelConfig) (ch Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = fmt.Errorf("channel manager panicked: %v", r)
		}
	}()
	return f.manager.CreateChannel(ctx, name, cfg)
}

// RemoveChannel tears down a named channel. Manager errors are logged
// and swallowed.
func (f *Factory) RemoveChannel(name string) {
	if f.manager == nil || name == "" {
		return
	}
	if err := f.manager.RemoveChannel(name); err != nil {
		f.logger.Warn("failed to remove channel",
			slog.String("channel", name),
			slog.String("error", err.Error()),
		)
	}
}

// Cleanup tears down every channel the manager holds.
func (f *Factory) Cleanup() {
	if f.manager == nil {
		return
	}
	if err := f.manager.Cleanup(); err != nil {
		f.logger.Warn("channel manager cleanup failed", slog.String("error", err.Error()))
	}
}

// Status reports guard and manager state without mutating either.
func (f *Factory) Status() ConnectionStatus {
	snap := f.guard.Snapshot()

	status := ConnectionStatus{
		FailureCount:          snap.FailureCount,
		Disabled:              f.disabled != nil && f.disabled(),
		CircuitBreakerTripped: snap.State == StateOpen,
		TimeUntilResetMS:      snap.TimeUntilReset.Milliseconds(),
	}

	if !snap.TrippedAt.IsZero() {
		trippedAt := snap.TrippedAt
		status.CircuitBreakerTrippedAt = &trippedAt
	}

	if f.manager != nil {
		ms := f.manager.Status()
		status.Manager = &ms
	}

	return status
}
