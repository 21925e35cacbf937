package metrics

import (
	"sort"
	"sync"
	"time"
)

type Metrics struct {
	mutex            sync.RWMutex
	uploads          int64
	failures         int64
	stageCompletions map[string]int64
	stageDurations   map[string][]time.Duration
	channelsCreated  int64
	channelsRejected map[string]int64
	channelsFailed   int64
	eventsPublished  int64
	startTime        time.Time
}

type Snapshot struct {
	Uptime             time.Duration           `json:"uptime"`
	RecordingsUploaded int64                   `json:"recordings_uploaded"`
	RecordingsFailed   int64                   `json:"recordings_failed"`
	Stages             map[string]StageMetrics `json:"stages"`
	Channels           ChannelMetrics          `json:"channels"`
	EventsPublished    int64                   `json:"events_published"`
}

type StageMetrics struct {
	Completed   int64         `json:"completed"`
	AvgDuration time.Duration `json:"avg_duration"`
	P50Duration time.Duration `json:"p50_duration"`
	P95Duration time.Duration `json:"p95_duration"`
	P99Duration time.Duration `json:"p99_duration"`
}

type ChannelMetrics struct {
	Created  int64            `json:"created"`
	Rejected map[string]int64 `json:"rejected"`
	Failed   int64            `json:"failed"`
}

func (m *Metrics) IncrementUploads() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.uploads++
}

func (m *Metrics) IncrementFailures() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failures++
}

func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stageCompletions[stage]++
	m.stageDurations[stage] = append(m.stageDurations[stage], duration)

	if len(m.stageDurations[stage]) > 1000 {
		m.stageDurations[stage] = m.stageDurations[stage][1:]
	}
}

func (m *Metrics) IncrementChannelsCreated() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.channelsCreated++
}

func (m *Metrics) RecordChannelRejection(reason string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.channelsRejected[reason]++
}

func (m *Metrics) IncrementChannelsFailed() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.channelsFailed++
}

func (m *Metrics) IncrementEventsPublished() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.eventsPublished++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:             time.Since(m.startTime),
		RecordingsUploaded: m.uploads,
		RecordingsFailed:   m.failures,
		Stages:             make(map[string]StageMetrics),
		Channels: ChannelMetrics{
			Created:  m.channelsCreated,
			Rejected: make(map[string]int64),
			Failed:   m.channelsFailed,
		},
		EventsPublished: m.eventsPublished,
	}

	for reason, count := range m.channelsRejected {
		snap.Channels.Rejected[reason] = count
	}

	// Collect all stages that have either completions or timings
	allStages := make(map[string]bool)
	for stage := range m.stageCompletions {
		allStages[stage] = true
	}
	for stage := range m.stageDurations {
		allStages[stage] = true
	}

	for stage := range allStages {
		sm := StageMetrics{
			Completed: m.stageCompletions[stage],
		}

		durations := m.stageDurations[stage]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgDuration = average(sorted)
			sm.P50Duration = percentile(sorted, 0.50)
			sm.P95Duration = percentile(sorted, 0.95)
			sm.P99Duration = percentile(sorted, 0.99)
		}

		snap.Stages[stage] = sm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		stageCompletions: make(map[string]int64),
		stageDurations:   make(map[string][]time.Duration),
		channelsRejected: make(map[string]int64),
		startTime:        time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
