package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soundscribe/analytics-service/internal/analysis"
	"github.com/soundscribe/analytics-service/internal/metrics"
	"github.com/soundscribe/analytics-service/internal/realtime"
	"github.com/soundscribe/analytics-service/internal/recording"
)

// Stage names reported in metric events.
const (
	StageTranscribe = "transcribe"
	StageAnalyze    = "analyze"
)

// Transcriber turns a recording source into transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, source, callType string) (string, error)
}

// Invoker calls a named hosted function.
type Invoker interface {
	Invoke(ctx context.Context, name string, payload, out any) error
}

// Publisher fans a live event out to channel subscribers.
type Publisher interface {
	Publish(ctx context.Context, name string, ev realtime.Event) error
}

// Options carries the optional collaborators and tuning knobs for a
// worker pool. Nil collaborators disable the matching integration.
type Options struct {
	Functions     Invoker
	Publisher     Publisher
	Collector     *metrics.Collector
	Workers       int
	ClaimInterval time.Duration
}

// WorkerPool drives recordings through the processing pipeline. Each
// worker claims pending work from the store, so any number of workers
// can run concurrently without double-processing.
type WorkerPool struct {
	logger      *slog.Logger
	store       *recording.Store
	transcriber Transcriber
	analyzer    *analysis.Analyzer
	functions   Invoker
	publisher   Publisher
	collector   *metrics.Collector

	workers       int
	claimInterval time.Duration
	wg            sync.WaitGroup
}

func NewWorkerPool(
	logger *slog.Logger,
	store *recording.Store,
	transcriber Transcriber,
	analyzer *analysis.Analyzer,
	opts Options,
) *WorkerPool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	claimInterval := opts.ClaimInterval
	if claimInterval <= 0 {
		claimInterval = 2 * time.Second
	}

	return &WorkerPool{
		logger:        logger,
		store:         store,
		transcriber:   transcriber,
		analyzer:      analyzer,
		functions:     opts.Functions,
		publisher:     opts.Publisher,
		collector:     opts.Collector,
		workers:       workers,
		claimInterval: claimInterval,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has observed context cancellation and
// finished its in-flight recording.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With(slog.Int("worker", id))
	log.Info("Pipeline worker started")
	defer log.Info("Pipeline worker stopped")

	ticker := time.NewTicker(p.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			p.drainQueue(ctx, log)
		}
	}
}

// drainQueue works through pending recordings until the store is
// empty. Half-finished recordings are resumed before new ones start.
func (p *WorkerPool) drainQueue(ctx context.Context, log *slog.Logger) {
	for ctx.Err() == nil {
		rec, err := p.store.ClaimNextTranscribed(ctx)
		if err != nil {
			log.Error("claim transcribed recording", slog.String("error", err.Error()))
			return
		}
		if rec != nil {
			p.runAnalysis(ctx, rec)
			continue
		}

		rec, err = p.store.ClaimNextUploaded(ctx)
		if err != nil {
			log.Error("claim uploaded recording", slog.String("error", err.Error()))
			return
		}
		if rec == nil {
			return
		}
		p.runTranscription(ctx, rec)
	}
}

func (p *WorkerPool) runTranscription(ctx context.Context, rec *recording.Recording) {
	log := p.logger.With(slog.String("recording_id", rec.ID))
	p.publishStatus(ctx, rec.ID, recording.StatusTranscribing, "")

	start := time.Now()
	transcript, err := p.transcriber.Transcribe(ctx, rec.Source, rec.CallType)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-transcription: leave the recording for the
			// stuck reset to requeue.
			log.Warn("transcription interrupted by shutdown")
			return
		}
		p.fail(ctx, rec.ID, "transcription failed: "+err.Error(), log)
		return
	}

	wordCount := len(strings.Fields(transcript))
	if err := p.store.SetTranscript(ctx, rec.ID, transcript, wordCount); err != nil {
		log.Error("store transcript", slog.String("error", err.Error()))
		return
	}

	p.emit(metrics.MetricEvent{
		Type:      metrics.EventStageCompleted,
		Timestamp: time.Now(),
		Stage:     StageTranscribe,
		Duration:  time.Since(start),
	})
	p.publishStatus(ctx, rec.ID, recording.StatusTranscribed, "")

	log.Info("Recording transcribed", slog.Int("word_count", wordCount))
}

func (p *WorkerPool) runAnalysis(ctx context.Context, rec *recording.Recording) {
	log := p.logger.With(slog.String("recording_id", rec.ID))
	p.publishStatus(ctx, rec.ID, recording.StatusAnalyzing, "")

	start := time.Now()
	summary := p.analyzer.Analyze(rec.Transcript)
	p.enrich(ctx, rec, &summary, log)

	if err := p.store.SetSummary(ctx, rec.ID, &summary); err != nil {
		log.Error("store summary", slog.String("error", err.Error()))
		return
	}

	p.emit(metrics.MetricEvent{
		Type:      metrics.EventStageCompleted,
		Timestamp: time.Now(),
		Stage:     StageAnalyze,
		Duration:  time.Since(start),
	})
	p.publishStatus(ctx, rec.ID, recording.StatusCompleted, "")

	log.Info("Recording completed")
}

type functionPayload struct {
	RecordingID string `json:"recording_id"`
	Title       string `json:"title"`
	AgentName   string `json:"agent_name,omitempty"`
	CallType    string `json:"call_type,omitempty"`
	Transcript  string `json:"transcript"`
}

// enrich overlays hosted-function results on the locally computed
// summary. Function failures leave the local baseline in place.
func (p *WorkerPool) enrich(ctx context.Context, rec *recording.Recording, summary *analysis.Summary, log *slog.Logger) {
	if p.functions == nil {
		return
	}

	payload := functionPayload{
		RecordingID: rec.ID,
		Title:       rec.Title,
		AgentName:   rec.AgentName,
		CallType:    rec.CallType,
		Transcript:  rec.Transcript,
	}

	var scorecard analysis.Scorecard
	if err := p.functions.Invoke(ctx, FunctionCoachingScorecard, payload, &scorecard); err != nil {
		log.Warn("Keeping local scorecard", slog.String("error", err.Error()))
	} else if len(scorecard.Criteria) > 0 {
		summary.Scorecard = scorecard
	}

	var evaluation json.RawMessage
	if err := p.functions.Invoke(ctx, FunctionBDREvaluation, payload, &evaluation); err != nil {
		log.Warn("Skipping bdr evaluation", slog.String("error", err.Error()))
	} else {
		summary.BDR = evaluation
	}
}

func (p *WorkerPool) fail(ctx context.Context, id, message string, log *slog.Logger) {
	log.Error("Recording failed", slog.String("error", message))

	if err := p.store.MarkFailed(ctx, id, message); err != nil {
		log.Error("mark recording failed", slog.String("error", err.Error()))
		return
	}

	p.emit(metrics.MetricEvent{
		Type:      metrics.EventRecordingFailed,
		Timestamp: time.Now(),
	})
	p.publishStatus(ctx, id, recording.StatusFailed, message)
}

func (p *WorkerPool) publishStatus(ctx context.Context, recordingID string, status recording.Status, message string) {
	if p.publisher == nil {
		return
	}

	eventType := realtime.EventRecordingUpdated
	if status == recording.StatusFailed {
		eventType = realtime.EventRecordingFailed
	}

	ev := realtime.Event{
		Type:        eventType,
		RecordingID: recordingID,
		Status:      string(status),
		Message:     message,
	}
	if err := p.publisher.Publish(ctx, realtime.RecordingChannel(recordingID), ev); err != nil {
		p.logger.Warn("publish recording event",
			slog.String("recording_id", recordingID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.emit(metrics.MetricEvent{
		Type:      metrics.EventPublished,
		Timestamp: time.Now(),
	})
}

func (p *WorkerPool) emit(event metrics.MetricEvent) {
	if p.collector == nil {
		return
	}

	select {
	case p.collector.EventChannel() <- event:
	default:
	}
}
