package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/soundscribe/analytics-service/internal/analysis"
	"github.com/soundscribe/analytics-service/internal/metrics"
	"github.com/soundscribe/analytics-service/internal/pipeline"
	"github.com/soundscribe/analytics-service/internal/realtime"
	"github.com/soundscribe/analytics-service/internal/recording"
)

type stubTranscriber struct {
	mutex      sync.Mutex
	transcript string
	err        error
	calls      int
}

func (s *stubTranscriber) Transcribe(context.Context, string, string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.transcript, nil
}

func (s *stubTranscriber) callCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls
}

type stubInvoker struct {
	mutex     sync.Mutex
	responses map[string]string
	err       error
}

func (s *stubInvoker) Invoke(_ context.Context, name string, _, out any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.err != nil {
		return s.err
	}
	raw, ok := s.responses[name]
	if !ok {
		return errors.New("unknown function " + name)
	}
	return json.Unmarshal([]byte(raw), out)
}

type stubPublisher struct {
	mutex  sync.Mutex
	events []realtime.Event
}

func (s *stubPublisher) Publish(_ context.Context, name string, ev realtime.Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *stubPublisher) statuses() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Status)
	}
	return out
}

var _ = Describe("WorkerPool", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		store     *recording.Store
		analyzer  *analysis.Analyzer
		collector *metrics.Collector
		publisher *stubPublisher
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)

		var err error
		store, err = recording.Open(filepath.Join(GinkgoT().TempDir(), "recordings.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(store.Close()).To(Succeed())
		})

		analyzer, err = analysis.NewAnalyzer(16, testLogger())
		Expect(err).NotTo(HaveOccurred())

		collector = metrics.NewCollector(100, testLogger())
		collector.Start(ctx)
		publisher = &stubPublisher{}
	})

	newPool := func(transcriber pipeline.Transcriber, functions pipeline.Invoker) *pipeline.WorkerPool {
		return pipeline.NewWorkerPool(testLogger(), store, transcriber, analyzer, pipeline.Options{
			Functions:     functions,
			Publisher:     publisher,
			Collector:     collector,
			Workers:       1,
			ClaimInterval: 5 * time.Millisecond,
		})
	}

	It("processes an uploaded recording end to end", func() {
		rec, err := store.Create(ctx, recording.NewRecording{
			Title:  "discovery call",
			Source: "https://cdn.example.com/call.mp3",
		})
		Expect(err).NotTo(HaveOccurred())

		transcriber := &stubTranscriber{transcript: "Do you have budget approved? We can schedule the demo next week. Thanks!"}
		pool := newPool(transcriber, nil)
		pool.Start(ctx)
		DeferCleanup(func() { cancel(); pool.Wait() })

		Eventually(func() recording.Status {
			current, err := store.GetByID(ctx, rec.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}).WithTimeout(2 * time.Second).Should(Equal(recording.StatusCompleted))

		completed, err := store.GetByID(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(completed.Transcript).To(ContainSubstring("budget approved"))
		Expect(completed.WordCount).To(Equal(13))
		Expect(completed.Summary).NotTo(BeNil())
		Expect(completed.Summary.Scorecard.Criteria).NotTo(BeEmpty())

		Eventually(publisher.statuses).Should(Equal([]string{
			"transcribing", "transcribed", "analyzing", "completed",
		}))

		// Stage events reach the collector in order, so analyze implies
		// transcribe has been counted.
		Eventually(func() int64 {
			return collector.Snapshot().Stages[pipeline.StageAnalyze].Completed
		}).Should(Equal(int64(1)))
		Expect(collector.Snapshot().Stages[pipeline.StageTranscribe].Completed).To(Equal(int64(1)))
	})

	It("marks the recording failed when transcription fails", func() {
		rec, err := store.Create(ctx, recording.NewRecording{
			Title:  "broken call",
			Source: "https://cdn.example.com/broken.mp3",
		})
		Expect(err).NotTo(HaveOccurred())

		pool := newPool(&stubTranscriber{err: errors.New("backend exploded")}, nil)
		pool.Start(ctx)
		DeferCleanup(func() { cancel(); pool.Wait() })

		Eventually(func() recording.Status {
			current, err := store.GetByID(ctx, rec.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}).WithTimeout(2 * time.Second).Should(Equal(recording.StatusFailed))

		failed, err := store.GetByID(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(failed.ErrorMessage).To(ContainSubstring("backend exploded"))

		Eventually(publisher.statuses).Should(ContainElement("failed"))
		Eventually(func() int64 {
			return collector.Snapshot().RecordingsFailed
		}).Should(Equal(int64(1)))
	})

	It("overrides the local scorecard and attaches the bdr evaluation", func() {
		rec, err := store.Create(ctx, recording.NewRecording{
			Title:  "qualified lead",
			Source: "https://cdn.example.com/lead.mp3",
		})
		Expect(err).NotTo(HaveOccurred())

		functions := &stubInvoker{responses: map[string]string{
			pipeline.FunctionCoachingScorecard: `{"overall":91.5,"criteria":[{"name":"discovery","score":95,"weight":0.3}]}`,
			pipeline.FunctionBDREvaluation:     `{"qualified":true,"score":82}`,
		}}

		pool := newPool(&stubTranscriber{transcript: "We definitely have budget for this."}, functions)
		pool.Start(ctx)
		DeferCleanup(func() { cancel(); pool.Wait() })

		Eventually(func() recording.Status {
			current, err := store.GetByID(ctx, rec.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}).WithTimeout(2 * time.Second).Should(Equal(recording.StatusCompleted))

		completed, err := store.GetByID(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(completed.Summary.Scorecard.Overall).To(Equal(91.5))
		Expect(completed.Summary.Scorecard.Criteria).To(HaveLen(1))
		Expect(string(completed.Summary.BDR)).To(MatchJSON(`{"qualified":true,"score":82}`))
	})

	It("keeps the local summary when function invocations fail", func() {
		rec, err := store.Create(ctx, recording.NewRecording{
			Title:  "offline functions",
			Source: "https://cdn.example.com/offline.mp3",
		})
		Expect(err).NotTo(HaveOccurred())

		pool := newPool(
			&stubTranscriber{transcript: "Is there budget for this? Yes. Great."},
			&stubInvoker{err: errors.New("functions unreachable")},
		)
		pool.Start(ctx)
		DeferCleanup(func() { cancel(); pool.Wait() })

		Eventually(func() recording.Status {
			current, err := store.GetByID(ctx, rec.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}).WithTimeout(2 * time.Second).Should(Equal(recording.StatusCompleted))

		completed, err := store.GetByID(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(completed.Summary.Scorecard.Criteria).To(HaveLen(4))
		Expect(completed.Summary.BDR).To(BeNil())
	})

	It("resumes recordings parked at transcribed without re-transcribing", func() {
		rec, err := store.Create(ctx, recording.NewRecording{
			Title:  "stuck reset leftover",
			Source: "https://cdn.example.com/parked.mp3",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.UpdateStatus(ctx, rec.ID, recording.StatusTranscribing)).To(Succeed())
		Expect(store.SetTranscript(ctx, rec.ID, "hello there", 2)).To(Succeed())

		transcriber := &stubTranscriber{err: errors.New("should not be called")}
		pool := newPool(transcriber, nil)
		pool.Start(ctx)
		DeferCleanup(func() { cancel(); pool.Wait() })

		Eventually(func() recording.Status {
			current, err := store.GetByID(ctx, rec.ID)
			if err != nil {
				return ""
			}
			return current.Status
		}).WithTimeout(2 * time.Second).Should(Equal(recording.StatusCompleted))

		Expect(transcriber.callCount()).To(BeZero())
	})

	It("stops all workers on context cancellation", func() {
		pool := pipeline.NewWorkerPool(testLogger(), store, &stubTranscriber{}, analyzer, pipeline.Options{
			Workers:       3,
			ClaimInterval: 5 * time.Millisecond,
		})
		pool.Start(ctx)

		cancel()

		done := make(chan struct{})
		go func() {
			pool.Wait()
			close(done)
		}()

		Eventually(done).Should(BeClosed())
	})
})
