package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/soundscribe/analytics-service/internal/export"
	"github.com/soundscribe/analytics-service/internal/metrics"
	"github.com/soundscribe/analytics-service/internal/realtime"
	"github.com/soundscribe/analytics-service/internal/recording"
)

const (
	defaultUploadDir      = "uploads"
	defaultMaxUploadBytes = 100 << 20

	// heartbeatInterval keeps idle event streams from being reaped by
	// intermediaries.
	heartbeatInterval = 15 * time.Second

	retryAfterSeconds = "30"
)

// Publisher pushes an event to live subscribers of a named channel.
type Publisher interface {
	Publish(ctx context.Context, name string, ev realtime.Event) error
}

// Options carries the optional collaborators and knobs for a handler.
// Nil collaborators disable the matching integration.
type Options struct {
	Publisher      Publisher
	Reporter       *export.Reporter
	Collector      *metrics.Collector
	UploadDir      string
	ChannelBuffer  int
	MaxUploadBytes int64
}

type RecordingHandler struct {
	logger    *slog.Logger
	store     *recording.Store
	factory   *realtime.Factory
	publisher Publisher
	reporter  *export.Reporter
	collector *metrics.Collector

	uploadDir      string
	channelBuffer  int
	maxUploadBytes int64
}

func NewRecordingHandler(logger *slog.Logger, store *recording.Store, factory *realtime.Factory, opts Options) *RecordingHandler {
	uploadDir := opts.UploadDir
	if uploadDir == "" {
		uploadDir = defaultUploadDir
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	return &RecordingHandler{
		logger:         logger,
		store:          store,
		factory:        factory,
		publisher:      opts.Publisher,
		reporter:       opts.Reporter,
		collector:      opts.Collector,
		uploadDir:      uploadDir,
		channelBuffer:  opts.ChannelBuffer,
		maxUploadBytes: maxUpload,
	}
}

type createRequest struct {
	AudioURL  string `json:"audio_url"`
	Title     string `json:"title"`
	AgentName string `json:"agent_name"`
	CallType  string `json:"call_type"`
}

func (req createRequest) validate(withURL bool) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.AudioURL, validation.When(withURL, validation.Required, is.URL)),
		validation.Field(&req.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&req.AgentName, validation.Length(0, 100)),
		validation.Field(&req.CallType, validation.In("PNS", "C2C")),
	)
}

type listResponse struct {
	Recordings []*recording.Recording `json:"recordings"`
	Count      int                    `json:"count"`
}

// Create registers a call recording, either as a multipart file upload
// or as JSON pointing at a remote audio URL.
func (h *RecordingHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var (
		rec    *recording.Recording
		status int
		err    error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		rec, status, err = h.createFromUpload(r)
	} else {
		rec, status, err = h.createFromURL(r)
	}
	if err != nil {
		h.logger.Warn("Recording rejected",
			slog.Int("status", status),
			slog.String("error", err.Error()))
		writeError(w, status, err.Error())
		return
	}

	h.emit(metrics.MetricEvent{Type: metrics.EventRecordingUploaded, Timestamp: time.Now()})
	h.publish(r.Context(), rec, realtime.EventRecordingCreated, "")

	h.logger.Info("Recording accepted",
		slog.String("id", rec.ID),
		slog.String("title", rec.Title),
		slog.String("source", rec.Source))

	writeJSON(w, http.StatusCreated, rec)
}

func (h *RecordingHandler) createFromURL(r *http.Request) (*recording.Recording, int, error) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", h.maxUploadBytes)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("malformed request body")
	}
	if err := req.validate(true); err != nil {
		return nil, http.StatusBadRequest, err
	}

	rec, err := h.store.Create(r.Context(), recording.NewRecording{
		Title:     req.Title,
		AgentName: req.AgentName,
		CallType:  req.CallType,
		Source:    req.AudioURL,
	})
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("storing recording failed")
	}
	return rec, 0, nil
}

func (h *RecordingHandler) createFromUpload(r *http.Request) (*recording.Recording, int, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUploadBytes)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("missing file part")
	}
	defer file.Close()

	req := createRequest{
		Title:     r.FormValue("title"),
		AgentName: r.FormValue("agent_name"),
		CallType:  r.FormValue("call_type"),
	}
	if req.Title == "" {
		req.Title = header.Filename
	}
	if err := req.validate(false); err != nil {
		return nil, http.StatusBadRequest, err
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("preparing upload dir: %w", err)
	}

	path := filepath.Join(h.uploadDir, uuid.NewString()+filepath.Ext(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("storing upload: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		return nil, http.StatusInternalServerError, fmt.Errorf("storing upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return nil, http.StatusInternalServerError, fmt.Errorf("storing upload: %w", err)
	}

	rec, err := h.store.Create(r.Context(), recording.NewRecording{
		Title:     req.Title,
		AgentName: req.AgentName,
		CallType:  req.CallType,
		Source:    path,
	})
	if err != nil {
		os.Remove(path)
		return nil, http.StatusInternalServerError, fmt.Errorf("storing recording failed")
	}
	return rec, 0, nil
}

// List returns recordings newest first, optionally filtered by status
// and agent.
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := recording.ListFilter{
		AgentName: query.Get("agent"),
		Limit:     100,
	}

	if raw := query.Get("status"); raw != "" {
		status := recording.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		filter.Status = status
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}
	if raw := query.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must not be negative")
			return
		}
		filter.Offset = n
	}

	recs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Listing recordings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "listing recordings failed")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Recordings: recs, Count: len(recs)})
}

func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, recording.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		h.logger.Error("Loading recording failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "loading recording failed")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Reprocess requeues a finished recording for another pipeline run.
func (h *RecordingHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.store.Reprocess(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, recording.ErrNotFound):
			writeError(w, http.StatusNotFound, "recording not found")
		case errors.Is(err, recording.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "recording is still processing")
		default:
			h.logger.Error("Reprocess failed",
				slog.String("id", id),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "reprocess failed")
		}
		return
	}

	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("Loading recording failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "loading recording failed")
		return
	}

	h.publish(r.Context(), rec, realtime.EventRecordingUpdated, "queued for reprocessing")
	h.logger.Info("Recording requeued", slog.String("id", id))

	writeJSON(w, http.StatusAccepted, rec)
}

// StreamEvents serves live pipeline updates for one recording as a
// server-sent event stream. When no live channel can be opened the
// client is told to fall back to polling and retry later.
func (h *RecordingHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, recording.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading recording failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	name := realtime.RecordingChannel(id)
	ch := h.factory.CreateChannel(r.Context(), name, realtime.ChannelConfig{BufferSize: h.channelBuffer})
	if ch == nil {
		h.emit(metrics.MetricEvent{
			Type:      metrics.EventChannelRejected,
			Timestamp: time.Now(),
			Reason:    h.rejectionReason(),
		})
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "live updates temporarily unavailable")
		return
	}
	defer ch.Close()

	h.emit(metrics.MetricEvent{Type: metrics.EventChannelCreated, Timestamp: time.Now()})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Tell the client the stream is live before any event arrives.
	fmt.Fprintf(w, ": connected %s\n\n", name)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-ch.Events():
			if !open {
				// The transport dropped underneath the subscriber.
				h.emit(metrics.MetricEvent{Type: metrics.EventChannelFailed, Timestamp: time.Now()})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("Dropping unencodable event", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

// rejectionReason classifies a refused channel for the metrics stream.
func (h *RecordingHandler) rejectionReason() string {
	status := h.factory.Status()
	switch {
	case status.Disabled:
		return metrics.ReasonKillSwitch
	case status.CircuitBreakerTripped:
		return metrics.ReasonBreaker
	default:
		return metrics.ReasonManager
	}
}

func (h *RecordingHandler) RealtimeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.factory.Status())
}

// Export streams the analytics workbook as a spreadsheet download.
func (h *RecordingHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		writeError(w, http.StatusServiceUnavailable, "report export is not configured")
		return
	}

	filename := "soundscribe-" + time.Now().Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.reporter.WriteReport(r.Context(), w); err != nil {
		// Headers are already on the wire; all we can do is log.
		h.logger.Error("Report export failed", slog.String("error", err.Error()))
	}
}

func (h *RecordingHandler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Counts(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LogRequests wraps next with per-request structured logging.
func (h *RecordingHandler) LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("Request completed",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

func (h *RecordingHandler) publish(ctx context.Context, rec *recording.Recording, typ realtime.EventType, message string) {
	if h.publisher == nil {
		return
	}

	ev := realtime.Event{
		Type:        typ,
		RecordingID: rec.ID,
		Status:      string(rec.Status),
		Message:     message,
	}
	if err := h.publisher.Publish(ctx, realtime.RecordingChannel(rec.ID), ev); err != nil {
		h.logger.Warn("Event publish failed",
			slog.String("recording_id", rec.ID),
			slog.String("error", err.Error()))
		return
	}

	h.emit(metrics.MetricEvent{Type: metrics.EventPublished, Timestamp: time.Now()})
}

func (h *RecordingHandler) emit(event metrics.MetricEvent) {
	if h.collector == nil {
		return
	}

	select {
	case h.collector.EventChannel() <- event:
	default:
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards so event streams keep working behind the logger.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
