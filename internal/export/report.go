package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/soundscribe/analytics-service/internal/analysis"
	"github.com/soundscribe/analytics-service/internal/recording"
)

const (
	sheetRecordings = "Recordings"
	sheetSummary    = "Summary"
)

var recordingHeaders = []string{
	"ID", "Title", "Agent", "Call Type", "Status", "Words",
	"Sentiment", "Volatility", "Trend", "Score", "Top Topic",
	"Best Framework", "Error", "Created",
}

// Reporter renders stored recordings into xlsx analytics workbooks.
type Reporter struct {
	store  *recording.Store
	logger *slog.Logger
}

func NewReporter(store *recording.Store, logger *slog.Logger) *Reporter {
	return &Reporter{store: store, logger: logger}
}

// WriteReport writes a workbook with a Recordings sheet (one row per
// recording, newest first) and a Summary sheet with per-status counts
// and aggregate scores.
func (r *Reporter) WriteReport(ctx context.Context, w io.Writer) error {
	recs, err := r.store.List(ctx, recording.ListFilter{})
	if err != nil {
		return fmt.Errorf("list recordings: %w", err)
	}
	counts, err := r.store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("recording counts: %w", err)
	}

	book := excelize.NewFile()
	defer book.Close()

	if err := book.SetSheetName("Sheet1", sheetRecordings); err != nil {
		return fmt.Errorf("name recordings sheet: %w", err)
	}
	if err := writeRow(book, sheetRecordings, 1, headerCells()); err != nil {
		return err
	}
	for i, rec := range recs {
		if err := writeRow(book, sheetRecordings, i+2, recordingCells(rec)); err != nil {
			return err
		}
	}

	if err := r.writeSummary(book, recs, counts); err != nil {
		return err
	}

	if err := book.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	r.logger.Info("Analytics report exported", slog.Int("recordings", len(recs)))
	return nil
}

func (r *Reporter) writeSummary(book *excelize.File, recs []*recording.Recording, counts map[recording.Status]int) error {
	if _, err := book.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	rows := [][]any{
		{"Generated", time.Now().UTC().Format("2006-01-02 15:04:05")},
		{"Total Recordings", len(recs)},
	}

	statuses := []recording.Status{
		recording.StatusUploaded,
		recording.StatusTranscribing,
		recording.StatusTranscribed,
		recording.StatusAnalyzing,
		recording.StatusCompleted,
		recording.StatusFailed,
	}
	titler := cases.Title(language.Und)
	for _, status := range statuses {
		rows = append(rows, []any{titler.String(string(status)), counts[status]})
	}

	var scoreSum, sentimentSum float64
	var scored int
	for _, rec := range recs {
		if rec.Summary == nil {
			continue
		}
		scoreSum += rec.Summary.Scorecard.Overall
		sentimentSum += rec.Summary.Sentiment.Mean
		scored++
	}
	if scored > 0 {
		rows = append(rows,
			[]any{"Average Score", round1(scoreSum / float64(scored))},
			[]any{"Average Sentiment", round1(sentimentSum / float64(scored))},
		)
	}

	for i, row := range rows {
		if err := writeRow(book, sheetSummary, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func headerCells() []any {
	cells := make([]any, len(recordingHeaders))
	for i, h := range recordingHeaders {
		cells[i] = h
	}
	return cells
}

func recordingCells(rec *recording.Recording) []any {
	cells := []any{
		rec.ID,
		rec.Title,
		rec.AgentName,
		rec.CallType,
		string(rec.Status),
		rec.WordCount,
	}

	if rec.Summary != nil {
		titler := cases.Title(language.Und)
		cells = append(cells,
			rec.Summary.Sentiment.Label,
			rec.Summary.Sentiment.Volatility,
			rec.Summary.Sentiment.Trend,
			rec.Summary.Scorecard.Overall,
			titler.String(topTopic(rec.Summary)),
			bestFramework(rec.Summary),
		)
	} else {
		cells = append(cells, "", "", "", "", "", "")
	}

	cells = append(cells,
		rec.ErrorMessage,
		rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	)
	return cells
}

func topTopic(summary *analysis.Summary) string {
	if len(summary.Topics) == 0 {
		return ""
	}
	return summary.Topics[0].Topic
}

func bestFramework(summary *analysis.Summary) string {
	best := ""
	coverage := 0.0
	for _, fr := range summary.Frameworks {
		if fr.Coverage > coverage {
			best = fr.Framework
			coverage = fr.Coverage
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("%s (%.0f%%)", best, coverage*100)
}

func writeRow(book *excelize.File, sheet string, row int, cells []any) error {
	for i, value := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("cell coordinates: %w", err)
		}
		if err := book.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
