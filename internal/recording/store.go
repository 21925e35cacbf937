package recording

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/soundscribe/analytics-service/internal/analysis"
)

// timeLayout is a fixed-width RFC 3339 form so stored timestamps sort
// lexically in the same order they were written.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages recording persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the recording database and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type migration struct {
	version    string
	statements []string
}

var migrations = []migration{
	{
		version: "0001_create_recordings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS recordings (
                id TEXT PRIMARY KEY,
                title TEXT NOT NULL,
                agent_name TEXT NOT NULL DEFAULT '',
                call_type TEXT NOT NULL DEFAULT '',
                source TEXT NOT NULL,
                status TEXT NOT NULL,
                word_count INTEGER NOT NULL DEFAULT 0,
                transcript TEXT NOT NULL DEFAULT '',
                summary_json TEXT,
                error_message TEXT NOT NULL DEFAULT '',
                created_at TEXT NOT NULL,
                updated_at TEXT NOT NULL
            )`,
			`CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings (status)`,
			`CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings (created_at)`,
		},
	},
}

func (s *Store) applyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, migration := range migrations {
		var count int
		row := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", migration.version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		for _, statement := range migration.statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("apply migration %s: %w", migration.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", migration.version); err != nil {
			return fmt.Errorf("record migration %s: %w", migration.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// Create inserts a new recording in the uploaded state.
func (s *Store) Create(ctx context.Context, input NewRecording) (*Recording, error) {
	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(timeLayout)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO recordings (
            id, title, agent_name, call_type, source, status,
            word_count, transcript, error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, '', '', ?, ?)`,
		id,
		input.Title,
		input.AgentName,
		input.CallType,
		input.Source,
		StatusUploaded,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert recording: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a recording by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Status    Status
	AgentName string
	Limit     int
	Offset    int
}

// List returns recordings newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Recording, error) {
	query := `SELECT ` + recordingColumns + ` FROM recordings`

	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.AgentName != "" {
		clauses = append(clauses, "agent_name = ?")
		args = append(args, filter.AgentName)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	var recs []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ClaimNextUploaded atomically moves the oldest uploaded recording to
// transcribing and returns it. It returns nil when no work is pending.
func (s *Store) ClaimNextUploaded(ctx context.Context) (*Recording, error) {
	return s.claimNext(ctx, StatusUploaded, StatusTranscribing)
}

// ClaimNextTranscribed atomically moves the oldest transcribed
// recording to analyzing. Recordings parked at transcribed by a stuck
// reset resume here.
func (s *Store) ClaimNextTranscribed(ctx context.Context) (*Recording, error) {
	return s.claimNext(ctx, StatusTranscribed, StatusAnalyzing)
}

func (s *Store) claimNext(ctx context.Context, from, to Status) (*Recording, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var id string
	row := tx.QueryRowContext(
		ctx,
		`SELECT id FROM recordings WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		from,
	)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select claimable: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE recordings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC().Format(timeLayout),
		id,
		from,
	)
	if err != nil {
		return nil, fmt.Errorf("claim recording: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Another worker won the race.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.GetByID(ctx, id)
}

// UpdateStatus applies a lifecycle transition after validating it
// against the transition graph.
func (s *Store) UpdateStatus(ctx context.Context, id string, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("status %q: %w", to, ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE recordings SET status = ?, updated_at = ? WHERE id = ?`,
		to,
		time.Now().UTC().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

// SetTranscript stores the transcription result and advances the
// recording from transcribing to transcribed.
func (s *Store) SetTranscript(ctx context.Context, id, transcript string, wordCount int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if from != StatusTranscribing {
		return fmt.Errorf("%s -> %s: %w", from, StatusTranscribed, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE recordings
         SET status = ?, transcript = ?, word_count = ?, error_message = '', updated_at = ?
         WHERE id = ?`,
		StatusTranscribed,
		transcript,
		wordCount,
		time.Now().UTC().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("set transcript: %w", err)
	}
	return tx.Commit()
}

// SetSummary stores the analysis summary and advances the recording
// from analyzing to completed.
func (s *Store) SetSummary(ctx context.Context, id string, summary *analysis.Summary) error {
	if summary == nil {
		return fmt.Errorf("summary is nil")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if from != StatusAnalyzing {
		return fmt.Errorf("%s -> %s: %w", from, StatusCompleted, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE recordings
         SET status = ?, summary_json = ?, error_message = '', updated_at = ?
         WHERE id = ?`,
		StatusCompleted,
		string(payload),
		time.Now().UTC().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return tx.Commit()
}

// MarkFailed moves an in-flight recording to failed with an error
// message for the operator.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !from.IsProcessing() {
		return fmt.Errorf("%s -> %s: %w", from, StatusFailed, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE recordings SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StatusFailed,
		message,
		time.Now().UTC().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return tx.Commit()
}

// Reprocess returns a finished recording to uploaded and wipes every
// derived artifact so the pipeline rebuilds it from scratch.
func (s *Store) Reprocess(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if from != StatusCompleted && from != StatusFailed {
		return fmt.Errorf("%s -> %s: %w", from, StatusUploaded, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE recordings
         SET status = ?, transcript = '', summary_json = NULL, word_count = 0,
             error_message = '', updated_at = ?
         WHERE id = ?`,
		StatusUploaded,
		time.Now().UTC().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("reprocess recording: %w", err)
	}
	return tx.Commit()
}

// ResetStuck rolls recordings stuck in a processing state since before
// cutoff back to the start of their stage.
func (s *Store) ResetStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE recordings
         SET status = CASE status
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE status
         END,
             updated_at = ?
         WHERE status IN (?, ?) AND updated_at < ?`,
		StatusTranscribing, StatusUploaded,
		StatusAnalyzing, StatusTranscribed,
		time.Now().UTC().Format(timeLayout),
		StatusTranscribing,
		StatusAnalyzing,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck recordings: %w", err)
	}
	return res.RowsAffected()
}

// PurgeCompleted deletes completed recordings last touched before
// cutoff.
func (s *Store) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM recordings WHERE status = ? AND updated_at < ?`,
		StatusCompleted,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge completed: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns recording totals grouped by status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM recordings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("recording counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func currentStatus(ctx context.Context, tx *sql.Tx, id string) (Status, error) {
	var status Status
	err := tx.QueryRowContext(ctx, `SELECT status FROM recordings WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load status: %w", err)
	}
	return status, nil
}

const recordingColumns = "id, title, agent_name, call_type, source, status, word_count, transcript, summary_json, error_message, created_at, updated_at"

func scanRecording(scanner interface{ Scan(dest ...any) error }) (*Recording, error) {
	var (
		rec        Recording
		statusStr  string
		summaryRaw sql.NullString
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&rec.ID,
		&rec.Title,
		&rec.AgentName,
		&rec.CallType,
		&rec.Source,
		&statusStr,
		&rec.WordCount,
		&rec.Transcript,
		&summaryRaw,
		&rec.ErrorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	rec.Status = Status(statusStr)

	if summaryRaw.Valid && summaryRaw.String != "" {
		var summary analysis.Summary
		if err := json.Unmarshal([]byte(summaryRaw.String), &summary); err == nil {
			rec.Summary = &summary
		}
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return &rec, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
