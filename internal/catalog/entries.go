package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"retrace/internal/logfile"
	"retrace/internal/recording"
)

// Entry describes one finished recording.
type Entry struct {
	ID            int64
	Dir           string
	SessionID     string
	ParticipantID string
	Capture       string
	StartedAt     time.Time
	EndedAt       time.Time
	Frames        uint64
	TransformRows int64
	UIRows        int64
	CustomRows    int64
	Keyframes     int
	CreatedAt     time.Time
}

// Duration is the wall-clock length of the session.
func (e Entry) Duration() time.Duration {
	if e.EndedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// FromSummary builds an entry from a finished writer session.
func FromSummary(s recording.Summary, capture string) Entry {
	return Entry{
		Dir:           s.Recording.Dir,
		SessionID:     s.Recording.SessionID,
		ParticipantID: s.Recording.ParticipantID,
		Capture:       capture,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		Frames:        s.Frames,
		TransformRows: s.TransformRows,
		UIRows:        s.UIRows,
		CustomRows:    s.CustomRows,
		Keyframes:     s.Keyframes,
	}
}

// FromManifest builds an entry from a recording folder's manifest.
func FromManifest(rec logfile.Recording, m logfile.Manifest) Entry {
	e := Entry{
		Dir:           rec.Dir,
		SessionID:     m.SessionID,
		ParticipantID: m.ParticipantID,
		Capture:       m.Capture,
		StartedAt:     m.StartedAt,
		Frames:        m.Frames,
		TransformRows: m.TransformRows,
		UIRows:        m.UIRows,
		CustomRows:    m.CustomRows,
	}
	if m.EndedAt != nil {
		e.EndedAt = *m.EndedAt
	}
	if m.IFrameInterval > 0 {
		e.Keyframes = int(m.Frames / uint64(m.IFrameInterval))
	}
	return e
}

const entryColumns = "id, dir, session_id, participant_id, capture, started_at, ended_at, frames, transform_rows, ui_rows, custom_rows, keyframes, created_at"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		e          Entry
		startedRaw string
		endedRaw   sql.NullString
		createdRaw string
		frames     int64
	)
	if err := scanner.Scan(
		&e.ID,
		&e.Dir,
		&e.SessionID,
		&e.ParticipantID,
		&e.Capture,
		&startedRaw,
		&endedRaw,
		&frames,
		&e.TransformRows,
		&e.UIRows,
		&e.CustomRows,
		&e.Keyframes,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	e.Frames = uint64(frames)
	e.StartedAt = parseTime(startedRaw)
	if endedRaw.Valid {
		e.EndedAt = parseTime(endedRaw.String)
	}
	e.CreatedAt = parseTime(createdRaw)
	return &e, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// Add inserts e, or refreshes the entry already stored for the same
// folder, and returns the stored entry.
func (s *Store) Add(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Dir) == "" {
		return Entry{}, errors.New("catalog entry has no folder")
	}
	if e.Capture == "" {
		e.Capture = "local"
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO recordings (
            dir, session_id, participant_id, capture, started_at, ended_at,
            frames, transform_rows, ui_rows, custom_rows, keyframes, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(dir) DO UPDATE SET
            session_id = excluded.session_id,
            participant_id = excluded.participant_id,
            capture = excluded.capture,
            started_at = excluded.started_at,
            ended_at = excluded.ended_at,
            frames = excluded.frames,
            transform_rows = excluded.transform_rows,
            ui_rows = excluded.ui_rows,
            custom_rows = excluded.custom_rows,
            keyframes = excluded.keyframes`,
		e.Dir,
		e.SessionID,
		e.ParticipantID,
		e.Capture,
		formatTime(e.StartedAt),
		nullableTime(e.EndedAt),
		int64(e.Frames),
		e.TransformRows,
		e.UIRows,
		e.CustomRows,
		e.Keyframes,
		formatTime(time.Now()),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert recording: %w", err)
	}
	stored, err := s.FindByDir(ctx, e.Dir)
	if err != nil {
		return Entry{}, err
	}
	if stored == nil {
		return Entry{}, fmt.Errorf("recording %s vanished after insert", e.Dir)
	}
	return *stored, nil
}

// Get fetches an entry by id. A missing entry is (nil, nil).
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM recordings WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return e, nil
}

// FindByDir fetches the entry of a recording folder. A missing entry is
// (nil, nil).
func (s *Store) FindByDir(ctx context.Context, dir string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM recordings WHERE dir = ?`, dir)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recording: %w", err)
	}
	return e, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	SessionID     string
	ParticipantID string
	Limit         int
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.ParticipantID != "" {
		where = append(where, "participant_id = ?")
		args = append(args, f.ParticipantID)
	}
	query := `SELECT ` + entryColumns + ` FROM recordings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Remove deletes an entry. The recording folder is left alone.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove recording: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SyncResult counts what Sync did.
type SyncResult struct {
	Added      int
	Incomplete int
	Pruned     int
}

// Sync catalogues every completed recording under root and prunes entries
// whose folder no longer holds a recording. Recordings without a completed
// manifest are counted as incomplete and left out.
func (s *Store) Sync(ctx context.Context, root string) (SyncResult, error) {
	var result SyncResult
	recs, err := logfile.List(root)
	if err != nil {
		return result, fmt.Errorf("scan %s: %w", root, err)
	}
	present := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		present[rec.Dir] = true
		m, err := logfile.ReadManifest(rec.ManifestPath())
		if err != nil || !m.Complete() {
			result.Incomplete++
			continue
		}
		existing, err := s.FindByDir(ctx, rec.Dir)
		if err != nil {
			return result, err
		}
		if existing != nil {
			continue
		}
		if _, err := s.Add(ctx, FromManifest(rec, m)); err != nil {
			return result, err
		}
		result.Added++
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return result, err
	}
	prefix := abs + string(filepath.Separator)
	entries, err := s.List(ctx, Filter{})
	if err != nil {
		return result, err
	}
	for _, e := range entries {
		if present[e.Dir] || !strings.HasPrefix(e.Dir, prefix) {
			continue
		}
		if _, err := s.Remove(ctx, e.ID); err != nil {
			return result, err
		}
		result.Pruned++
	}
	return result, nil
}
