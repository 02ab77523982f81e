package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/database"
)

// Kind classifies a note.
type Kind string

const (
	KindLog     Kind = "log"
	KindSummary Kind = "summary"
	KindRule    Kind = "rule"
	KindSoul    Kind = "soul"
	KindAgent   Kind = "agent"
	KindUser    Kind = "user"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindLog, KindSummary, KindRule, KindSoul, KindAgent, KindUser:
		return true
	}
	return false
}

// Identity reports whether k is a per-user singleton kind.
func (k Kind) Identity() bool {
	return k == KindSoul || k == KindAgent || k == KindUser
}

// Stability controls whether maintenance may consolidate a note.
type Stability string

const (
	Volatile  Stability = "volatile"
	Stable    Stability = "stable"
	Permanent Stability = "permanent"
)

// Sensitivity marks notes that never enter a prompt.
type Sensitivity string

const (
	Normal    Sensitivity = "normal"
	Sensitive Sensitivity = "sensitive"
)

// Note is one unit of persisted memory.
type Note struct {
	ID           string      `json:"id"`
	Kind         Kind        `json:"kind"`
	Content      string      `json:"content"`
	Scope        string      `json:"scope"`
	UserID       string      `json:"userId,omitempty"`
	Tags         []string    `json:"tags"`
	Confidence   float64     `json:"confidence"`
	Stability    Stability   `json:"stability"`
	TTLDays      int         `json:"ttlDays,omitempty"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
	Sensitivity  Sensitivity `json:"sensitivity"`
	Evidence     []string    `json:"evidence"`
	JobID        string      `json:"jobId,omitempty"`
	SupersededBy string      `json:"supersededBy,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Live reports whether the note is neither superseded nor expired at t.
func (n *Note) Live(t time.Time) bool {
	if n.SupersededBy != "" {
		return false
	}
	return n.ExpiresAt == nil || n.ExpiresAt.After(t)
}

// WriteInput describes a new note. Zero values take the defaults: scope
// "user", confidence 1.0, stability stable, sensitivity normal.
type WriteInput struct {
	Kind        Kind
	Content     string
	Scope       string
	UserID      string
	Tags        []string
	Confidence  float64
	Stability   Stability
	TTLDays     int
	Sensitivity Sensitivity
	Evidence    []string
	JobID       string
}

func (in *WriteInput) normalize() error {
	if !in.Kind.Valid() {
		return fmt.Errorf("invalid note kind %q", in.Kind)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("note content is required")
	}
	if in.Scope == "" {
		in.Scope = "user"
	}
	if in.Confidence == 0 {
		in.Confidence = 1.0
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", in.Confidence)
	}
	switch in.Stability {
	case "":
		in.Stability = Stable
	case Volatile, Stable, Permanent:
	default:
		return fmt.Errorf("invalid stability %q", in.Stability)
	}
	switch in.Sensitivity {
	case "":
		in.Sensitivity = Normal
	case Normal, Sensitive:
	default:
		return fmt.Errorf("invalid sensitivity %q", in.Sensitivity)
	}
	if in.TTLDays < 0 {
		return fmt.Errorf("ttl_days must not be negative")
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Write inserts a note, computing expires_at from TTLDays, and indexes
// its embedding when a semantic index is configured. Embedding failures
// are logged and never fail the write.
func (s *Store) Write(ctx context.Context, in WriteInput) (*Note, error) {
	note, err := s.insertNote(ctx, s.db, in)
	if err != nil {
		return nil, err
	}
	s.indexNote(ctx, note)
	return note, nil
}

func (s *Store) insertNote(ctx context.Context, q execer, in WriteInput) (*Note, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	note := &Note{
		ID:          database.NewID(),
		Kind:        in.Kind,
		Content:     in.Content,
		Scope:       in.Scope,
		UserID:      in.UserID,
		Tags:        nonNil(in.Tags),
		Confidence:  in.Confidence,
		Stability:   in.Stability,
		TTLDays:     in.TTLDays,
		Sensitivity: in.Sensitivity,
		Evidence:    nonNil(in.Evidence),
		JobID:       in.JobID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.TTLDays > 0 {
		exp := now.AddDate(0, 0, in.TTLDays)
		note.ExpiresAt = &exp
	}

	tags, _ := json.Marshal(note.Tags)
	evidence, _ := json.Marshal(note.Evidence)
	var ttl sql.NullInt64
	if note.TTLDays > 0 {
		ttl = sql.NullInt64{Int64: int64(note.TTLDays), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_notes (id, kind, content, scope, user_id, tags, confidence, stability,
			ttl_days, expires_at, sensitivity, evidence, job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.Kind, note.Content, note.Scope, database.NullString(note.UserID),
		string(tags), note.Confidence, note.Stability, ttl,
		database.TimeOrNull(note.ExpiresAt), note.Sensitivity, string(evidence),
		database.NullString(note.JobID),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	return note, nil
}

const noteColumns = `id, kind, content, scope, user_id, tags, confidence, stability, ttl_days,
	expires_at, sensitivity, evidence, job_id, superseded_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*Note, error) {
	var (
		n                                    Note
		userID, expiresAt, jobID, supersedBy sql.NullString
		ttl                                  sql.NullInt64
		tags, evidence, createdAt, updatedAt string
	)
	if err := row.Scan(&n.ID, &n.Kind, &n.Content, &n.Scope, &userID, &tags, &n.Confidence,
		&n.Stability, &ttl, &expiresAt, &n.Sensitivity, &evidence, &jobID, &supersedBy,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.UserID = userID.String
	n.JobID = jobID.String
	n.SupersededBy = supersedBy.String
	n.TTLDays = int(ttl.Int64)
	n.ExpiresAt = database.NullTime(expiresAt)
	n.Tags = decodeStrings(tags)
	n.Evidence = decodeStrings(evidence)
	n.CreatedAt, _ = database.ParseTime(createdAt)
	n.UpdatedAt, _ = database.ParseTime(updatedAt)
	return &n, nil
}

func scanNotes(rows *sql.Rows) ([]*Note, error) {
	defer rows.Close()
	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Get returns a note by id, including superseded and expired notes.
func (s *Store) Get(ctx context.Context, id string) (*Note, error) {
	return getNote(ctx, s.db, id)
}

func getNote(ctx context.Context, q execer, id string) (*Note, error) {
	n, err := scanNote(q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM memory_notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// Filter selects notes in [Store.Query]. Empty fields match anything.
type Filter struct {
	UserID string
	Kind   Kind
	Scope  string
	// Tags matches notes carrying at least one of the listed tags.
	Tags  []string
	Limit int // default 50
}

// Query returns live notes, newest first. Expired and superseded notes
// are excluded in SQL; the tag filter is applied afterwards.
func (s *Store) Query(ctx context.Context, f Filter) ([]*Note, error) {
	conds := []string{"(expires_at IS NULL OR expires_at > ?)", "superseded_by IS NULL"}
	args := []any{database.FormatTime(s.now())}

	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, f.Scope)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM memory_notes WHERE `+strings.Join(conds, " AND ")+
			` ORDER BY created_at DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}

	if len(f.Tags) == 0 {
		return notes, nil
	}
	filtered := notes[:0]
	for _, n := range notes {
		if hasAnyTag(n.Tags, f.Tags) {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

// Supersede writes replacement and stamps superseded_by on every note
// in oldIDs, all in one transaction. The replacement is indexed after
// commit.
func (s *Store) Supersede(ctx context.Context, oldIDs []string, replacement WriteInput) (*Note, error) {
	if len(oldIDs) == 0 {
		return nil, fmt.Errorf("supersede: no notes given")
	}
	var note *Note
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		note, err = s.insertNote(ctx, tx, replacement)
		if err != nil {
			return err
		}
		now := database.FormatTime(s.now())
		for _, id := range oldIDs {
			res, err := tx.ExecContext(ctx,
				`UPDATE memory_notes SET superseded_by = ?, updated_at = ? WHERE id = ? AND superseded_by IS NULL`,
				note.ID, now, id)
			if err != nil {
				return fmt.Errorf("supersede %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("supersede %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.indexNote(ctx, note)
	return note, nil
}

// Prune hard-deletes notes past their expiry and their index entries,
// returning the number of notes removed.
func (s *Store) Prune(ctx context.Context) (int, error) {
	now := database.FormatTime(s.now())
	var removed int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_notes WHERE rowid IN (
				SELECT m.rowid FROM vec_note_map m JOIN memory_notes n ON n.id = m.note_id
				WHERE n.expires_at IS NOT NULL AND n.expires_at <= ?)`, now); err != nil {
			return fmt.Errorf("prune vectors: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_note_map WHERE note_id IN (
				SELECT id FROM memory_notes WHERE expires_at IS NOT NULL AND expires_at <= ?)`, now); err != nil {
			return fmt.Errorf("prune vector map: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM memory_notes WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
		if err != nil {
			return fmt.Errorf("prune notes: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("pruned expired notes", "count", removed)
	}
	return int(removed), nil
}

// VolatileBefore returns live volatile notes created before cutoff,
// oldest first, for consolidation.
func (s *Store) VolatileBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM memory_notes
		WHERE stability = 'volatile' AND superseded_by IS NULL AND created_at < ?
			AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		database.FormatTime(cutoff), database.FormatTime(s.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("query volatile notes: %w", err)
	}
	return scanNotes(rows)
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func decodeStrings(s string) []string {
	var out []string
	if s != "" {
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return []string{}
		}
	}
	return nonNil(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Correct replaces the content of note id on behalf of userID by
// superseding it with a copy carrying the new content. Identity notes
// and other users' notes are refused.
func (s *Store) Correct(ctx context.Context, userID, id, content string) (*Note, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UserID != "" && existing.UserID != userID {
		return nil, fmt.Errorf("cannot update another user's note: %w", ErrForbidden)
	}
	if existing.Kind.Identity() {
		return nil, fmt.Errorf("cannot update %s notes with update_memory; use update_soul: %w", existing.Kind, ErrForbidden)
	}
	if existing.SupersededBy != "" {
		return nil, fmt.Errorf("note %s was already superseded by %s", id, existing.SupersededBy)
	}
	return s.Supersede(ctx, []string{id}, WriteInput{
		Kind:        existing.Kind,
		Content:     content,
		Scope:       existing.Scope,
		UserID:      userID,
		Tags:        existing.Tags,
		Confidence:  existing.Confidence,
		Stability:   existing.Stability,
		TTLDays:     existing.TTLDays,
		Sensitivity: existing.Sensitivity,
		JobID:       existing.JobID,
	})
}
