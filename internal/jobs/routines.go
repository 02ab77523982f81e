package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/luminary/internal/database"
)

// RoutineInput creates a routine.
type RoutineInput struct {
	Name        string
	Goal        string
	TriggerType TriggerType
	Tools       []string
	Enabled     *bool // nil means enabled
}

// RoutineUpdate changes the non-nil fields of a routine.
type RoutineUpdate struct {
	Name        *string
	Goal        *string
	TriggerType *TriggerType
	Tools       *[]string
	Enabled     *bool
}

const routineColumns = `id, name, goal, trigger_type, tools, enabled, created_at, updated_at`

func scanRoutine(row scanner) (*Routine, error) {
	var (
		r                           Routine
		tools, createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Goal, &r.TriggerType, &tools, &r.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tools), &r.Tools); err != nil || r.Tools == nil {
		r.Tools = []string{}
	}
	r.CreatedAt, _ = database.ParseTime(createdAt)
	r.UpdatedAt, _ = database.ParseTime(updatedAt)
	return &r, nil
}

func validateRoutine(name, goal string, trigger TriggerType) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("routine name is required")
	}
	if strings.TrimSpace(goal) == "" {
		return errors.New("routine goal is required")
	}
	if !trigger.Valid() {
		return fmt.Errorf("invalid trigger type %q", trigger)
	}
	return nil
}

// CreateRoutine inserts a routine.
func (s *Store) CreateRoutine(ctx context.Context, in RoutineInput) (*Routine, error) {
	if in.TriggerType == "" {
		in.TriggerType = TriggerManual
	}
	if err := validateRoutine(in.Name, in.Goal, in.TriggerType); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	r := &Routine{
		ID:          database.NewID(),
		Name:        strings.TrimSpace(in.Name),
		Goal:        strings.TrimSpace(in.Goal),
		TriggerType: in.TriggerType,
		Tools:       in.Tools,
		Enabled:     in.Enabled == nil || *in.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if r.Tools == nil {
		r.Tools = []string{}
	}
	tools, _ := json.Marshal(r.Tools)
	_, err := s.db.ExecContext(ctx, `INSERT INTO routines (`+routineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Goal, r.TriggerType, string(tools), r.Enabled,
		database.FormatTime(now), database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert routine: %w", err)
	}
	return r, nil
}

// GetRoutine returns a routine by id.
func (s *Store) GetRoutine(ctx context.Context, id string) (*Routine, error) {
	r, err := scanRoutine(s.db.QueryRowContext(ctx, `SELECT `+routineColumns+` FROM routines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("routine %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get routine: %w", err)
	}
	return r, nil
}

// ListRoutines returns routines newest first.
func (s *Store) ListRoutines(ctx context.Context, enabledOnly bool) ([]*Routine, error) {
	q := `SELECT ` + routineColumns + ` FROM routines`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}
	defer rows.Close()

	out := []*Routine{}
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRoutine applies upd and returns the updated routine.
func (s *Store) UpdateRoutine(ctx context.Context, id string, upd RoutineUpdate) (*Routine, error) {
	r, err := s.GetRoutine(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		r.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Goal != nil {
		r.Goal = strings.TrimSpace(*upd.Goal)
	}
	if upd.TriggerType != nil {
		r.TriggerType = *upd.TriggerType
	}
	if upd.Tools != nil {
		r.Tools = *upd.Tools
		if r.Tools == nil {
			r.Tools = []string{}
		}
	}
	if upd.Enabled != nil {
		r.Enabled = *upd.Enabled
	}
	if err := validateRoutine(r.Name, r.Goal, r.TriggerType); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.now().UTC()

	tools, _ := json.Marshal(r.Tools)
	_, err = s.db.ExecContext(ctx, `
		UPDATE routines SET name = ?, goal = ?, trigger_type = ?, tools = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.Goal, r.TriggerType, string(tools), r.Enabled, database.FormatTime(r.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update routine: %w", err)
	}
	return r, nil
}

// DeleteResult counts what a routine deletion touched.
type DeleteResult struct {
	CanceledJobs     int `json:"canceledJobs"`
	DeletedSchedules int `json:"deletedSchedules"`
}

// DeleteRoutine removes a routine in one transaction: its queued jobs
// are canceled, its schedules deleted, then the routine itself.
// Finished and running jobs are left untouched.
func (s *Store) DeleteRoutine(ctx context.Context, id string) (*DeleteResult, error) {
	var res DeleteResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := database.FormatTime(s.now())
		r, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error = ?, completed_at = ?
			WHERE routine_id = ? AND status = ?`,
			StatusCanceled, "Routine deleted", now, id, StatusQueued)
		if err != nil {
			return fmt.Errorf("cancel queued jobs: %w", err)
		}
		n, _ := r.RowsAffected()
		res.CanceledJobs = int(n)

		r, err = tx.ExecContext(ctx, `DELETE FROM schedules WHERE routine_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete schedules: %w", err)
		}
		n, _ = r.RowsAffected()
		res.DeletedSchedules = int(n)

		r, err = tx.ExecContext(ctx, `DELETE FROM routines WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete routine: %w", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return fmt.Errorf("routine %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
