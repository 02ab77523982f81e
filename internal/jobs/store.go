package jobs

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

// DefaultUserID owns jobs enqueued without a user.
const DefaultUserID = "user_default"

// Store persists routines, jobs and step runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeJSON(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeObject(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &m)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// EnqueueInput describes a job. At most one of RoutineID and ToolName
// may be set.
type EnqueueInput struct {
	RoutineID   string
	ToolName    string
	ToolInput   map[string]any
	TriggerType TriggerType
	Input       map[string]any
	UserID      string
}

const jobColumns = `id, routine_id, tool_name, tool_input, trigger_type, status, input, result, error,
	user_id, created_at, started_at, completed_at`

func scanJob(row scanner) (*Job, error) {
	var (
		j                                   Job
		routineID, toolName, result, errMsg sql.NullString
		startedAt, completedAt              sql.NullString
		toolInput, input, createdAt         string
	)
	if err := row.Scan(&j.ID, &routineID, &toolName, &toolInput, &j.TriggerType, &j.Status, &input,
		&result, &errMsg, &j.UserID, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.RoutineID = routineID.String
	j.ToolName = toolName.String
	if j.ToolName != "" {
		j.ToolInput = decodeObject(toolInput)
	}
	j.Input = decodeObject(input)
	if result.Valid && result.String != "" {
		_ = json.Unmarshal([]byte(result.String), &j.Result)
	}
	j.Error = errMsg.String
	j.CreatedAt, _ = database.ParseTime(createdAt)
	j.StartedAt = database.NullTime(startedAt)
	j.CompletedAt = database.NullTime(completedAt)
	return &j, nil
}

// Enqueue inserts a queued job. A routine job must reference an
// existing routine.
func (s *Store) Enqueue(ctx context.Context, in EnqueueInput) (*Job, error) {
	if in.RoutineID != "" && in.ToolName != "" {
		return nil, errors.New("a job runs either a routine or a tool, not both")
	}
	if in.RoutineID != "" {
		if _, err := s.GetRoutine(ctx, in.RoutineID); err != nil {
			return nil, err
		}
	}
	if in.UserID == "" {
		in.UserID = DefaultUserID
	}
	if in.TriggerType == "" {
		in.TriggerType = TriggerManual
	}
	if in.Input == nil {
		in.Input = map[string]any{}
	}

	j := &Job{
		ID:          database.NewID(),
		RoutineID:   in.RoutineID,
		ToolName:    in.ToolName,
		ToolInput:   in.ToolInput,
		TriggerType: in.TriggerType,
		Status:      StatusQueued,
		Input:       in.Input,
		UserID:      in.UserID,
		CreatedAt:   s.now().UTC(),
	}
	if j.ToolName != "" && j.ToolInput == nil {
		j.ToolInput = map[string]any{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, routine_id, tool_name, tool_input, trigger_type, status, input, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, database.NullString(j.RoutineID), database.NullString(j.ToolName), encodeJSON(j.ToolInput),
		j.TriggerType, j.Status, encodeJSON(j.Input), j.UserID, database.FormatTime(j.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	Status    Status
	RoutineID string
	UserID    string
	Limit     int // default 20
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.RoutineID != "" {
		where = append(where, "routine_id = ?")
		args = append(args, f.RoutineID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []*Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// transition moves job id from one status to another with a guarded
// UPDATE, so two racing callers can never both win. extra holds
// additional "column = ?" assignments and their values.
func (s *Store) transition(ctx context.Context, id string, from, to Status, extra map[string]any) error {
	if !CanTransition(from, to) {
		return &TransitionError{JobID: id, From: from, To: to}
	}

	sets := []string{"status = ?"}
	args := []any{to}
	for _, col := range []string{"started_at", "completed_at", "result", "error"} {
		if v, ok := extra[col]; ok {
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
	}
	args = append(args, id, from)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return &TransitionError{JobID: id, From: current, To: to}
}

// MarkRunning claims a queued job.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusQueued, StatusRunning, map[string]any{
		"started_at": database.FormatTime(s.now()),
	})
}

// Finish records the terminal outcome of a running job. status must be
// succeeded or failed.
func (s *Store) Finish(ctx context.Context, id string, status Status, result any, errMsg string) error {
	extra := map[string]any{
		"completed_at": database.FormatTime(s.now()),
		"error":        database.NullString(errMsg),
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		extra["result"] = string(b)
	}
	return s.transition(ctx, id, StatusRunning, status, extra)
}

// Cancel moves a queued job to canceled. Any other status is a
// *TransitionError.
func (s *Store) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusQueued, StatusCanceled, map[string]any{
		"completed_at": database.FormatTime(s.now()),
	})
}

// StartStep records the start of a tool invocation.
func (s *Store) StartStep(ctx context.Context, jobID, toolName string, input map[string]any) (*StepRun, error) {
	st := &StepRun{
		ID:        database.NewID(),
		JobID:     jobID,
		ToolName:  toolName,
		Input:     input,
		StartedAt: s.now().UTC(),
	}
	if st.Input == nil {
		st.Input = map[string]any{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_runs (id, job_id, tool_name, input, started_at) VALUES (?, ?, ?, ?, ?)`,
		st.ID, jobID, toolName, encodeJSON(st.Input), database.FormatTime(st.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert step run: %w", err)
	}
	return st, nil
}

// FinishStep records a step's output, or its error when errMsg is set.
// Output that cannot be encoded is recorded as a step error and the
// encoding error is returned.
func (s *Store) FinishStep(ctx context.Context, stepID string, output any, artifactPath, errMsg string) error {
	var (
		out       sql.NullString
		encodeErr error
	)
	if errMsg == "" {
		b, err := json.Marshal(output)
		if err != nil {
			encodeErr = fmt.Errorf("encode step output: %w", err)
			errMsg = encodeErr.Error()
		} else {
			out = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE step_runs SET output = ?, artifact_path = ?, error = ?, completed_at = ? WHERE id = ?`,
		out, database.NullString(artifactPath), database.NullString(errMsg),
		database.FormatTime(s.now()), stepID)
	if err != nil {
		return fmt.Errorf("update step run: %w", err)
	}
	return encodeErr
}

// Steps returns a job's step runs in execution order.
func (s *Store) Steps(ctx context.Context, jobID string) ([]*StepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, tool_name, input, output, error, artifact_path, started_at, completed_at
		FROM step_runs WHERE job_id = ? ORDER BY started_at, rowid`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()

	out := []*StepRun{}
	for rows.Next() {
		var (
			st                               StepRun
			input, startedAt                 string
			output, errMsg, artifact, doneAt sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.JobID, &st.ToolName, &input, &output, &errMsg, &artifact,
			&startedAt, &doneAt); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		st.Input = decodeObject(input)
		if output.Valid {
			_ = json.Unmarshal([]byte(output.String), &st.Output)
		}
		st.Error = errMsg.String
		st.ArtifactPath = artifact.String
		st.StartedAt, _ = database.ParseTime(startedAt)
		st.CompletedAt = database.NullTime(doneAt)
		out = append(out, &st)
	}
	return out, rows.Err()
}
