package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/memory"
	"github.com/nugget/luminary/internal/planner"
	"github.com/nugget/luminary/internal/tools"
)

// Planner produces a plan for a routine.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) planner.Plan
}

// NoteWriter records job summaries.
type NoteWriter interface {
	Write(ctx context.Context, in memory.WriteInput) (*memory.Note, error)
}

// summaryTTLDays is how long a routine's completion summary lives
// before maintenance may consolidate it.
const summaryTTLDays = 7

// Runner executes jobs. Start runs a job on a supervised goroutine;
// Run executes it on the caller's goroutine.
type Runner struct {
	store    *Store
	registry *tools.Registry
	planner  Planner
	notes    NoteWriter
	bus      *events.Bus
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewRunner creates a Runner. notes and bus may be nil.
func NewRunner(store *Store, registry *tools.Registry, p Planner, notes NoteWriter, bus *events.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		registry: registry,
		planner:  p,
		notes:    notes,
		bus:      bus,
		logger:   logger.With("component", "jobs"),
	}
}

// Store returns the runner's store.
func (r *Runner) Store() *Store { return r.store }

// outcome is the terminal state a run computed.
type outcome struct {
	status Status
	result any
	err    string
}

func succeeded(result any) outcome { return outcome{status: StatusSucceeded, result: result} }

func failedf(format string, args ...any) outcome {
	return outcome{status: StatusFailed, err: fmt.Sprintf(format, args...)}
}

// StepResult is one entry of a routine job's result.
type StepResult struct {
	ToolName string         `json:"toolName"`
	Input    map[string]any `json:"input"`
	Output   any            `json:"output"`
	Error    string         `json:"error,omitempty"`
}

// Enqueue inserts a queued job and starts it in the background. The
// returned job is the queued snapshot; callers poll for the outcome.
func (r *Runner) Enqueue(ctx context.Context, in EnqueueInput) (*Job, error) {
	job, err := r.store.Enqueue(ctx, in)
	if err != nil {
		return nil, err
	}
	r.emit(job.ID, StatusQueued, "")
	r.Start(ctx, job.ID)
	return job, nil
}

// Start runs the job on its own goroutine, detached from ctx's
// cancellation. A panic is recovered and recorded on the job.
func (r *Runner) Start(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Run(ctx, id); err != nil {
			r.logger.Warn("job not run", "job_id", id, "error", err)
		}
	}()
}

// Wait blocks until every job started with Start has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run claims a queued job and executes it to a terminal status. It
// returns an error only when the job could not be claimed, for example
// because it was canceled first. Execution failures are recorded on the
// job, never returned.
func (r *Runner) Run(ctx context.Context, id string) error {
	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.MarkRunning(ctx, id); err != nil {
		return err
	}
	r.emit(id, StatusRunning, "")
	log := r.logger.With("job_id", id)
	log.Info("job started", "routine_id", job.RoutineID, "tool", job.ToolName, "trigger", job.TriggerType)

	out, ok := r.finish(ctx, id, r.execute(ctx, job), log)
	if !ok {
		return nil
	}
	r.emit(id, out.status, out.err)
	if out.status == StatusFailed {
		log.Warn("job failed", "error", out.err)
	} else {
		log.Info("job succeeded")
	}
	return nil
}

// finish writes the terminal status. When the outcome cannot be
// recorded, for example because the result does not encode, the job is
// failed with the recording error instead. ok is false only when
// neither write succeeded.
func (r *Runner) finish(ctx context.Context, id string, out outcome, log *slog.Logger) (outcome, bool) {
	err := r.store.Finish(ctx, id, out.status, out.result, out.err)
	if err == nil {
		return out, true
	}
	log.Error("failed to record job outcome", "status", out.status, "error", err)
	out = failedf("record outcome: %v", err)
	if err := r.store.Finish(ctx, id, out.status, nil, out.err); err != nil {
		log.Error("failed to record job failure", "error", err)
		return out, false
	}
	return out, true
}

func (r *Runner) execute(ctx context.Context, job *Job) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked",
				"job_id", job.ID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			out = failedf("job panicked: %v", p)
		}
	}()

	ctx = tools.WithJobID(tools.WithUserID(ctx, job.UserID), job.ID)
	switch {
	case job.ToolName != "":
		return r.runDirect(ctx, job)
	case job.RoutineID != "":
		return r.runRoutine(ctx, job)
	default:
		return succeeded(map[string]any{"message": "Job completed (no routine or tool)"})
	}
}

// runDirect executes a single tool call. Any error fails the job.
func (r *Runner) runDirect(ctx context.Context, job *Job) outcome {
	output, errMsg := r.runStep(ctx, job.ID, job.ToolName, job.ToolInput)
	if errMsg != "" {
		return failedf("%s", errMsg)
	}
	return succeeded(map[string]any{"channel": "direct", "output": output})
}

// runRoutine plans the routine and executes every step, tolerating
// individual step failures. The job fails only when no step produced
// output.
func (r *Runner) runRoutine(ctx context.Context, job *Job) outcome {
	routine, err := r.store.GetRoutine(ctx, job.RoutineID)
	if errors.Is(err, ErrNotFound) {
		return failedf("Routine %s not found", job.RoutineID)
	}
	if err != nil {
		return failedf("load routine: %v", err)
	}

	plan := r.planner.Plan(ctx, planner.Request{
		Name:  routine.Name,
		Goal:  routine.Goal,
		Tools: routine.Tools,
		Input: job.Input,
	})
	if !plan.Success {
		return failedf("Routine planning failed for %q: %s", routine.Name, plan.Reasoning)
	}

	results := make([]StepResult, 0, len(plan.Steps))
	var failures []string
	for _, step := range plan.Steps {
		output, errMsg := r.runStep(ctx, job.ID, step.ToolName, step.Input)
		results = append(results, StepResult{
			ToolName: step.ToolName,
			Input:    step.Input,
			Output:   output,
			Error:    errMsg,
		})
		switch {
		case errMsg != "":
			failures = append(failures, errMsg)
		case output == nil:
			failures = append(failures, "null output")
		}
	}

	if len(failures) == len(results) {
		return failedf("All steps failed: %s", strings.Join(failures, "; "))
	}

	r.writeSummary(ctx, job, routine, plan)
	return succeeded(map[string]any{"plan": plan, "steps": results})
}

// runStep records a StepRun around one tool execution and returns the
// output, or the error text when the tool failed.
func (r *Runner) runStep(ctx context.Context, jobID, name string, input map[string]any) (any, string) {
	step, err := r.store.StartStep(ctx, jobID, name, input)
	if err != nil {
		return nil, fmt.Sprintf("record step: %v", err)
	}

	res, err := r.registry.Execute(ctx, name, input)
	var errMsg string
	switch {
	case err != nil:
		errMsg = err.Error()
	case res.Failed():
		errMsg = fmt.Sprintf("Tool %q returned error: %s", name, res.Error)
	}
	var output any
	if errMsg == "" {
		if _, err := json.Marshal(res.Output); err != nil {
			errMsg = fmt.Sprintf("Tool %q returned unencodable output: %v", name, err)
		} else {
			output = res.Output
		}
	}
	r.bus.Emit(events.SourceJobs, events.KindToolCall, map[string]any{
		"job_id": jobID,
		"tool":   name,
		"ok":     errMsg == "",
	})
	if err := r.store.FinishStep(ctx, step.ID, output, res.ArtifactPath, errMsg); err != nil {
		r.logger.Error("failed to record step outcome", "job_id", jobID, "step_id", step.ID, "error", err)
	}
	return output, errMsg
}

func (r *Runner) writeSummary(ctx context.Context, job *Job, routine *Routine, plan planner.Plan) {
	if r.notes == nil {
		return
	}
	_, err := r.notes.Write(ctx, memory.WriteInput{
		Kind:      memory.KindSummary,
		Content:   fmt.Sprintf("Completed job for routine %q: %s", routine.Name, plan.Reasoning),
		UserID:    job.UserID,
		Stability: memory.Volatile,
		TTLDays:   summaryTTLDays,
		JobID:     job.ID,
	})
	if err != nil {
		r.logger.Warn("failed to write job summary", "job_id", job.ID, "error", err)
	}
}

// Cancel cancels a queued job.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	if err := r.store.Cancel(ctx, id); err != nil {
		return err
	}
	r.emit(id, StatusCanceled, "")
	return nil
}

func (r *Runner) emit(id string, status Status, errMsg string) {
	data := map[string]any{"job_id": id, "status": string(status)}
	if errMsg != "" {
		data["error"] = errMsg
	}
	r.bus.Emit(events.SourceJobs, events.KindJobStatus, data)
}

// ParseInput decodes a job input document. An empty string is an empty
// object.
func ParseInput(raw string) (map[string]any, error) {
	input := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return input, nil
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("invalid job input JSON: %w", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}
