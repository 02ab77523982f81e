package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nugget/luminary/internal/buildinfo"
	"github.com/nugget/luminary/internal/jobs"
	"github.com/nugget/luminary/internal/memory"
	"github.com/nugget/luminary/internal/scheduler"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId,omitempty"`
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	s.errorResponse(w, http.StatusServiceUnavailable, what+" is not available")
}

// statusFor maps domain errors to HTTP codes; anything unrecognized is
// treated as a bad request.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, scheduler.ErrNotFound),
		errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, memory.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Loop == nil {
		s.unavailable(w, "agent")
		return
	}
	var req ChatRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	resp := s.deps.Loop.RunTurn(r.Context(), s.userID(r, req.UserID), req.Message)
	writeJSON(w, resp, s.logger)
}

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	RoutineID string         `json:"routineId,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	UserID    string         `json:"userId,omitempty"`
}

// handleJobCreate enqueues a job and returns 202 at once; the job runs
// in the background and is polled through GET /v1/jobs/{id}.
func (s *Server) handleJobCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		s.unavailable(w, "job runner")
		return
	}
	var req JobRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Runner.Enqueue(r.Context(), jobs.EnqueueInput{
		RoutineID:   req.RoutineID,
		ToolName:    req.ToolName,
		ToolInput:   req.ToolInput,
		TriggerType: jobs.TriggerManual,
		Input:       req.Input,
		UserID:      s.userID(r, req.UserID),
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSONStatus(w, http.StatusAccepted, job, s.logger)
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		s.unavailable(w, "job runner")
		return
	}
	q := r.URL.Query()
	f := jobs.JobFilter{
		Status:    jobs.Status(q.Get("status")),
		RoutineID: q.Get("routineId"),
		UserID:    q.Get("userId"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	list, err := s.deps.Runner.Store().ListJobs(r.Context(), f)
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, map[string]any{"jobs": list, "count": len(list)}, s.logger)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		s.unavailable(w, "job runner")
		return
	}
	id := r.PathValue("id")
	store := s.deps.Runner.Store()
	job, err := store.GetJob(r.Context(), id)
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	steps, err := store.Steps(r.Context(), id)
	if err != nil {
		s.logger.Error("load job steps failed", "job_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load job steps")
		return
	}
	writeJSON(w, map[string]any{"job": job, "steps": steps}, s.logger)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		s.unavailable(w, "job runner")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Runner.Cancel(r.Context(), id); err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"jobId": id, "status": jobs.StatusCanceled}, s.logger)
}

// ScheduleRequest is the body of POST /v1/schedules.
type ScheduleRequest struct {
	CronExpr  string         `json:"cronExpr"`
	RoutineID string         `json:"routineId,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
	Enabled   *bool          `json:"enabled,omitempty"`
	UserID    string         `json:"userId,omitempty"`
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.unavailable(w, "scheduler")
		return
	}
	var req ScheduleRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	sched, err := s.deps.Scheduler.CreateSchedule(r.Context(), scheduler.CreateInput{
		RoutineID: req.RoutineID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		CronExpr:  req.CronExpr,
		Enabled:   req.Enabled,
		UserID:    s.userID(r, req.UserID),
	})
	if err != nil && sched == nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("schedule stored but reconcile failed", "schedule_id", sched.ID, "error", err)
	}
	writeJSONStatus(w, http.StatusCreated, sched, s.logger)
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.unavailable(w, "scheduler")
		return
	}
	if err := s.deps.Scheduler.DeleteSchedule(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NoteRequest is the body of POST /v1/notes.
type NoteRequest struct {
	Kind        memory.Kind        `json:"kind"`
	Content     string             `json:"content"`
	Scope       string             `json:"scope,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Confidence  float64            `json:"confidence,omitempty"`
	Stability   memory.Stability   `json:"stability,omitempty"`
	TTLDays     int                `json:"ttlDays,omitempty"`
	Sensitivity memory.Sensitivity `json:"sensitivity,omitempty"`
	UserID      string             `json:"userId,omitempty"`
}

func (s *Server) handleNoteCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notes == nil {
		s.unavailable(w, "memory")
		return
	}
	var req NoteRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind.Identity() {
		s.errorResponse(w, http.StatusBadRequest, "identity notes are managed through PUT /v1/soul")
		return
	}

	note, err := s.deps.Notes.Write(r.Context(), memory.WriteInput{
		Kind:        req.Kind,
		Content:     req.Content,
		Scope:       req.Scope,
		UserID:      s.userID(r, req.UserID),
		Tags:        req.Tags,
		Confidence:  req.Confidence,
		Stability:   req.Stability,
		TTLDays:     req.TTLDays,
		Sensitivity: req.Sensitivity,
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, note, s.logger)
}

// handleNoteList answers GET /v1/notes. With q it runs a semantic search;
// otherwise it filters by kind, scope and tags.
func (s *Server) handleNoteList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notes == nil {
		s.unavailable(w, "memory")
		return
	}
	q := r.URL.Query()
	userID := s.userID(r, q.Get("userId"))
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	var (
		notes []*memory.Note
		err   error
	)
	if text := q.Get("q"); text != "" && s.deps.Notes.Semantic() {
		notes, err = s.deps.Notes.Search(r.Context(), userID, text, limit)
	} else {
		var tags []string
		if v := q.Get("tags"); v != "" {
			tags = strings.Split(v, ",")
		}
		notes, err = s.deps.Notes.Query(r.Context(), memory.Filter{
			UserID: userID,
			Kind:   memory.Kind(q.Get("kind")),
			Scope:  q.Get("scope"),
			Tags:   tags,
			Limit:  limit,
		})
	}
	if err != nil {
		s.logger.Error("list notes failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list notes")
		return
	}
	if notes == nil {
		notes = []*memory.Note{}
	}
	writeJSON(w, map[string]any{"notes": notes, "count": len(notes)}, s.logger)
}

// ContentRequest is the body of PUT /v1/notes/{id} and PUT /v1/soul.
type ContentRequest struct {
	Content string `json:"content"`
	UserID  string `json:"userId,omitempty"`
}

func (s *Server) handleNoteUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notes == nil {
		s.unavailable(w, "memory")
		return
	}
	var req ContentRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	note, err := s.deps.Notes.Correct(r.Context(), s.userID(r, req.UserID), r.PathValue("id"), req.Content)
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, note, s.logger)
}

func (s *Server) handleSoulUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notes == nil {
		s.unavailable(w, "memory")
		return
	}
	var req ContentRequest
	if err := decode(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	note, err := s.deps.Notes.UpdateSoul(r.Context(), s.userID(r, req.UserID), req.Content)
	if err != nil {
		s.errorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, note, s.logger)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maintenance == nil {
		s.unavailable(w, "maintenance")
		return
	}
	res, err := s.deps.Maintenance.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("maintenance pass failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, res, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}
	if s.deps.Scheduler != nil {
		body["scheduler"] = s.deps.Scheduler.Stats(r.Context())
	}
	writeJSON(w, body, s.logger)
}
