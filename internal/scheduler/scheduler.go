package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/jobs"
)

// DefaultReconcileInterval is how often stored schedules are re-read.
const DefaultReconcileInterval = time.Minute

// Enqueuer starts jobs. *jobs.Runner satisfies it: Enqueue inserts the
// job and runs it in the background.
type Enqueuer interface {
	Enqueue(ctx context.Context, in jobs.EnqueueInput) (*jobs.Job, error)
}

// Options tune a Scheduler. Zero values take the defaults.
type Options struct {
	ReconcileInterval time.Duration
	MinInterval       int // minutes
}

// armed is one live timer and the expression it was armed for.
type armed struct {
	cronExpr string
	next     time.Time
	timer    *time.Timer
}

// Scheduler keeps one timer armed per enabled schedule.
type Scheduler struct {
	logger *slog.Logger
	store  *Store
	jobs   Enqueuer
	bus    *events.Bus
	opts   Options
	now    func() time.Time

	mu      sync.Mutex
	timers  map[string]*armed // schedule id -> timer
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler. bus may be nil.
func New(logger *slog.Logger, store *Store, enqueuer Enqueuer, bus *events.Bus, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		store:  store,
		jobs:   enqueuer,
		bus:    bus,
		opts:   opts,
		now:    time.Now,
		timers: make(map[string]*armed),
	}
}

// Store returns the scheduler's store.
func (s *Scheduler) Store() *Store { return s.store }

// Start reconciles once and then keeps reconciling every interval
// until Stop is called or ctx is done. A stopped scheduler may be
// started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	if err := s.Reconcile(ctx); err != nil {
		s.Stop()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reconcile(ctx); err != nil {
					s.logger.Error("reconcile failed", "error", err)
				}
			}
		}
	}()

	s.logger.Info("scheduler started", "armed", s.ArmedCount(), "interval", s.opts.ReconcileInterval)
	return nil
}

// Stop disarms every timer and waits for in-flight fires to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
	wasRunning := s.running
	s.running = false
	if wasRunning {
		close(s.stopCh)
	}
	s.mu.Unlock()

	s.wg.Wait()
	if wasRunning {
		s.logger.Info("scheduler stopped")
	}
}

// Reconcile diffs the enabled schedules against the armed timers.
// Timers for removed or disabled schedules are stopped, timers whose
// expression changed are re-armed, and new valid schedules are armed.
// Running it twice with no schedule changes is a no-op.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	enabled, err := s.store.List(ctx, true)
	if err != nil {
		return err
	}

	want := make(map[string]*Schedule, len(enabled))
	for _, sched := range enabled {
		want[sched.ID] = sched
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.timers {
		sched, ok := want[id]
		if ok && sched.CronExpr == a.cronExpr {
			continue
		}
		a.timer.Stop()
		delete(s.timers, id)
		s.logger.Debug("schedule disarmed", "schedule_id", id, "cron", a.cronExpr)
	}

	for id, sched := range want {
		if _, ok := s.timers[id]; ok {
			continue
		}
		if err := ValidateCron(sched.CronExpr, s.opts.MinInterval); err != nil {
			s.logger.Warn("skipping invalid schedule", "schedule_id", id, "cron", sched.CronExpr, "error", err)
			continue
		}
		s.armLocked(id, sched.CronExpr)
	}
	return nil
}

// armLocked arms a timer for the next fire of expr. s.mu must be held.
func (s *Scheduler) armLocked(id, expr string) {
	now := s.now()
	next, err := NextFire(expr, now)
	if err != nil || next.IsZero() {
		s.logger.Warn("schedule has no future runs", "schedule_id", id, "cron", expr)
		return
	}

	a := &armed{cronExpr: expr, next: next}
	a.timer = time.AfterFunc(next.Sub(now), func() { s.onFire(id, a) })
	s.timers[id] = a

	s.logger.Debug("schedule armed", "schedule_id", id, "cron", expr, "next", next)
}

// onFire runs on the timer goroutine. A panic here would take down the
// process, so everything is recovered and logged.
func (s *Scheduler) onFire(id string, a *armed) {
	s.mu.Lock()
	if !s.running || s.timers[id] != a {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("schedule fire panicked",
				"schedule_id", id,
				"panic", p,
				"stack", string(debug.Stack()),
			)
		}
		s.mu.Lock()
		if s.running && s.timers[id] == a {
			s.armLocked(id, a.cronExpr)
		}
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Trigger(ctx, id); err != nil {
		s.logger.Error("scheduled trigger failed", "schedule_id", id, "error", err)
	}
}

// Trigger fires a schedule now: it stamps last_run_at and enqueues the
// job, which runs in the background. Disabled schedules are skipped.
func (s *Scheduler) Trigger(ctx context.Context, id string) (*jobs.Job, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sched.Enabled {
		return nil, fmt.Errorf("schedule %s is disabled", id)
	}
	if err := s.store.MarkRun(ctx, id, s.now()); err != nil {
		return nil, err
	}

	in := jobs.EnqueueInput{
		TriggerType: jobs.TriggerSchedule,
		UserID:      sched.UserID,
	}
	switch {
	case sched.ActionType == ActionToolCall && sched.ToolName != "":
		in.ToolName = sched.ToolName
		in.ToolInput = sched.ToolInput
	case sched.RoutineID != "":
		in.RoutineID = sched.RoutineID
	default:
		return nil, fmt.Errorf("schedule %s has neither a routine nor a tool", id)
	}

	job, err := s.jobs.Enqueue(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("enqueue scheduled job: %w", err)
	}

	s.logger.Info("schedule fired", "schedule_id", id, "job_id", job.ID, "action", sched.ActionType)
	s.bus.Emit(events.SourceScheduler, events.KindScheduleFired, map[string]any{
		"schedule_id": id,
		"job_id":      job.ID,
	})
	return job, nil
}

// CreateSchedule validates the cron expression, stores the schedule,
// and reconciles so it is armed immediately.
func (s *Scheduler) CreateSchedule(ctx context.Context, in CreateInput) (*Schedule, error) {
	if err := ValidateCron(in.CronExpr, s.opts.MinInterval); err != nil {
		return nil, err
	}
	sched, err := s.store.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule created", "schedule_id", sched.ID, "cron", sched.CronExpr, "action", sched.ActionType)
	return sched, s.Reconcile(ctx)
}

// UpdateSchedule validates a new cron expression, applies upd, and
// reconciles.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id string, upd Update) (*Schedule, error) {
	if upd.CronExpr != nil {
		if err := ValidateCron(*upd.CronExpr, s.opts.MinInterval); err != nil {
			return nil, err
		}
	}
	sched, err := s.store.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("schedule updated", "schedule_id", id)
	return sched, s.Reconcile(ctx)
}

// DeleteSchedule removes a schedule and disarms its timer.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("schedule deleted", "schedule_id", id)
	return s.Reconcile(ctx)
}

// ArmedCount returns the number of live timers.
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Armed returns the armed schedule ids mapped to their expressions.
func (s *Scheduler) Armed() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.timers))
	for id, a := range s.timers {
		out[id] = a.cronExpr
	}
	return out
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats(ctx context.Context) map[string]any {
	all, _ := s.store.List(ctx, false)
	enabled := 0
	for _, sched := range all {
		if sched.Enabled {
			enabled++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]string, 0, len(s.timers))
	for id, a := range s.timers {
		next = append(next, fmt.Sprintf("%s@%s", id, a.next.Format(time.RFC3339)))
	}
	sort.Strings(next)

	return map[string]any{
		"running":           s.running,
		"total_schedules":   len(all),
		"enabled_schedules": enabled,
		"armed_timers":      len(s.timers),
		"next_fires":        next,
	}
}
