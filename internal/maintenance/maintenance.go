// Package maintenance keeps the memory store small and useful. Each pass
// prunes expired notes, then consolidates old volatile notes into stable
// summaries, one user at a time.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/memory"
)

const (
	// maxCandidates bounds the volatile notes considered per pass.
	maxCandidates = 100
	// minUserNotes is how many old notes a user needs before any merge.
	minUserNotes = 3
	// minBatch leaves singleton batches alone.
	minBatch = 2

	synthesisMaxTokens = 1000
)

const synthesisPrompt = `You consolidate an assistant's memory. Merge the notes below into one concise summary that keeps every fact, decision and outcome worth remembering. Drop repetition and chatter. Reply with the summary text only.`

// Config controls the maintenance worker.
type Config struct {
	// Interval between passes after the startup pass. Default: 24 hours.
	Interval time.Duration
	// VolatileAge is how old a volatile note must be before it is merged.
	// Default: 7 days.
	VolatileAge time.Duration
	// BatchSize is the number of notes merged into one summary. Default: 5.
	BatchSize int
	// Timeout bounds each synthesis call. Default: 60 seconds.
	Timeout time.Duration
}

// DefaultConfig returns the standard maintenance settings.
func DefaultConfig() Config {
	return Config{
		Interval:    24 * time.Hour,
		VolatileAge: 7 * 24 * time.Hour,
		BatchSize:   5,
		Timeout:     60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.VolatileAge <= 0 {
		c.VolatileAge = d.VolatileAge
	}
	if c.BatchSize < minBatch {
		c.BatchSize = d.BatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

// Result reports what one pass did.
type Result struct {
	Pruned  int    `json:"pruned"`
	Merged  int    `json:"merged"`
	Message string `json:"message"`
}

// Worker runs maintenance passes on a fixed interval.
type Worker struct {
	notes  *memory.Store
	client llm.Client
	bus    *events.Bus
	logger *slog.Logger
	config Config
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a worker. client may be nil or unconfigured; batches are
// then merged by plain concatenation.
func New(notes *memory.Store, client llm.Client, bus *events.Bus, logger *slog.Logger, cfg Config) *Worker {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		notes:  notes,
		client: client,
		bus:    bus,
		logger: logger.With("component", "maintenance"),
		config: cfg,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start runs a pass immediately, then one per interval until Stop.
func (w *Worker) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(workerCtx)
}

// Stop cancels the worker and waits for its goroutine to exit.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("maintenance pass failed", "error", err)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("maintenance stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("maintenance pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one pass. A failed merge is logged and skipped; only
// a failure to prune or to list candidates aborts the pass.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	pruned, err := w.notes.Prune(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("prune: %w", err)
	}

	cutoff := w.now().Add(-w.config.VolatileAge)
	candidates, err := w.notes.VolatileBefore(ctx, cutoff, maxCandidates)
	if err != nil {
		return Result{Pruned: pruned}, fmt.Errorf("list volatile notes: %w", err)
	}

	merged := 0
	for _, group := range groupByUser(candidates) {
		if len(group) < minUserNotes {
			continue
		}
		for start := 0; start < len(group); start += w.config.BatchSize {
			if ctx.Err() != nil {
				break
			}
			batch := group[start:min(start+w.config.BatchSize, len(group))]
			if len(batch) < minBatch {
				continue
			}
			if err := w.merge(ctx, batch); err != nil {
				w.logger.Warn("note merge failed", "user_id", batch[0].UserID, "notes", len(batch), "error", err)
				continue
			}
			merged++
		}
	}

	res := Result{
		Pruned:  pruned,
		Merged:  merged,
		Message: fmt.Sprintf("Maintenance complete: pruned %d notes, merged %d batches", pruned, merged),
	}
	w.logger.Info("maintenance complete", "pruned", pruned, "merged", merged, "candidates", len(candidates))
	w.bus.Emit(events.SourceMaintenance, events.KindMaintenanceComplete, map[string]any{
		"pruned": pruned,
		"merged": merged,
	})
	return res, nil
}

// groupByUser splits notes by owner, keeping each user's notes in their
// original order. Groups come back in a stable order.
func groupByUser(notes []*memory.Note) [][]*memory.Note {
	byUser := make(map[string][]*memory.Note)
	var users []string
	for _, n := range notes {
		if _, ok := byUser[n.UserID]; !ok {
			users = append(users, n.UserID)
		}
		byUser[n.UserID] = append(byUser[n.UserID], n)
	}
	sort.Strings(users)
	out := make([][]*memory.Note, 0, len(users))
	for _, u := range users {
		out = append(out, byUser[u])
	}
	return out
}

func (w *Worker) merge(ctx context.Context, batch []*memory.Note) error {
	ids := make([]string, len(batch))
	for i, n := range batch {
		ids[i] = n.ID
	}

	_, err := w.notes.Supersede(ctx, ids, memory.WriteInput{
		Kind:      memory.KindSummary,
		Content:   w.synthesize(ctx, batch),
		UserID:    batch[0].UserID,
		Tags:      unionTags(batch),
		Stability: memory.Stable,
		Evidence:  ids,
	})
	return err
}

// synthesize asks the model for a merged summary and falls back to
// joining the notes when the model is missing or fails.
func (w *Worker) synthesize(ctx context.Context, batch []*memory.Note) string {
	contents := make([]string, len(batch))
	for i, n := range batch {
		contents[i] = n.Content
	}
	joined := strings.Join(contents, "\n\n")
	if w.client == nil {
		return joined
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	var b strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&b, "Note %d:\n%s\n\n", i+1, c)
	}
	resp, err := w.client.Complete(ctx, llm.Request{
		System:    synthesisPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: strings.TrimSpace(b.String())}},
		MaxTokens: synthesisMaxTokens,
	})
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return joined
	case err != nil:
		w.logger.Debug("synthesis failed, concatenating", "error", err)
		return joined
	case resp.Type != llm.ResponseText || strings.TrimSpace(resp.Text) == "":
		return joined
	}
	return strings.TrimSpace(resp.Text)
}

func unionTags(batch []*memory.Note) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, n := range batch {
		for _, t := range n.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags
}
