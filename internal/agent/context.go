package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/memory"
	"github.com/nugget/luminary/internal/planner"
)

// Retrieval bounds for the context builder.
const (
	semanticTopK = 15
	minRules     = 5
	maxRules     = 10
	minSummaries = 3
	maxSummaries = 5
)

// ContextBuilder assembles the system prompt from identity notes, the
// host platform, and relevant rules and summaries. It only reads.
type ContextBuilder struct {
	notes  *memory.Store
	logger *slog.Logger

	goos, goarch string
}

// NewContextBuilder creates a builder over notes.
func NewContextBuilder(notes *memory.Store, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{
		notes:  notes,
		logger: logger,
		goos:   runtime.GOOS,
		goarch: runtime.GOARCH,
	}
}

// Build returns the system prompt for userID. message, when non-empty,
// drives semantic retrieval of rules and summaries; without an index
// the most recent notes are used instead.
func (b *ContextBuilder) Build(ctx context.Context, userID, message string) (string, error) {
	var parts []string

	agentNote, err := b.identity(ctx, userID, memory.KindAgent)
	if err != nil {
		return "", err
	}
	soulNote, err := b.identity(ctx, userID, memory.KindSoul)
	if err != nil {
		return "", err
	}
	userNote, err := b.identity(ctx, userID, memory.KindUser)
	if err != nil {
		return "", err
	}

	if agentNote != "" {
		parts = append(parts, agentNote)
	}
	if soulNote != "" {
		parts = append(parts, soulNote)
	}
	parts = append(parts, b.environment())

	switch {
	case userNote != "":
		parts = append(parts, userNote)
	default:
		if u, err := b.notes.GetUser(ctx, userID); err == nil {
			parts = append(parts, UserProfile(u))
		}
	}

	relevant := b.relevantIDs(ctx, message)

	rules, err := b.load(ctx, userID, memory.KindRule, relevant, minRules, maxRules)
	if err != nil {
		return "", err
	}
	if len(rules) > 0 {
		lines := make([]string, len(rules))
		for i, n := range rules {
			lines[i] = "- " + n.Content
		}
		parts = append(parts, "## Rules\n"+strings.Join(lines, "\n"))
	}

	summaries, err := b.load(ctx, userID, memory.KindSummary, relevant, minSummaries, maxSummaries)
	if err != nil {
		return "", err
	}
	if len(summaries) > 0 {
		texts := make([]string, len(summaries))
		for i, n := range summaries {
			texts[i] = n.Content
		}
		parts = append(parts, "## Recent Context\n"+strings.Join(texts, "\n\n"))
	}

	return strings.Join(parts, "\n\n"), nil
}

func (b *ContextBuilder) identity(ctx context.Context, userID string, kind memory.Kind) (string, error) {
	n, err := b.notes.Identity(ctx, userID, kind)
	if errors.Is(err, memory.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if n.Sensitivity == memory.Sensitive {
		return "", nil
	}
	return n.Content, nil
}

func (b *ContextBuilder) environment() string {
	return fmt.Sprintf("## System Environment\nOS: %s (%s)\n%s", b.goos, b.goarch, planner.PlatformHint(b.goos))
}

// relevantIDs returns nearest note ids in rank order, or nil when there
// is no index or the lookup fails.
func (b *ContextBuilder) relevantIDs(ctx context.Context, message string) []string {
	if message == "" || !b.notes.Semantic() {
		return nil
	}
	ids, err := b.notes.SemanticIDs(ctx, message, semanticTopK)
	if err != nil {
		b.logger.Warn("semantic retrieval failed, using recent notes", "error", err)
		return nil
	}
	return ids
}

// load picks notes of kind: semantically relevant ones first, then the
// most recent ones until at least minCount, capped at maxCount.
// Superseded, expired, sensitive and other users' notes never appear.
func (b *ContextBuilder) load(ctx context.Context, userID string, kind memory.Kind, relevant []string, minCount, maxCount int) ([]*memory.Note, error) {
	now := time.Now()
	seen := make(map[string]bool)
	var out []*memory.Note

	for _, id := range relevant {
		if len(out) >= maxCount {
			break
		}
		n, err := b.notes.Get(ctx, id)
		if err != nil {
			continue
		}
		if n.Kind != kind || n.UserID != userID || n.Sensitivity == memory.Sensitive || !n.Live(now) {
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	if len(out) >= minCount {
		return out, nil
	}

	recent, err := b.notes.Query(ctx, memory.Filter{UserID: userID, Kind: kind, Limit: maxCount})
	if err != nil {
		return nil, fmt.Errorf("load %s notes: %w", kind, err)
	}
	for _, n := range recent {
		if len(out) >= maxCount {
			break
		}
		if seen[n.ID] || n.Sensitivity == memory.Sensitive {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
