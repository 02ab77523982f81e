// Package agent runs conversational turns: it assembles context from
// memory, drives the model through a bounded tool-calling loop, and
// records everything in the conversation log.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/luminary/internal/conversation"
	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/memory"
	"github.com/nugget/luminary/internal/tools"
)

// DefaultMaxIterations bounds the model calls in one turn.
const DefaultMaxIterations = 10

const (
	maxStepsMessage   = "I reached the maximum number of reasoning steps. Please try again."
	emptyCallsMessage = "Task complete."

	summaryTTLDays    = 7
	summaryTaskLen    = 200
	summaryResultLen  = 200
	summaryOutcomeLen = 800
)

// memoryTools are left out of the automatic turn summary; their effect
// is already a note.
var memoryTools = map[string]bool{
	"remember":      true,
	"update_memory": true,
	"update_soul":   true,
	"list_memory":   true,
}

// Config tunes a Loop. Zero values take the defaults.
type Config struct {
	MaxIterations int
	MaxTokens     int
	Retry         llm.RetryPolicy
	UserDefaults  memory.UserDefaults
}

// Response is the outcome of one turn. Text is always set, including
// when the turn failed.
type Response struct {
	Text       string   `json:"response"`
	Iterations int      `json:"iterations"`
	ToolsUsed  []string `json:"toolsUsed,omitempty"`
}

// Loop is the agent's turn runner.
type Loop struct {
	cfg      Config
	client   llm.Client
	registry *tools.Registry
	notes    *memory.Store
	convo    *conversation.Store
	context  *ContextBuilder
	audit    *events.AuditLog
	bus      *events.Bus
	logger   *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(cfg Config, client llm.Client, registry *tools.Registry, notes *memory.Store, convo *conversation.Store, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	logger = logger.With("component", "agent")
	return &Loop{
		cfg:      cfg,
		client:   client,
		registry: registry,
		notes:    notes,
		convo:    convo,
		context:  NewContextBuilder(notes, logger),
		logger:   logger,
	}
}

// SetAuditLog records user and assistant messages to l.
func (l *Loop) SetAuditLog(a *events.AuditLog) { l.audit = a }

// SetEventBus publishes turn events to b.
func (l *Loop) SetEventBus(b *events.Bus) { l.bus = b }

// RunTurn handles one user message and returns the reply. It never
// fails: model and configuration errors come back as reply text.
func (l *Loop) RunTurn(ctx context.Context, userID, message string) Response {
	if userID == "" {
		userID = tools.DefaultUserID
	}
	start := time.Now()
	log := l.logger.With("user_id", userID)

	l.ensureIdentity(ctx, userID)

	if u, ok := l.client.(llm.Unconfigured); ok {
		_, err := u.Complete(ctx, llm.Request{})
		return Response{Text: fmt.Sprintf("LLM not configured: %v", err)}
	}

	l.bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{
		"user_id":     userID,
		"message_len": len(message),
	})
	l.record(userID, events.TypeUserMessage, message)

	if err := l.convo.AppendUser(ctx, userID, message); err != nil {
		log.Error("failed to record user message", "error", err)
	}
	history, err := l.convo.Load(ctx, userID)
	if err != nil {
		log.Error("failed to load conversation, continuing with this message only", "error", err)
		history = []llm.Message{{Role: llm.RoleUser, Content: message}}
	}

	system, err := l.context.Build(ctx, userID, message)
	if err != nil {
		log.Warn("context build failed", "error", err)
	}
	if system == "" {
		system = FallbackPrompt
	}
	specs := l.registry.Specs(nil)
	toolCtx := tools.WithUserID(ctx, userID)

	var (
		used    []string
		results []string
	)
	finish := func(resp Response) Response {
		resp.ToolsUsed = used
		l.bus.Emit(events.SourceAgent, events.KindTurnComplete, map[string]any{
			"user_id":    userID,
			"iterations": resp.Iterations,
			"tools":      len(used),
			"elapsed_ms": time.Since(start).Milliseconds(),
		})
		log.Info("turn complete", "iterations", resp.Iterations, "tools", len(used), "elapsed", time.Since(start))
		return resp
	}

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		resp, err := llm.CompleteWithRetry(ctx, l.client, llm.Request{
			System:    system,
			Messages:  history,
			Tools:     specs,
			MaxTokens: l.cfg.MaxTokens,
		}, l.cfg.Retry, log)
		if err != nil {
			log.Error("LLM call failed", "iteration", i, "error", err)
			if errors.Is(err, llm.ErrNotConfigured) {
				return finish(Response{Text: fmt.Sprintf("LLM not configured: %v", err), Iterations: i})
			}
			return finish(Response{Text: fmt.Sprintf("LLM error: %v", err), Iterations: i})
		}

		if resp.Type != llm.ResponseToolCalls {
			l.reply(ctx, userID, resp.Text)
			if len(used) > 0 {
				l.writeSummary(ctx, userID, message, used, results, resp.Text)
			}
			return finish(Response{Text: resp.Text, Iterations: i})
		}

		if len(resp.ToolCalls) == 0 {
			l.reply(ctx, userID, emptyCallsMessage)
			return finish(Response{Text: emptyCallsMessage, Iterations: i})
		}

		if err := l.convo.AppendToolCalls(ctx, userID, resp.ToolCalls); err != nil {
			log.Error("failed to record tool calls", "error", err)
		}
		history = append(history, llm.Message{Role: llm.RoleAssistantToolCalls, ToolCalls: resp.ToolCalls})

		batch := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			content := l.execute(toolCtx, userID, call)
			if !memoryTools[call.Name] {
				used = append(used, call.Name)
				results = append(results, fmt.Sprintf("%s: %s", call.Name, clip(content, summaryResultLen)))
			}
			batch = append(batch, llm.ToolResult{ToolUseID: call.ID, Content: content})
		}

		if err := l.convo.AppendToolResults(ctx, userID, batch); err != nil {
			log.Error("failed to record tool results", "error", err)
		}
		history = append(history, llm.Message{Role: llm.RoleToolResults, Results: batch})
	}

	log.Warn("turn hit the iteration cap", "max", l.cfg.MaxIterations)
	l.reply(ctx, userID, maxStepsMessage)
	return finish(Response{Text: maxStepsMessage, Iterations: l.cfg.MaxIterations})
}

// execute runs one tool call and returns its JSON-encoded result. An
// unknown tool becomes an {"error": ...} payload like any other failure.
func (l *Loop) execute(ctx context.Context, userID string, call llm.ToolCall) string {
	res, err := l.registry.Execute(ctx, call.Name, call.Input)
	if err != nil {
		res = tools.Errorf("%v", err)
	}
	l.logger.Debug("tool executed", "tool", call.Name, "ok", !res.Failed())
	l.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"user_id": userID,
		"tool":    call.Name,
		"ok":      !res.Failed(),
	})
	return tools.MarshalOutput(res)
}

func (l *Loop) reply(ctx context.Context, userID, text string) {
	if err := l.convo.AppendAssistant(ctx, userID, text); err != nil {
		l.logger.Error("failed to record assistant message", "user_id", userID, "error", err)
	}
	l.record(userID, events.TypeAssistantMessage, text)
}

func (l *Loop) record(userID, typ, message string) {
	if _, err := l.audit.Append(userID, typ, map[string]any{"message": message}); err != nil {
		l.logger.Warn("failed to append audit event", "type", typ, "error", err)
	}
}

// ensureIdentity creates the user's profile and identity notes on first
// contact. Failures are logged; the turn proceeds without them.
func (l *Loop) ensureIdentity(ctx context.Context, userID string) {
	u, err := l.notes.EnsureUser(ctx, userID, l.cfg.UserDefaults)
	if err != nil {
		l.logger.Warn("failed to ensure user profile", "user_id", userID, "error", err)
	}
	if err := l.notes.EnsureIdentity(ctx, userID, IdentityDefaults(u)); err != nil {
		l.logger.Warn("failed to ensure identity notes", "user_id", userID, "error", err)
	}
}

// writeSummary records what the turn did, whether or not the model
// chose to remember it.
func (l *Loop) writeSummary(ctx context.Context, userID, message string, used, results []string, outcome string) {
	var b strings.Builder
	fmt.Fprintf(&b, "[Auto-Reflect] Task: \"%s\"\n", tools.Truncate(message, summaryTaskLen))
	fmt.Fprintf(&b, "Tools used (%d): %s", len(used), strings.Join(used, " → "))
	if len(results) > 0 {
		b.WriteString("\nKey results:\n")
		b.WriteString(strings.Join(results, "\n"))
	}
	fmt.Fprintf(&b, "\nOutcome: %s", tools.Truncate(outcome, summaryOutcomeLen))

	_, err := l.notes.Write(ctx, memory.WriteInput{
		Kind:      memory.KindSummary,
		Content:   b.String(),
		UserID:    userID,
		Stability: memory.Volatile,
		TTLDays:   summaryTTLDays,
	})
	if err != nil {
		l.logger.Warn("failed to write turn summary", "user_id", userID, "error", err)
	}
}

// clip shortens s to n bytes on a rune boundary, marking the cut.
func clip(s string, n int) string {
	t := tools.Truncate(s, n)
	if len(t) < len(s) {
		return t + "..."
	}
	return t
}
