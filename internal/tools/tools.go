// Package tools defines the tool contract and the registry every
// side-effecting capability is registered into at startup.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nugget/luminary/internal/llm"
)

// Handler runs a tool. Expected failures are reported in
// [Result.Error], never as a panic. The caller's user and job are
// available through [UserIDFromContext] and [JobIDFromContext].
type Handler func(ctx context.Context, args map[string]any) Result

// Tool is a callable capability.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Result is the in-band outcome of a tool run.
type Result struct {
	Output       any    `json:"output"`
	ArtifactPath string `json:"artifactPath,omitempty"`
	Error        string `json:"error,omitempty"`
}

// OK wraps a successful output.
func OK(output any) Result {
	return Result{Output: output}
}

// Errorf builds a failed Result with a nil output.
func Errorf(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// Failed reports whether the run produced an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Registry holds available tools and their compiled input schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool, replacing any tool with the same name. The
// parameter schema is compiled up front so a malformed schema fails at
// startup rather than on first call.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool must have a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	schema, err := compileSchema(t.Name, t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	r.schemas[t.Name] = schema
	return nil
}

// MustRegister is Register for startup wiring, where a bad schema is a
// programming error.
func (r *Registry) MustRegister(tools ...*Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns every registered tool name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns the tools named in allowed, or every tool when allowed
// is empty. Unknown names are skipped.
func (r *Registry) Tools(allowed []string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Tool
	if len(allowed) == 0 {
		for _, t := range r.tools {
			out = append(out, t)
		}
	} else {
		for _, name := range allowed {
			if t, ok := r.tools[name]; ok {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Specs describes the allowed tools to an LLM.
func (r *Registry) Specs(allowed []string) []llm.Tool {
	tools := r.Tools(allowed)
	specs := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return specs
}

// Execute validates args against the tool's schema and runs it. The
// only returned error is [*ErrToolUnavailable]; every other failure,
// including a panic inside the handler, comes back in [Result.Error].
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (res Result, err error) {
	r.mu.RLock()
	tool := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if tool == nil {
		return Result{}, &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	if schema != nil {
		if verr := validateArgs(schema, args); verr != nil {
			return Errorf("invalid input for %s: %v", name, verr), nil
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				"tool", name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			res = Errorf("tool %s panicked: %v", name, p)
			err = nil
		}
	}()

	r.logger.Debug("executing tool", "tool", name, "user_id", UserIDFromContext(ctx))
	return tool.Handler(ctx, args), nil
}

// MarshalOutput renders a Result the way it is fed back to a model:
// the output as JSON, or {"error": ...} when the run failed.
func MarshalOutput(res Result) string {
	var v any = res.Output
	if res.Failed() {
		v = map[string]string{"error": res.Error}
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("unencodable output: %v", err)})
	}
	return string(b)
}
