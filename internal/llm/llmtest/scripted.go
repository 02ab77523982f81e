// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nugget/luminary/internal/llm"
)

// Step is one scripted outcome: a response or an error.
type Step struct {
	Response *llm.Response
	Err      error
}

// Scripted replays Steps in order and records every request it saw.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

// New builds a Scripted client from steps.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Text is shorthand for a text response step.
func Text(s string) Step {
	return Step{Response: llm.TextResponse(s)}
}

// Calls is shorthand for a tool_calls response step.
func Calls(calls ...llm.ToolCall) Step {
	return Step{Response: llm.ToolCallsResponse(calls...)}
}

// Fail is shorthand for an error step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Complete implements llm.Client.
func (s *Scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", len(s.requests)-1)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Response, step.Err
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Complete was invoked.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
