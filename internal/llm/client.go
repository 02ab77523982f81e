package llm

import (
	"context"
	"fmt"
)

// Client is the single completion contract every provider satisfies.
// Provider-specific message and tool-schema translation stays private
// to each implementation.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Unconfigured is a Client that always fails with [ErrNotConfigured].
// It stands in when no credentials are present so callers can still
// produce a well-formed reply.
type Unconfigured struct {
	Reason string
}

// Complete implements Client.
func (u Unconfigured) Complete(context.Context, Request) (*Response, error) {
	if u.Reason == "" {
		return nil, ErrNotConfigured
	}
	return nil, fmt.Errorf("%w: %s", ErrNotConfigured, u.Reason)
}
