// Package search implements the web_search tool on top of an ordered
// chain of search backends. Each backend implements [Provider]; the
// [Manager] tries them in registration order and falls through to the
// next on failure.
package search

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/luminary/internal/config"
	"github.com/nugget/luminary/internal/httpkit"
)

// DefaultCount is the number of results requested from a provider.
const DefaultCount = 5

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "brave").
	Name() string

	// Search executes a query and returns at most count results.
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Manager holds configured providers in priority order.
type Manager struct {
	providers []Provider
	logger    *slog.Logger
}

// NewManager creates an empty search manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// FromConfig builds the provider chain: Brave when keyed, SearXNG when
// a URL is set, then DuckDuckGo when enabled.
func FromConfig(cfg config.SearchConfig, logger *slog.Logger) *Manager {
	m := NewManager(logger)
	client := httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))
	if cfg.BraveAPIKey != "" {
		m.Register(NewBrave(cfg.BraveAPIKey, client))
	}
	if cfg.SearXNGURL != "" {
		m.Register(NewSearXNG(cfg.SearXNGURL, client))
	}
	if cfg.DuckDuckGo {
		m.Register(NewDuckDuckGo(client))
	}
	return m
}

// Register appends a provider to the chain.
func (m *Manager) Register(p Provider) {
	m.providers = append(m.providers, p)
}

// Providers returns the provider names in the order they are tried.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// Search runs query against each provider in turn and returns the first
// successful answer. When every provider fails the result is empty
// rather than an error; the failures are logged.
func (m *Manager) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = DefaultCount
	}
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, count)
		if err == nil {
			m.logger.Debug("web search complete", "provider", p.Name(), "results", len(results))
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("search provider failed, falling back", "provider", p.Name(), "error", err)
	}
	return []Result{}, nil
}

// getJSON is shared by the providers: GET reqURL with headers and
// decode a JSON body into v.
func getJSON(ctx context.Context, client *http.Client, provider, reqURL string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &ProviderError{Provider: provider, Err: err}
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &ProviderError{Provider: provider, Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: provider, Status: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}
	if err := decodeJSON(resp, v); err != nil {
		return &ProviderError{Provider: provider, Err: err}
	}
	return nil
}
