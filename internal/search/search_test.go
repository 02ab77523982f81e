package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nugget/luminary/internal/config"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
	calls   int
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ int) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func TestManager_FirstSuccessWins(t *testing.T) {
	first := &mockProvider{name: "first", results: []Result{{Title: "First"}}}
	second := &mockProvider{name: "second", results: []Result{{Title: "Second"}}}
	mgr := NewManager(nil)
	mgr.Register(first)
	mgr.Register(second)

	results, err := mgr.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "First" {
		t.Errorf("results = %+v, want First", results)
	}
	if second.calls != 0 {
		t.Errorf("second provider called %d times, want 0", second.calls)
	}
}

func TestManager_FallsBack(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Register(&mockProvider{name: "broken", err: errors.New("HTTP 401")})
	mgr.Register(&mockProvider{name: "backup", results: []Result{{Title: "Backup"}}})

	results, err := mgr.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Backup" {
		t.Errorf("results = %+v, want Backup", results)
	}
}

func TestManager_AllFailIsEmpty(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Register(&mockProvider{name: "a", err: errors.New("down")})
	mgr.Register(&mockProvider{name: "b", err: errors.New("down")})

	results, err := mgr.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %#v, want empty non-nil slice", results)
	}
}

func TestFromConfig_Order(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SearchConfig
		want []string
	}{
		{"none", config.SearchConfig{}, []string{}},
		{"ddg only", config.SearchConfig{DuckDuckGo: true}, []string{"duckduckgo"}},
		{"all", config.SearchConfig{BraveAPIKey: "k", SearXNGURL: "http://sx", DuckDuckGo: true}, []string{"brave", "searxng", "duckduckgo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromConfig(tt.cfg, nil).Providers()
			if len(got) != len(tt.want) {
				t.Fatalf("providers = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("providers = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "brave-key" {
			t.Errorf("token = %q, want brave-key", got)
		}
		if got := r.URL.Query().Get("count"); got != "5" {
			t.Errorf("count = %q, want 5", got)
		}
		w.Write([]byte(`{"web":{"results":[{"title":"Go","url":"https://go.dev","description":"The Go language"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave("brave-key", srv.Client())
	b.endpoint = srv.URL
	results, err := b.Search(context.Background(), "golang", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "The Go language" {
		t.Errorf("results = %+v", results)
	}
}

func TestBrave_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewBrave("k", srv.Client())
	b.endpoint = srv.URL
	_, err := b.Search(context.Background(), "q", 5)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusTooManyRequests {
		t.Fatalf("error = %v, want ProviderError 429", err)
	}
}

func TestDuckDuckGo_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		w.Write([]byte(`{
			"AbstractText": "Go is a programming language.",
			"AbstractURL": "https://en.wikipedia.org/wiki/Go",
			"AbstractSource": "Wikipedia",
			"RelatedTopics": [
				{"Text": "One", "FirstURL": "https://1"},
				{"Text": "", "FirstURL": "https://skip"},
				{"Text": "Three", "FirstURL": "https://3"},
				{"Text": "Four", "FirstURL": "https://4"},
				{"Text": "Five", "FirstURL": "https://5"}
			]
		}`))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(srv.Client())
	d.endpoint = srv.URL
	results, err := d.Search(context.Background(), "go", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// Abstract plus the non-empty topics among the first four.
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4: %+v", len(results), results)
	}
	if results[0].Title != "Wikipedia" {
		t.Errorf("abstract title = %q, want Wikipedia", results[0].Title)
	}
	if results[3].Snippet != "Four" {
		t.Errorf("last snippet = %q, want Four", results[3].Snippet)
	}
}

func TestSearXNG_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", r.URL.Path)
		}
		w.Write([]byte(`{"results":[{"title":"a","url":"u1","content":"c1"},{"title":"b","url":"u2","content":"c2"},{"title":"c","url":"u3","content":"c3"}]}`))
	}))
	defer srv.Close()

	results, err := NewSearXNG(srv.URL+"/", srv.Client()).Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[1].Snippet != "c2" {
		t.Errorf("results = %+v", results)
	}
}

func TestTool(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Register(&mockProvider{name: "m", results: []Result{{Title: "T", URL: "https://t"}}})
	tool := Tool(mgr)

	res := tool.Handler(context.Background(), map[string]any{"query": "weather"})
	if res.Failed() {
		t.Fatalf("handler failed: %s", res.Error)
	}
	out, ok := res.Output.(map[string]any)
	if !ok || out["query"] != "weather" {
		t.Errorf("output = %#v", res.Output)
	}

	if res := tool.Handler(context.Background(), map[string]any{"query": "  "}); !res.Failed() {
		t.Error("blank query should fail")
	}
}
