package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nugget/luminary/internal/config"
	"github.com/nugget/luminary/internal/httpkit"
)

// newTestFetcher returns a Fetcher without the private-address
// guards so it can reach the loopback test server.
func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f := New(config.FetchConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.client = httpkit.NewClient(httpkit.WithTimeout(5 * time.Second))
	f.checkHost = func(string) error { return nil }
	return f
}

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Test Page</title></head>
<body>
<nav>Navigation stuff</nav>
<script>var x = 1;</script>
<style>.foo { color: red; }</style>
<main>
<h1>Hello World</h1>
<p>This is a test paragraph with <strong>bold text</strong>.</p>
<p>Second paragraph.</p>
</main>
<footer>Footer stuff</footer>
</body>
</html>`

	title, content := extractHTML(page)

	if title != "Test Page" {
		t.Errorf("title = %q, want %q", title, "Test Page")
	}
	for _, want := range []string{"Hello World", "bold text", "Second paragraph."} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q: %q", want, content)
		}
	}
	for _, unwanted := range []string{"var x = 1", "color: red", "Navigation stuff", "Footer stuff", "Test Page"} {
		if strings.Contains(content, unwanted) {
			t.Errorf("content should not contain %q: %q", unwanted, content)
		}
	}
}

func TestCleanWhitespace(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a   b  ", "a b"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"\n\na\nb\n\n", "a\nb"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cleanWhitespace(tt.in); got != tt.want {
			t.Errorf("cleanWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	f := New(config.FetchConfig{}, nil)

	tests := []struct {
		url     string
		wantErr string
	}{
		{"https://example.com/page", ""},
		{"http://example.com", ""},
		{"ftp://example.com/file", "scheme not allowed"},
		{"file:///etc/passwd", "Invalid URL"},
		{"not a url", "Invalid URL"},
		{"http://localhost:8080/", "not allowed"},
		{"http://127.0.0.1/", "not allowed"},
		{"http://10.1.2.3/", "not allowed"},
		{"http://172.20.0.1/", "not allowed"},
		{"http://192.168.1.1/", "not allowed"},
		{"http://169.254.169.254/latest/meta-data", "not allowed"},
		{"http://[::1]/", "not allowed"},
		{"http://[fd12:3456::1]/", "not allowed"},
		{"http://172.32.0.1/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := f.Validate(tt.url)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate(%q) error: %v", tt.url, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(%q) error = %v, want containing %q", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidate_SchemeSentinel(t *testing.T) {
	f := New(config.FetchConfig{}, nil)
	_, err := f.Validate("gopher://example.com/")
	if !errors.Is(err, ErrScheme) {
		t.Errorf("error = %v, want ErrScheme", err)
	}
}

func TestFetch_HTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Hello from test server</p></body></html>`))
	}))
	defer srv.Close()

	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Title != "Test" {
		t.Errorf("title = %q, want %q", res.Title, "Test")
	}
	if res.Content != "Hello from test server" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Truncated {
		t.Error("short page should not be truncated")
	}
}

func TestFetch_JSONPassthrough(t *testing.T) {
	body := `{"items":[1,2,3],"name":"widgets"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	res, err := f.Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Content != body {
		t.Errorf("content = %q, want %q", res.Content, body)
	}

	res, err = f.Fetch(context.Background(), srv.URL, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Content != body[:10] || !res.Truncated {
		t.Errorf("content = %q truncated=%v, want %q truncated", res.Content, res.Truncated, body[:10])
	}
}

func TestFetch_DefaultMaxLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 20000)))
	}))
	defer srv.Close()

	res, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Content) != DefaultMaxLength {
		t.Errorf("len(content) = %d, want %d", len(res.Content), DefaultMaxLength)
	}
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL, 0)
	if err == nil || err.Error() != "HTTP 404: Not Found" {
		t.Errorf("error = %v, want %q", err, "HTTP 404: Not Found")
	}
}

func TestFetch_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	if _, err := f.Fetch(context.Background(), srv.URL, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasPrefix(got, "luminary/") {
		t.Errorf("User-Agent = %q, want luminary/ prefix", got)
	}
}
