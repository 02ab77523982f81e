// Package fetch implements the fetch_url tool: it downloads a public
// web page and returns its readable text, or a JSON body verbatim.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/luminary/internal/config"
	"github.com/nugget/luminary/internal/httpkit"
)

// DefaultMaxLength caps returned content when the caller gives no limit.
const DefaultMaxLength = 8000

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 15 * time.Second

// maxBodyBytes is read off the wire before extraction (5 MB).
const maxBodyBytes int64 = 5 * 1024 * 1024

// ErrScheme is returned for URLs that are not http or https.
var ErrScheme = errors.New("URL scheme not allowed")

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"contentType,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client    *http.Client
	maxLength int
	logger    *slog.Logger

	// checkHost vets the URL host before any network activity.
	checkHost func(host string) error
}

// New creates a Fetcher whose client refuses private destinations at
// dial time as well as by name.
func New(cfg config.FetchConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := DefaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithBlockPrivate(),
			httpkit.WithMaxRedirects(5),
		),
		maxLength: maxLength,
		logger:    logger,
		checkHost: httpkit.CheckHost,
	}
}

// Validate parses rawURL and rejects non-http schemes and hosts that
// name loopback, private, or link-local destinations.
func (f *Fetcher) Validate(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("Invalid URL: %s", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s:", ErrScheme, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if err := f.checkHost(host); err != nil {
		return nil, fmt.Errorf("URL hostname not allowed (private/loopback): %s", host)
	}
	return u, nil
}

// Fetch downloads rawURL. JSON bodies are returned as-is; everything
// else is reduced to visible text. maxLength <= 0 uses the configured
// default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxLength int) (*Result, error) {
	u, err := f.Validate(rawURL)
	if err != nil {
		return nil, err
	}
	if maxLength <= 0 {
		maxLength = f.maxLength
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("Invalid URL: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,text/plain;q=0.8,*/*;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	res := &Result{URL: u.String(), ContentType: contentType}

	switch {
	case strings.Contains(contentType, "application/json"):
		res.Content = string(body)
	case isHTML(contentType) || looksLikeHTML(body):
		res.Title, res.Content = extractHTML(string(body))
	case utf8.Valid(body):
		res.Content = cleanWhitespace(string(body))
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
	}

	if len(res.Content) > maxLength {
		res.Content = truncateUTF8(res.Content, maxLength)
		res.Truncated = true
	}

	f.logger.Debug("fetched url",
		"host", u.Host,
		"status", resp.StatusCode,
		"content_type", contentType,
		"bytes", len(body),
		"truncated", res.Truncated,
	)
	return res, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// looksLikeHTML catches servers that omit or mislabel the content type.
func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
