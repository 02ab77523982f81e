package search

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// SearXNG implements the Provider interface for a SearXNG instance.
type SearXNG struct {
	baseURL string
	client  *http.Client
}

// NewSearXNG creates a SearXNG provider. baseURL is the instance root,
// e.g. "http://localhost:8888".
func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Search(ctx context.Context, query string, count int) ([]Result, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}

	var sr searxngResponse
	if err := getJSON(ctx, s.client, s.Name(), s.baseURL+"/search?"+params.Encode(), nil, &sr); err != nil {
		return nil, err
	}

	results := make([]Result, 0, min(count, len(sr.Results)))
	for _, r := range sr.Results {
		if len(results) >= count {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}
