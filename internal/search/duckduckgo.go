package search

import (
	"context"
	"net/http"
	"net/url"
)

// DefaultDuckDuckGoURL is the keyless Instant Answer endpoint.
const DefaultDuckDuckGoURL = "https://api.duckduckgo.com/"

// DuckDuckGo answers from the Instant Answer API: the abstract, if
// any, followed by up to four related topics. It is not a full web
// index and often returns nothing for news-style queries.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo Instant Answer provider.
func NewDuckDuckGo(client *http.Client) *DuckDuckGo {
	return &DuckDuckGo{endpoint: DefaultDuckDuckGoURL, client: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgResponse struct {
	AbstractText   string `json:"AbstractText"`
	AbstractURL    string `json:"AbstractURL"`
	AbstractSource string `json:"AbstractSource"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

const maxRelatedTopics = 4

func (d *DuckDuckGo) Search(ctx context.Context, query string, count int) ([]Result, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}

	var dr ddgResponse
	if err := getJSON(ctx, d.client, d.Name(), d.endpoint+"?"+params.Encode(), nil, &dr); err != nil {
		return nil, err
	}

	var results []Result
	if dr.AbstractText != "" {
		title := dr.AbstractSource
		if title == "" {
			title = "DuckDuckGo"
		}
		results = append(results, Result{Title: title, URL: dr.AbstractURL, Snippet: dr.AbstractText})
	}
	for i, topic := range dr.RelatedTopics {
		if i >= maxRelatedTopics {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, Result{
			Title:   truncateRunes(topic.Text, 60),
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}
	if len(results) > count {
		results = results[:count]
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
