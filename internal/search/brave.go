package search

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultBraveURL is the Brave web search endpoint.
const DefaultBraveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave implements the Provider interface for the Brave Search API.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBrave creates a Brave Search provider.
func NewBrave(apiKey string, client *http.Client) *Brave {
	return &Brave{apiKey: apiKey, endpoint: DefaultBraveURL, client: client}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, count int) ([]Result, error) {
	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(count)},
	}
	header := http.Header{}
	header.Set("X-Subscription-Token", b.apiKey)

	var br braveResponse
	if err := getJSON(ctx, b.client, b.Name(), b.endpoint+"?"+params.Encode(), header, &br); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}
