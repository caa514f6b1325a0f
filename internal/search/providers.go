package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// searxngResponse is the subset of a SearXNG JSON API response this
// adapter reads; SearXNG is the self-hostable metasearch backend this
// engine shape assumes, since no concrete provider is specified.
type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearXNGEngine builds a search.Engine querying a SearXNG instance's
// JSON API at baseURL. score sets the engine's merge-tiebreak priority.
func NewSearXNGEngine(name, baseURL string, score int, client *http.Client) Engine {
	return Engine{
		Name:  name,
		Score: score,
		Search: func(ctx context.Context, q Query) ([]Hit, error) {
			u, err := url.Parse(baseURL + "/search")
			if err != nil {
				return nil, fmt.Errorf("parsing searxng base url: %w", err)
			}
			query := u.Query()
			query.Set("q", q.Text)
			query.Set("format", "json")
			if q.Language != "" {
				query.Set("language", q.Language)
			}
			u.RawQuery = query.Encode()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("searxng %s: status %d", name, resp.StatusCode)
			}

			var parsed searxngResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				return nil, fmt.Errorf("decoding searxng response: %w", err)
			}

			limit := q.Limit
			if limit <= 0 || limit > len(parsed.Results) {
				limit = len(parsed.Results)
			}
			hits := make([]Hit, 0, limit)
			for _, r := range parsed.Results[:limit] {
				hits = append(hits, Hit{URL: r.URL, Title: r.Title, Snippet: r.Content})
			}
			return hits, nil
		},
	}
}
