package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	searchTimeout     = 15 * time.Second
	braveEndpoint     = "https://api.search.brave.com/res/v1/web/search"
	searchResultCount = 5
	userAgentString   = "ava/0.1"
)

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type WebSearchConfig struct {
	APIKey   string
	Endpoint string // overrides the Brave endpoint, for tests
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = braveEndpoint
	}
	return &WebSearchTool{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: searchTimeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web. Returns the top results with title, URL and a short description. Use for current events or anything you are unsure about."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
		},
		[]string{"query"},
	)
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if err := requireArgs(args, "query"); err != nil {
		return "", err
	}
	if t.apiKey == "" {
		return "web search unavailable: missing API key", nil
	}
	query := ArgsString(args, "query")

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprint(searchResultCount))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgentString)
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("search failed: HTTP %d", resp.StatusCode), nil
	}

	var br braveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&br); err != nil {
		return "", fmt.Errorf("parse search response: %w", err)
	}

	if len(br.Web.Results) == 0 {
		return fmt.Sprintf("no results found for: %s", query), nil
	}

	var b strings.Builder
	for i, r := range br.Web.Results {
		if i >= searchResultCount {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if desc := strings.TrimSpace(r.Description); desc != "" {
			fmt.Fprintf(&b, "   %s\n", desc)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}
