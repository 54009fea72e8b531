package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/rag/websearch"
)

const defaultBaseURL = "https://api.tavily.com"

// Client implements websearch.Provider with Tavily's search API.
type Client struct {
	apiKey      string
	baseURL     string
	searchDepth string
	httpClient  *http.Client
}

var _ websearch.Provider = (*Client)(nil)

// Option customises the Tavily client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithSearchDepth selects "basic" or "advanced" search.
func WithSearchDepth(depth string) Option {
	return func(c *Client) {
		if depth != "" {
			c.searchDepth = depth
		}
	}
}

// WithHTTPClient swaps the HTTP client (useful for timeouts or proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a new Tavily client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		searchDepth: "advanced",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	MaxResults        int    `json:"max_results"`
}

type searchResponse struct {
	Results []websearch.Result `json:"results"`
}

// Search implements websearch.Provider.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	if c.apiKey == "" {
		return nil, errorskg.New(errorskg.KindConfiguration, "tavily", "api key is not set")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errorskg.New(errorskg.KindValidation, "tavily", "query cannot be empty")
	}

	body, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: c.searchDepth,
		MaxResults:  maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errorskg.Wrap(errorskg.Classify(err), "tavily", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorskg.FromStatus("tavily", resp.StatusCode,
			fmt.Errorf("tavily search failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errorskg.Wrap(errorskg.KindParsing, "tavily", err)
	}
	if maxResults > 0 && len(sr.Results) > maxResults {
		sr.Results = sr.Results[:maxResults]
	}
	return sr.Results, nil
}
