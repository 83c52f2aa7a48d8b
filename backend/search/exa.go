package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mkade/sage/backend/toolbox"
	"github.com/mkade/sage/shared"
)

const defaultBaseURL = "https://api.exa.ai"

type ExaOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	NumResults int
}

type ExaOption func(*ExaOptions)

func WithBaseURL(url string) ExaOption {
	return func(o *ExaOptions) {
		o.BaseURL = url
	}
}

func WithHTTPClient(client *http.Client) ExaOption {
	return func(o *ExaOptions) {
		o.HTTPClient = client
	}
}

func WithNumResults(n int) ExaOption {
	return func(o *ExaOptions) {
		o.NumResults = n
	}
}

// ExaClient calls the Exa search API. It is thin I/O glue around one
// endpoint; the interesting behavior lives in the tool registry and
// orchestrator that invoke it.
type ExaClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	numResults int
}

func NewExaClient(apiKey string, opts ...ExaOption) (*ExaClient, error) {
	if apiKey == "" {
		return nil, shared.Errorf(shared.ErrKindValidation, "exa API key is required")
	}

	options := &ExaOptions{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		NumResults: 5,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &ExaClient{
		apiKey:     apiKey,
		baseURL:    options.BaseURL,
		httpClient: options.HTTPClient,
		numResults: options.NumResults,
	}, nil
}

type SearchInput struct {
	Query string `json:"query" jsonschema:"required,description=The search query to run against the web"`
}

// Tool wraps the client as a registrable native tool.
func (c *ExaClient) Tool() toolbox.Tool {
	return toolbox.NewTool("exa_web_search",
		"Perform a search query on the web with Exa, and retrieve relevant web data.",
		c.Search)
}

type searchRequest struct {
	Query      string         `json:"query"`
	Type       string         `json:"type"`
	NumResults int            `json:"numResults"`
	Contents   searchContents `json:"contents"`
}

type searchContents struct {
	Highlights bool `json:"highlights"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	PublishedDate string   `json:"publishedDate"`
	Highlights    []string `json:"highlights"`
}

func (c *ExaClient) Search(ctx context.Context, input SearchInput) (string, error) {
	if input.Query == "" {
		return "", shared.Errorf(shared.ErrKindValidation, "search query is required")
	}

	body, err := json.Marshal(searchRequest{
		Query:      input.Query,
		Type:       "auto",
		NumResults: c.numResults,
		Contents:   searchContents{Highlights: true},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exa search request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read exa response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("exa search returned status %d: %s", resp.StatusCode, payload)
	}

	var parsed searchResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode exa response: %w", err)
	}

	return formatResults(parsed.Results), nil
}

func formatResults(results []searchResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	var out strings.Builder
	for i, result := range results {
		fmt.Fprintf(&out, "%d. %s\n%s\n", i+1, result.Title, result.URL)
		if result.PublishedDate != "" {
			fmt.Fprintf(&out, "Published: %s\n", result.PublishedDate)
		}
		for _, highlight := range result.Highlights {
			fmt.Fprintf(&out, "- %s\n", strings.TrimSpace(highlight))
		}
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}
