package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Article is one knowledge-base document returned by the similarity
// search backend.
type Article struct {
	ID      string `json:"id" jsonschema_description:"Document identifier"`
	Title   string `json:"title" jsonschema_description:"Article title"`
	Content string `json:"content" jsonschema_description:"Article body text"`
}

// SearchInput defines input for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query describing what to look for"`
}

const maxSearchResponseSize = 10 << 20 // 10MB

// SearchClient queries the external similarity-search service over
// HTTP: POST {"query": q} with a bearer credential, expecting a JSON
// array of articles.
type SearchClient struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// NewSearchClient creates a client for the given endpoint. token may be
// empty when the service is unauthenticated.
func NewSearchClient(endpoint, token string, timeout time.Duration, logger *slog.Logger) *SearchClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Search runs one similarity query. Transport failures and non-2xx
// statuses are returned as errors; the caller decides how to degrade.
func (c *SearchClient) Search(ctx context.Context, query string) ([]Article, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var articles []Article
	if err := json.Unmarshal(body, &articles); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	c.logger.Debug("similarity search completed", "query", query, "results", len(articles))
	return articles, nil
}

// NewSearchTool wraps the client as the model-facing search tool.
// Search is fail-soft: an unreachable or erroring backend records an
// empty article list instead of failing the turn.
func NewSearchTool(client *SearchClient) (*Definition, error) {
	d, err := NewTool("search",
		"Search the knowledge base for support articles relevant to a query. Returns matching articles with their titles and content.",
		func(ctx context.Context, in SearchInput) ([]Article, error) {
			return client.Search(ctx, in.Query)
		})
	if err != nil {
		return nil, err
	}
	return d.FailSoft([]Article{}), nil
}
