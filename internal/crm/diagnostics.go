package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/httpkit"
)

// Solution is a knowledge base article matching a search.
type Solution struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	StepsToResolve []string `json:"steps_to_resolve"`
}

// KnowledgeBase searches the semantic solution index.
type KnowledgeBase struct {
	baseURL    string
	httpClient *http.Client
}

// NewKnowledgeBase creates a knowledge base search client.
func NewKnowledgeBase(baseURL string, logger *slog.Logger) *KnowledgeBase {
	return &KnowledgeBase{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15*time.Second), httpkit.WithLogger(logger)),
	}
}

// Search returns up to limit solutions for query.
func (k *KnowledgeBase) Search(ctx context.Context, query string, limit int) ([]Solution, error) {
	if limit <= 0 {
		limit = 5
	}
	payload, err := json.Marshal(map[string]any{"query": query, "n_results": limit})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge base request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge base error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var out []Solution
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode solutions: %w", err)
	}
	return out, nil
}

// LogSearch queries the centralized log aggregation service.
type LogSearch struct {
	endpoint   string
	httpClient *http.Client
}

// NewLogSearch creates a log search client for the given endpoint URL.
func NewLogSearch(endpoint string, logger *slog.Logger) *LogSearch {
	return &LogSearch{
		endpoint:   endpoint,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15*time.Second), httpkit.WithLogger(logger)),
	}
}

// Search returns log lines matching pattern within the last hours.
func (l *LogSearch) Search(ctx context.Context, pattern string, hours int) ([]string, error) {
	if hours <= 0 {
		hours = 1
	}
	q := url.Values{}
	q.Set("pattern", pattern)
	q.Set("timeframe_hours", strconv.Itoa(hours))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("log search request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("log search error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var out struct {
		Logs []string `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return out.Logs, nil
}
