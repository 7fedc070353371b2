// Package source provides candidate sources for the queue: a search index
// queried over HTTP, and a ranking feed published as RSS or Atom.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// SearchConfig configures a search index query.
type SearchConfig struct {
	// Endpoint is the query URL. "limit" is added to its query string.
	Endpoint string
	// APIKey is sent in APIKeyHeader when non-empty.
	APIKey       string
	APIKeyHeader string
	// Filters are extra query parameters sent verbatim (e.g. sort order).
	Filters map[string]string
}

// Search asks a search index for the top-ranked list IDs.
// The index answers {"hits":[{"objectID":"..."}, ...]}.
type Search struct {
	cfg    SearchConfig
	client *http.Client
}

type searchResponse struct {
	Hits []struct {
		ObjectID string `json:"objectID"`
	} `json:"hits"`
}

// NewSearch creates a Search source. A nil client gets a 30s timeout client.
func NewSearch(cfg SearchConfig, client *http.Client) *Search {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	return &Search{cfg: cfg, client: client}
}

// FetchTopIDs returns up to limit IDs in index order.
func (s *Search) FetchTopIDs(ctx context.Context, limit int) ([]string, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for k, v := range s.cfg.Filters {
		q.Set(k, v)
	}
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set(s.cfg.APIKeyHeader, s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query index: status %d: %s", resp.StatusCode, body)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}
	ids := make([]string, 0, len(sr.Hits))
	for _, h := range sr.Hits {
		if h.ObjectID == "" {
			continue
		}
		ids = append(ids, h.ObjectID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}
