package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPScorer delegates scoring to a remote model service. It POSTs
// {"features": [[oee, downtime, output], ...], "contamination": c} to
// <base>/score and expects {"labels": [...], "scores": [...]} back.
type HTTPScorer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPScorer creates an HTTPScorer. A zero timeout defaults to 30s.
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		endpoint:   strings.TrimRight(baseURL, "/") + "/score",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Features      []Feature `json:"features"`
	Contamination float64   `json:"contamination"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, features []Feature, contamination float64) (*Result, error) {
	if err := validContamination(contamination); err != nil {
		return nil, err
	}

	b, err := json.Marshal(scoreRequest{Features: features, Contamination: contamination})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call scoring service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read score response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scoring service returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if err := res.check(len(features)); err != nil {
		return nil, err
	}
	return &res, nil
}
