package presencedsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/xerrors"
)

// SweepFailure identifies a subject newly marked failed by a sweep.
type SweepFailure struct {
	GroupID       string `json:"group_id"`
	SubjectID     string `json:"subject_id"`
	Handle        string `json:"handle,omitempty"`
	FailureStreak int32  `json:"failure_streak"`
}

// SweepResponse summarizes one externally triggered sweep.
type SweepResponse struct {
	Timestamp   time.Time      `json:"timestamp"`
	Checked     int            `json:"checked_count"`
	NewlyFailed int            `json:"newly_failed_count"`
	Failures    []SweepFailure `json:"failures"`
}

// Sweep triggers a sweep for the current activity date. The client's APIKey
// must match the server's configured key.
func (c *Client) Sweep(ctx context.Context) (SweepResponse, error) {
	query := url.Values{"api_key": []string{c.APIKey}}
	res, err := c.Request(ctx, http.MethodPost, "/api/v1/sweep", query)
	if err != nil {
		return SweepResponse{}, xerrors.Errorf("execute request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return SweepResponse{}, readBodyAsError(res)
	}
	var sweep SweepResponse
	return sweep, json.NewDecoder(res.Body).Decode(&sweep)
}
