package presencedsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

// ActivityDay is one day of a subject's ledger history.
type ActivityDay struct {
	ActivityDate   time.Time  `json:"activity_date"`
	Messaged       bool       `json:"messaged"`
	FirstMessageAt *time.Time `json:"first_message_at,omitempty"`
}

// Report is a subject's current streaks plus its bounded daily history,
// most recent first. Dates with no stored entry are absent.
type Report struct {
	GroupID       string        `json:"group_id"`
	SubjectID     string        `json:"subject_id"`
	SuccessStreak int32         `json:"success_streak"`
	FailureStreak int32         `json:"failure_streak"`
	History       []ActivityDay `json:"history"`
}

// Report fetches the activity report for a subject. days of zero selects the
// server's default window.
func (c *Client) Report(ctx context.Context, groupID, subjectID string, days int) (Report, error) {
	query := url.Values{}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}
	path := fmt.Sprintf("/api/v1/groups/%s/subjects/%s/report",
		url.PathEscape(groupID), url.PathEscape(subjectID))
	res, err := c.Request(ctx, http.MethodGet, path, query)
	if err != nil {
		return Report{}, xerrors.Errorf("execute request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return Report{}, readBodyAsError(res)
	}
	var report Report
	return report, json.NewDecoder(res.Body).Decode(&report)
}
