// Package presencedsdk is the typed HTTP client for the presenced API.
package presencedsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/xerrors"
)

// New creates a client for the presenced API at serverURL.
func New(serverURL *url.URL) *Client {
	return &Client{
		URL:        serverURL,
		HTTPClient: &http.Client{},
	}
}

// Client interacts with the presenced HTTP API.
type Client struct {
	URL        *url.URL
	HTTPClient *http.Client
	// APIKey authorizes the sweep trigger endpoint.
	APIKey string
}

// Request performs a HTTP request against the API. The caller is responsible
// for closing the response body.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	serverURL, err := c.URL.Parse(path)
	if err != nil {
		return nil, xerrors.Errorf("parse url: %w", err)
	}
	if query != nil {
		serverURL.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, serverURL.String(), nil)
	if err != nil {
		return nil, xerrors.Errorf("create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("do request: %w", err)
	}
	return resp, nil
}

// Error is an unexpected status code from the API with the decoded body
// message when one was present.
type Error struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Message)
}

func readBodyAsError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiErr
	}
	var decoded struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		apiErr.Message = decoded.Message
		apiErr.Detail = decoded.Detail
	}
	return apiErr
}
