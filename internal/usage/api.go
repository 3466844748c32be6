// Package usage talks to the OpenAI billing API for spend and credit
// figures, verifies API keys, and summarizes spending trends.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultBaseURL = "https://api.openai.com"

// Client calls the OpenAI API with a fixed key.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a billing API client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Summary holds the spend and credit figures shown in the usage panel.
type Summary struct {
	TotalSpent       float64 // dollars over the requested window
	CreditsTotal     float64
	CreditsRemaining float64
	PctCreditsUsed   float64
}

// VerifyKey checks that the API key is accepted. A failure carries the
// response body so the user sees what the API said.
func (c *Client) VerifyKey(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key not provided")
	}
	status, body, err := c.get(ctx, "/v1/models", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("API key validation failed: %d %s", status, body)
	}
	return nil
}

// FetchUsage returns spending over the last days and the current credit
// grants. The two billing endpoints are queried concurrently.
func (c *Client) FetchUsage(ctx context.Context, days int) (*Summary, error) {
	if days <= 0 {
		days = 30
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	var summary Summary

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		params := url.Values{
			"start_date": {start.Format("2006-01-02")},
			"end_date":   {end.Format("2006-01-02")},
		}
		var resp struct {
			TotalUsage float64 `json:"total_usage"` // cents
		}
		if err := c.getJSON(ctx, "/v1/dashboard/billing/usage", params, &resp); err != nil {
			return err
		}
		summary.TotalSpent = resp.TotalUsage / 100.0
		return nil
	})
	g.Go(func() error {
		var resp struct {
			TotalGranted   float64 `json:"total_granted"`
			TotalUsed      float64 `json:"total_used"`
			TotalAvailable float64 `json:"total_available"`
		}
		if err := c.getJSON(ctx, "/v1/dashboard/billing/credit_grants", nil, &resp); err != nil {
			return err
		}
		summary.CreditsTotal = resp.TotalGranted
		summary.CreditsRemaining = resp.TotalAvailable
		if resp.TotalGranted > 0 {
			summary.PctCreditsUsed = resp.TotalUsed / resp.TotalGranted * 100
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &summary, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (int, string, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	status, body, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, status, body)
	}
	return json.Unmarshal([]byte(body), out)
}
