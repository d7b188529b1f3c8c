package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/logger"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the HTTP wrapper adapters compose: it reads bodies, classifies failures
// through the provider's error table and logs each step.
type Client struct {
	provider string
	http     Doer
	table    ErrorTable
}

func NewClient(provider string, doer Doer, table ErrorTable) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{provider: provider, http: doer, table: table}
}

// Do sends req and returns the response body. Non-2xx answers become *ProviderError.
func (c *Client) Do(req *http.Request, step string) ([]byte, error) {
	lg := logger.GetLogger().WithField("provider", c.provider).WithField("step", step)
	resp, err := c.http.Do(req)
	if err != nil {
		lg.WithField("error", err).Warn("provider request failed")
		return nil, fmt.Errorf("%s %s: %w", c.provider, step, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", c.provider, step, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{
			Provider:       c.provider,
			Step:           step,
			StatusCode:     resp.StatusCode,
			Body:           string(body),
			Classification: c.table.Classify(string(body)),
		}
		lg.WithField("status", resp.StatusCode).WithField("kind", perr.Classification.Kind).Warn("provider returned an error")
		return nil, perr
	}
	lg.WithField("status", resp.StatusCode).Debug("provider request done")
	return body, nil
}

// JSON sends payload (if any) as JSON and decodes the answer into out (if non-nil).
func (c *Client) JSON(ctx context.Context, method, url string, payload interface{}, headers map[string]string, step string, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s %s: encode payload: %w", c.provider, step, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	raw, err := c.Do(req, step)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.provider, step, err)
	}
	return nil
}

// Download fetches a media asset so it can be re-uploaded as a binary stream.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Classify exposes the table so adapters can implement ClassifyError by delegation.
func (c *Client) Classify(body string) model.Classification {
	return c.table.Classify(body)
}
