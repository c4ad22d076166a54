// Package httpclient is a small JSON client for the progress API.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// Client wraps http.Client with bearer auth and JSON helpers.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{}}
}

// Do sends body as JSON and decodes a 2xx response into out. Non-2xx
// responses are returned together with an error holding the body.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body, out any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode/100 != 2 {
		return resp, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil && len(data) > 0 {
		if err := sonic.Unmarshal(data, out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// GetJSON issues a GET request and decodes the JSON response.
func (c *Client) GetJSON(ctx context.Context, path string, out any) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, nil, out)
}

// PostJSON issues a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, headers map[string]string, body, out any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, headers, body, out)
}

// PutJSON issues a PUT request with a JSON body.
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}
