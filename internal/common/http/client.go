// Package http wraps the standard HTTP client with the fixed per-request
// timeout applied to every outbound inference call. Cancellation rides on the
// request context the callers build with http.NewRequestWithContext.
package http

import (
	"net/http"
	"time"
)

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}
