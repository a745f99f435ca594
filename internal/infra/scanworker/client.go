// Package scanworker is the HTTP adapter for the remote scan worker. Both
// triggers return as soon as the worker accepted the job; progress comes
// back later through the webhook endpoint.
package scanworker

import (
	"context"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/httpclient"
)

const (
	staticPath  = "/scans/static"
	dynamicPath = "/scans/dynamic"
)

// Client implements analyses.ScanWorker.
type Client struct {
	http *httpclient.Client
}

func NewClient(baseURL, apiKey string, opts ...httpclient.Option) *Client {
	return &Client{http: httpclient.New(baseURL, apiKey, opts...)}
}

func (c *Client) TriggerStaticAnalysis(ctx context.Context, req domain.StaticScanRequest) error {
	return c.http.PostJSON(ctx, staticPath, req, nil)
}

func (c *Client) TriggerDynamicScan(ctx context.Context, req domain.DynamicScanRequest) error {
	return c.http.PostJSON(ctx, dynamicPath, req, nil)
}
