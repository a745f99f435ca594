// Package sandbox is the HTTP adapter for the sandbox-execution service,
// which builds isolated environments from a repository or inline build
// files.
package sandbox

import (
	"context"
	"fmt"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/httpclient"
	"github.com/bryanwahyu/automaton-pipeline/internal/resilience"
)

const environmentsPath = "/environments"

// Client implements analyses.SandboxClient.
type Client struct {
	http *httpclient.Client
}

func NewClient(baseURL, apiKey string, opts ...httpclient.Option) *Client {
	return &Client{http: httpclient.New(baseURL, apiKey, opts...)}
}

// CreateEnvironment asks the service to build and start an environment.
// The response must name the environment; target_url and network_name are
// optional.
func (c *Client) CreateEnvironment(ctx context.Context, req domain.SandboxRequest) (domain.SandboxEnvironment, error) {
	var env domain.SandboxEnvironment
	if err := c.http.PostJSON(ctx, environmentsPath, req, &env); err != nil {
		return domain.SandboxEnvironment{}, err
	}
	if env.EnvironmentID == "" {
		return domain.SandboxEnvironment{}, resilience.Permanent(fmt.Errorf("sandbox service returned no environment_id"))
	}
	return env, nil
}
