package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

const minimal = `
database:
  driver: memory
sandbox:
  baseURL: http://sandbox:8000
scanWorker:
  baseURL: http://worker:9000
callbackBaseURL: https://api.example.com/
auth:
  apiKeys:
    u-1: key-1
  webhookSecret: s3cret
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 30*time.Second, cfg.ScanWorker.Timeout)
	assert.Equal(t, 2, cfg.ScanWorker.MaxRetries)
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, cfg.ScanWorker.RetryDelays)
	assert.Equal(t, 5, cfg.ScanWorker.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.ScanWorker.Breaker.Cooldown)

	assert.Equal(t, 10*time.Minute, cfg.Sandbox.Timeout)
	assert.Equal(t, 2, cfg.Sandbox.MaxRetries)
	assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second}, cfg.Sandbox.RetryDelays)
	assert.Equal(t, 5, cfg.Sandbox.Breaker.FailureThreshold)

	assert.Equal(t, RateLimit{MaxRequests: 10, Window: time.Minute}, cfg.RateLimits.AnalysisStart)
	assert.Equal(t, "free", cfg.Plans.Default)

	limits, err := cfg.PlanLimits()
	require.NoError(t, err)
	require.Len(t, limits, 1)
	assert.Equal(t, int64(512<<20), limits[0].ContainerMemoryLimit)

	assert.Equal(t, "https://api.example.com/v1/webhooks/analyses/a-1", cfg.CallbackURL("a-1"))
}

func TestParse_FullFile(t *testing.T) {
	data := `
server:
  port: 9090
  corsOrigins: ["https://app.example.com"]
database:
  driver: memory
sandbox:
  baseURL: http://sandbox:8000
scanWorker:
  baseURL: http://worker:9000
  timeout: 10s
  maxRetries: 3
  retryDelays: [1s, 2s, 4s]
  breaker:
    failureThreshold: 3
    cooldown: 30s
callbackBaseURL: https://api.example.com
auth:
  apiKeys:
    u-1: key-1
  webhookSecret: s3cret
rateLimits:
  webhook:
    maxRequests: 5
    window: 10s
plans:
  default: pro
  items:
    - name: free
      monthlyLimit: 10
      concurrentLimit: 1
      containerMemory: 512 MiB
    - name: pro
      monthlyLimit: -1
      concurrentLimit: 5
      containerMemory: 2 GiB
      containerCPU: 2
      containerPids: 512
  subscriptions:
    u-1: pro
`

	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.ScanWorker.Timeout)
	assert.Equal(t, 3, cfg.ScanWorker.MaxRetries)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, cfg.ScanWorker.RetryDelays)
	assert.Equal(t, 3, cfg.ScanWorker.Breaker.FailureThreshold)
	assert.Equal(t, RateLimit{MaxRequests: 5, Window: 10 * time.Second}, cfg.RateLimits.Webhook)
	assert.Equal(t, "pro", cfg.Plans.Subscriptions["u-1"])

	limits, err := cfg.PlanLimits()
	require.NoError(t, err)
	require.Len(t, limits, 2)
	assert.Equal(t, domain.PlanLimits{
		Plan:                 "pro",
		MonthlyLimit:         domain.Unlimited,
		ConcurrentLimit:      5,
		ContainerMemoryLimit: 2 << 30,
		ContainerCPULimit:    2,
		ContainerPidsLimit:   512,
	}, limits[1])
}

func TestParse_ZeroRetriesKept(t *testing.T) {
	data := `
database:
  driver: memory
sandbox:
  baseURL: http://sandbox:8000
  maxRetries: 0
scanWorker:
  baseURL: http://worker:9000
  maxRetries: 0
callbackBaseURL: https://api.example.com/
auth:
  apiKeys:
    u-1: key-1
  webhookSecret: s3cret
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Sandbox.MaxRetries)
	assert.Equal(t, 0, cfg.ScanWorker.MaxRetries)
	// the rest of the policy still defaults
	assert.Equal(t, 10*time.Minute, cfg.Sandbox.Timeout)
	assert.Equal(t, 30*time.Second, cfg.ScanWorker.Timeout)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "from-env")
	t.Setenv("SCAN_WORKER_API_KEY", "worker-key")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.WebhookSecret)
	assert.Equal(t, "worker-key", cfg.ScanWorker.APIKey)
	assert.Equal(t, "pw", cfg.Database.Password)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown field", minimal + "bogus: 1\n", "field bogus not found"},
		{"unknown driver", "database:\n  driver: oracle\n", "unknown database.driver"},
		{"mysql needs host", "database:\n  driver: mysql\n", "database.host and database.name are required"},
		{"missing workers", "database:\n  driver: memory\n", "sandbox.baseURL is required"},
		{"bad memory size", minimal + "plans:\n  items:\n    - name: x\n      containerMemory: lots\n", "containerMemory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
