package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		CORSOrigins     []string      `yaml:"corsOrigins"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Database struct {
		Driver      string `yaml:"driver"`
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		User        string `yaml:"user"`
		Password    string `yaml:"password"`
		Name        string `yaml:"name"`
		SSLMode     string `yaml:"sslmode"`
		Path        string `yaml:"path"`
		AutoMigrate bool   `yaml:"autoMigrate"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseURL"`
	} `yaml:"openai"`

	Auth struct {
		// APIKeys maps user id to that user's API key.
		APIKeys map[string]string `yaml:"apiKeys"`
		// Admins may view and reset circuit breakers.
		Admins        []string `yaml:"admins"`
		WebhookSecret string   `yaml:"webhookSecret"`
	} `yaml:"auth"`

	// CallbackBaseURL is the public base URL workers call back on.
	CallbackBaseURL string `yaml:"callbackBaseURL"`

	Sandbox    Remote `yaml:"sandbox"`
	ScanWorker Remote `yaml:"scanWorker"`

	RateLimits struct {
		AnalysisStart RateLimit `yaml:"analysisStart"`
		Webhook       RateLimit `yaml:"webhook"`
	} `yaml:"rateLimits"`

	Plans Plans `yaml:"plans"`
}

// Remote configures one downstream worker and the policy for calling it.
type Remote struct {
	BaseURL     string          `yaml:"baseURL"`
	APIKey      string          `yaml:"apiKey"`
	Timeout     time.Duration   `yaml:"timeout"`
	MaxRetries  int             `yaml:"maxRetries"`
	RetryDelays []time.Duration `yaml:"retryDelays"`
	Breaker     struct {
		FailureThreshold int           `yaml:"failureThreshold"`
		Cooldown         time.Duration `yaml:"cooldown"`
	} `yaml:"breaker"`
}

type RateLimit struct {
	MaxRequests int           `yaml:"maxRequests"`
	Window      time.Duration `yaml:"window"`
}

// Plans is the subscription catalog. Subscriptions assigns plans to users
// when no subscription table is available.
type Plans struct {
	Default       string            `yaml:"default"`
	Items         []Plan            `yaml:"items"`
	Subscriptions map[string]string `yaml:"subscriptions"`
}

// Plan limits; ContainerMemory is a human size such as "512 MiB". Use -1
// for unlimited counts.
type Plan struct {
	Name            string  `yaml:"name"`
	MonthlyLimit    int     `yaml:"monthlyLimit"`
	ConcurrentLimit int     `yaml:"concurrentLimit"`
	ContainerMemory string  `yaml:"containerMemory"`
	ContainerCPU    float64 `yaml:"containerCPU"`
	ContainerPids   int     `yaml:"containerPids"`
}

// Load baca file config.yaml, apply env overrides and defaults, then
// validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	// remote policies are pre-filled so absent keys keep their defaults and
	// an explicit maxRetries: 0 turns retries off
	cfg := Config{
		ScanWorker: defaultRemote(scanWorkerTimeout, 2, 2*time.Second, 5*time.Second),
		Sandbox:    defaultRemote(sandboxTimeout, 2, 5*time.Second, 15*time.Second),
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty file decodes to defaults
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets dari env
func (c *Config) applyEnv() {
	envs := []struct {
		key string
		dst *string
	}{
		{"DB_PASSWORD", &c.Database.Password},
		{"OPENAI_API_KEY", &c.OpenAI.APIKey},
		{"WEBHOOK_SECRET", &c.Auth.WebhookSecret},
		{"SANDBOX_API_KEY", &c.Sandbox.APIKey},
		{"SCAN_WORKER_API_KEY", &c.ScanWorker.APIKey},
		{"MINIO_SECRET_KEY", &c.Minio.SecretKey},
	}
	for _, e := range envs {
		if v := os.Getenv(e.key); v != "" {
			*e.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMySQL
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case DriverMySQL:
			c.Database.Port = 3306
		case DriverPostgres:
			c.Database.Port = 5432
		}
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/pipeline.db"
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}

	c.ScanWorker.defaults(scanWorkerTimeout, []time.Duration{2 * time.Second, 5 * time.Second})
	c.Sandbox.defaults(sandboxTimeout, []time.Duration{5 * time.Second, 15 * time.Second})

	if c.RateLimits.AnalysisStart == (RateLimit{}) {
		c.RateLimits.AnalysisStart = RateLimit{MaxRequests: 10, Window: time.Minute}
	}
	if c.RateLimits.Webhook == (RateLimit{}) {
		c.RateLimits.Webhook = RateLimit{MaxRequests: 120, Window: time.Minute}
	}

	if len(c.Plans.Items) == 0 {
		c.Plans.Items = []Plan{{
			Name:            "free",
			MonthlyLimit:    10,
			ConcurrentLimit: 1,
			ContainerMemory: "512 MiB",
			ContainerCPU:    0.5,
			ContainerPids:   128,
		}}
	}
	if c.Plans.Default == "" {
		c.Plans.Default = c.Plans.Items[0].Name
	}
}

// Per-attempt timeouts. Sandbox image builds routinely take minutes.
const (
	scanWorkerTimeout = 30 * time.Second
	sandboxTimeout    = 10 * time.Minute
)

func defaultRemote(timeout time.Duration, retries int, delays ...time.Duration) Remote {
	r := Remote{Timeout: timeout, MaxRetries: retries, RetryDelays: delays}
	r.Breaker.FailureThreshold = 5
	r.Breaker.Cooldown = 60 * time.Second
	return r
}

// defaults repairs non-positive values. MaxRetries is left alone: zero is a
// valid setting.
func (r *Remote) defaults(timeout time.Duration, delays []time.Duration) {
	if r.Timeout <= 0 {
		r.Timeout = timeout
	}
	if len(r.RetryDelays) == 0 {
		r.RetryDelays = delays
	}
	if r.Breaker.FailureThreshold <= 0 {
		r.Breaker.FailureThreshold = 5
	}
	if r.Breaker.Cooldown <= 0 {
		r.Breaker.Cooldown = 60 * time.Second
	}
}

// Validate checks required settings after defaults are applied.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver))
		}
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Sandbox.BaseURL == "" {
		errs = append(errs, errors.New("sandbox.baseURL is required"))
	}
	if c.ScanWorker.BaseURL == "" {
		errs = append(errs, errors.New("scanWorker.baseURL is required"))
	}
	if c.CallbackBaseURL == "" {
		errs = append(errs, errors.New("callbackBaseURL is required"))
	}
	if c.Auth.WebhookSecret == "" {
		errs = append(errs, errors.New("auth.webhookSecret is required"))
	}
	if len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth.apiKeys must list at least one user"))
	}
	for _, r := range []struct {
		name string
		r    Remote
	}{{"sandbox", c.Sandbox}, {"scanWorker", c.ScanWorker}} {
		if r.r.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.maxRetries must not be negative", r.name))
		}
	}
	if _, err := c.PlanLimits(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PlanLimits converts the plan catalog into domain limits.
func (c *Config) PlanLimits() ([]domain.PlanLimits, error) {
	out := make([]domain.PlanLimits, 0, len(c.Plans.Items))
	for _, p := range c.Plans.Items {
		var mem uint64
		if strings.TrimSpace(p.ContainerMemory) != "" {
			b, err := humanize.ParseBytes(p.ContainerMemory)
			if err != nil {
				return nil, fmt.Errorf("plan %s: containerMemory: %w", p.Name, err)
			}
			mem = b
		}
		out = append(out, domain.PlanLimits{
			Plan:                 p.Name,
			MonthlyLimit:         p.MonthlyLimit,
			ConcurrentLimit:      p.ConcurrentLimit,
			ContainerMemoryLimit: int64(mem),
			ContainerCPULimit:    p.ContainerCPU,
			ContainerPidsLimit:   p.ContainerPids,
		})
	}
	return out, nil
}

// CallbackURL is where workers report progress for analysis id.
func (c *Config) CallbackURL(id domain.AnalysisID) string {
	return strings.TrimRight(c.CallbackBaseURL, "/") + "/v1/webhooks/analyses/" + string(id)
}
