package analyses

import "context"

// SandboxRequest untuk sandbox service
type SandboxRequest struct {
	AnalysisID        AnalysisID `json:"analysis_id"`
	RepositoryURL     string     `json:"repository_url,omitempty"`
	Branch            string     `json:"branch,omitempty"`
	DockerfileContent string     `json:"dockerfile_content,omitempty"`
	ComposeContent    string     `json:"compose_content,omitempty"`

	ContainerMemoryLimit int64   `json:"container_memory_limit"`
	ContainerCPULimit    float64 `json:"container_cpu_limit"`
	ContainerPidsLimit   int     `json:"container_pids_limit"`
}

// SandboxEnvironment hasil dari sandbox service
type SandboxEnvironment struct {
	EnvironmentID string  `json:"environment_id"`
	TargetURL     *string `json:"target_url"`
	NetworkName   *string `json:"network_name"`
}

// SandboxClient port (interface untuk sandbox-execution service)
type SandboxClient interface {
	CreateEnvironment(ctx context.Context, req SandboxRequest) (SandboxEnvironment, error)
}

// StaticScanRequest triggers SAST on the scan worker.
type StaticScanRequest struct {
	AnalysisID    AnalysisID `json:"analysis_id"`
	CallbackURL   string     `json:"callback_url"`
	RepositoryURL string     `json:"repository_url"`
	Branch        string     `json:"branch,omitempty"`
}

// DynamicScanRequest triggers DAST against a running sandbox.
type DynamicScanRequest struct {
	AnalysisID  AnalysisID `json:"analysis_id"`
	CallbackURL string     `json:"callback_url"`
	TargetURL   string     `json:"target_url"`
	NetworkName string     `json:"network_name,omitempty"`
}

// ScanWorker port (interface untuk scan-worker service)
type ScanWorker interface {
	TriggerStaticAnalysis(ctx context.Context, req StaticScanRequest) error
	TriggerDynamicScan(ctx context.Context, req DynamicScanRequest) error
}

// ReportArchive port (interface untuk penyimpanan report)
type ReportArchive interface {
	PutReport(ctx context.Context, id AnalysisID, kind string, body []byte) (string, error)
}
