// Package config loads and validates forge's runtime configuration:
// sandbox paths and port range, LLM model/credential settings, per-stage
// timeouts, and persistence connection settings. Loading follows the same
// shape as the orchestrator config it's grounded on: YAML + environment
// variable expansion + defaults merge, then hand-rolled validation.
package config

import "time"

// Config is the fully-resolved, validated runtime configuration.
type Config struct {
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	LLM      LLMConfig      `yaml:"llm"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
	Store    StoreConfig    `yaml:"store"`
	Review   ReviewConfig   `yaml:"review"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// SandboxConfig controls the Docker-compatible sandbox harness.
type SandboxConfig struct {
	HostRoot      string `yaml:"host_root"`
	ContainerRoot string `yaml:"container_root"`
	Image         string `yaml:"image"`
	Workdir       string `yaml:"workdir"`
	PublicHost    string `yaml:"public_host"`
	PortRangeLow  int    `yaml:"port_range_low"`
	PortRangeHigh int    `yaml:"port_range_high"`
	ContainerPort int    `yaml:"container_port"`
}

// LLMConfig holds the LLM endpoint, credentials and model names. cmd/forge
// builds a single client from StructuredModelName and uses it for every
// LLM-backed stage; ReviewerModelName and ImplementerModelName are loaded
// and defaulted but no stage reads them.
type LLMConfig struct {
	BaseURL             string `yaml:"base_url"`
	APIKeyEnv           string `yaml:"api_key_env"`
	StructuredModelName string `yaml:"structured_model_name"`
	ReviewerModelName   string `yaml:"reviewer_model_name"`
	ImplementerModelName string `yaml:"implementer_model_name"`
}

// TimeoutConfig holds per-operation timeout defaults.
type TimeoutConfig struct {
	ContainerInspect time.Duration `yaml:"container_inspect"`
	SandboxWait      time.Duration `yaml:"sandbox_wait"`
	EndpointProbe    time.Duration `yaml:"endpoint_probe"`
	Endpoint         time.Duration `yaml:"endpoint"`
	Stage            time.Duration `yaml:"stage"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // "postgres" or "memory"
	DSN          string `yaml:"dsn"`
	BlobRoot     string `yaml:"blob_root"`
	MigrationDir string `yaml:"migration_dir"`
}

// ReviewConfig controls the review loop's iteration budget and the
// minimum security score a review must report before a run is approved.
type ReviewConfig struct {
	MaxReviewIterations int `yaml:"max_review_iterations"`
	MinSecurityScore    int `yaml:"min_security_score"`
}

// HTTPConfig controls the minimal Gin health/run-trigger surface.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}
