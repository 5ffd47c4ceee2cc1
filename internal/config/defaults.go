package config

import "time"

// Defaults returns the built-in configuration, applied before any YAML
// override. Every field here has a concrete, usable value — nothing but
// LLM credentials is required to start the pipeline.
func Defaults() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			HostRoot:      ".sandbox_data",
			ContainerRoot: "/workspace",
			Image:         "python:3.12-slim",
			Workdir:       "/workspace",
			PublicHost:    "127.0.0.1",
			PortRangeLow:  18000,
			PortRangeHigh: 18999,
			ContainerPort: 9000,
		},
		LLM: LLMConfig{
			BaseURL:              "https://api.openai.com/v1",
			APIKeyEnv:            "FORGE_LLM_API_KEY",
			StructuredModelName:  "gpt-4.1",
			ReviewerModelName:    "gpt-4.1",
			ImplementerModelName: "gpt-4.1",
		},
		Timeouts: TimeoutConfig{
			ContainerInspect: 10 * time.Second,
			SandboxWait:      30 * time.Second,
			EndpointProbe:    10 * time.Second,
			Endpoint:         5 * time.Second,
			Stage:            120 * time.Second,
		},
		Store: StoreConfig{
			Driver:       "memory",
			BlobRoot:     ".forge_blobs",
			MigrationDir: "migrations",
		},
		Review: ReviewConfig{
			MaxReviewIterations: 3,
			MinSecurityScore:    7,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
	}
}
