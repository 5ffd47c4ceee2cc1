// forge runs the backend-code-generation pipeline behind a minimal HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/tarsy-labs/forge/internal/config"
	"github.com/tarsy-labs/forge/internal/httpapi"
	"github.com/tarsy-labs/forge/internal/store"
	"github.com/tarsy-labs/forge/pkg/implementer"
	"github.com/tarsy-labs/forge/pkg/llmagent/httpclient"
	"github.com/tarsy-labs/forge/pkg/pipeline"
	"github.com/tarsy-labs/forge/pkg/sandbox"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("FORGE_CONFIG_DIR", "."), "Directory containing forge.yaml")
	envPath := flag.String("env-file", getEnv("FORGE_ENV_FILE", ".env"), "Path to an .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("warning: could not load %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()

	pipelineStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}
	defer closeStore()

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		log.Printf("warning: %s is not set; LLM calls will fail until it is", cfg.LLM.APIKeyEnv)
	}
	llmClient := httpclient.New(cfg.LLM.BaseURL, apiKey, cfg.LLM.StructuredModelName)

	deps := pipeline.Deps{
		LLM:         llmClient,
		Implementer: implementer.New(&implementer.LLMImplementer{Client: llmClient}),
		Harness:     sandbox.New(cfg.Sandbox),
		Store:       pipelineStore,
		Timeouts:    cfg.Timeouts,
	}

	server := httpapi.New(deps, cfg.Review)

	watcher, err := config.Watch(*configDir, func(reloaded *config.Config) {
		server.SetReview(reloaded.Review)
	})
	if err != nil {
		log.Printf("warning: config hot-reload disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	log.Printf("forge listening on %s", cfg.HTTP.ListenAddr)
	if err := server.Router().Run(cfg.HTTP.ListenAddr); err != nil {
		log.Fatalf("http server stopped: %v", err)
	}
}

// buildStore selects the memory or postgres backend per cfg.Store.Driver,
// returning a cleanup func that's always safe to defer.
func buildStore(ctx context.Context, cfg *config.Config) (pipeline.Store, func(), error) {
	noop := func() {}

	switch cfg.Store.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, store.PostgresConfig{
			DSN:      cfg.Store.DSN,
			BlobRoot: cfg.Store.BlobRoot,
		})
		if err != nil {
			return nil, noop, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		blobRoot := cfg.Store.BlobRoot
		if blobRoot == "" {
			blobRoot = filepath.Join(os.TempDir(), "forge_blobs")
		}
		mem, err := store.NewMemory(blobRoot)
		if err != nil {
			return nil, noop, err
		}
		return mem, noop, nil
	}
}
