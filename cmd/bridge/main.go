package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/throw-if-null/bridge/internal/config"
	"github.com/throw-if-null/bridge/internal/executor"
	"github.com/throw-if-null/bridge/internal/gate"
	"github.com/throw-if-null/bridge/internal/gateway"
	"github.com/throw-if-null/bridge/internal/session"
	"github.com/throw-if-null/bridge/internal/telemetry"
	"github.com/throw-if-null/bridge/internal/version"
)

func main() {
	// .env is optional and silently absent in most deployments; only a
	// checked-in local file benefits from it, same as the teacher's use
	// of godotenv ahead of its own config.Load.
	_ = godotenv.Load()

	cfgPath := os.Getenv("BRIDGE_CONFIG_FILE")
	cfg, loadResult, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if loadResult.ParseError != nil {
		log.Printf("warning: config file %s present but unparsable: %v", loadResult.FilePath, loadResult.ParseError)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data directory %s: %v", cfg.DataDir, err)
	}

	store := session.New(cfg.DataDir)
	if err := store.MarkAbortedOnStartup(); err != nil {
		log.Fatalf("failed to reconcile in-flight sessions: %v", err)
	}

	gt := gate.New()
	srv := gateway.NewServer(store, gt, &executor.RealRunner{}, cfg)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:    "bridge",
			ServiceVersion: version.Version,
			OTLPEndpoint:   cfg.OTLPEndpoint,
		})
		if err != nil {
			log.Printf("warning: telemetry init failed: %v", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ListenPort)
	log.Printf("bridge %s (%s) listening on http://%s", version.Version, version.Commit, addr)
	log.Fatal(http.ListenAndServe(addr, srv.Handler()))
}
