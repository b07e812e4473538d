// MechAI - voice-guided maintenance assistant.
// Walks a technician through a procedure by voice, answering questions
// with a language model and checking the work through the camera.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvegas03/MechAI/internal/config"
	"github.com/dvegas03/MechAI/internal/log"
	"github.com/dvegas03/MechAI/pkg/app"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg)

	log.Setup(log.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON})
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if err := a.Init(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		a.Shutdown()
		os.Exit(1)
	}
}

// applyFlags overrides environment configuration with command-line flags.
func applyFlags(cfg *config.Config) {
	debug := flag.Bool("debug", false, "Enable debug logging")
	addr := flag.String("addr", cfg.HTTPAddr, "Dashboard listen address")
	procedure := flag.String("procedure", cfg.ProcedureFile, "Procedure script (YAML or JSON)")
	provider := flag.String("provider", cfg.Provider, "Reasoning provider: openai, gemini, chain")
	noCamera := flag.Bool("no-camera", !cfg.CameraEnabled, "Run without camera and detector")
	autoStart := flag.Duration("auto-start", cfg.AutoStartDelay, "Start the conversation after this delay (0 waits for POST /api/start)")
	static := flag.String("static", cfg.StaticDir, "Directory served at /")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.HTTPAddr = *addr
	cfg.ProcedureFile = *procedure
	cfg.Provider = *provider
	cfg.CameraEnabled = !*noCamera
	cfg.AutoStartDelay = *autoStart
	cfg.StaticDir = *static
}
