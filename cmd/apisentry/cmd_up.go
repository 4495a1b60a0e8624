package main

// ---------------------------------------------------------------------------
// cmd_up.go — start the apisentry engine
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/apisentry-project/apisentry/internal/api"
	"github.com/apisentry-project/apisentry/internal/core"
	"github.com/apisentry-project/apisentry/internal/engine"
)

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	quiet := fs.Bool("quiet", false, "Suppress banner and non-essential output")
	fs.BoolVar(quiet, "q", false, "Suppress banner and non-essential output")
	noColor := fs.Bool("no-color", false, "Disable color output")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}

	if !*quiet {
		fmt.Fprint(os.Stderr, bannerText())
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if !cfg.AuthEnabled() && !*quiet {
		fmt.Fprintf(os.Stderr, "%s No API keys configured — the management API is open.\n", yellow("⚠"))
		fmt.Fprintf(os.Stderr, "    Set api_keys in config or the APISENTRY_API_KEY env var.\n")
	}

	eng, err := engine.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s Starting apisentry engine...\n", dim("▸"))
	}

	srv := api.NewServer(eng)
	if err := srv.Start(); err != nil {
		errorf("starting API server: %v", err)
	}

	if !*quiet {
		signing := dim("off")
		if cfg.Signing.Enabled {
			signing = green("on")
		}
		testing := dim("off")
		if cfg.Testing.Enabled {
			testing = green("on")
		}
		fmt.Fprintf(os.Stderr, "%s apisentry running — API on :%d, signing %s, testing %s, store %s\n",
			green("✓"), cfg.Server.Port, signing, testing, cfg.Store.Driver)
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))
	}

	// Blocks until SIGINT or SIGTERM, then shuts the engine down.
	if err := eng.Run(); err != nil {
		srv.Stop()
		errorf("starting engine: %v", err)
	}

	srv.Stop()

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s apisentry stopped.\n", green("✓"))
	}
}
