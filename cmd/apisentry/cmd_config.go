package main

// ---------------------------------------------------------------------------
// cmd_config.go — show or initialize configuration
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apisentry-project/apisentry/internal/core"
)

func cmdConfig(args []string) {
	sub := "show"
	if len(args) > 0 {
		switch args[0] {
		case "show", "init", "validate":
			sub = args[0]
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	force := fs.Bool("force", false, "Overwrite an existing config file (init only)")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	switch sub {
	case "init":
		if _, err := os.Stat(*configPath); err == nil && !*force {
			errorf("%s already exists — pass --force to overwrite", *configPath)
		}
		cfg := core.DefaultConfig()
		if err := core.SaveConfig(cfg, *configPath); err != nil {
			errorf("writing config: %v", err)
		}
		fmt.Fprintf(os.Stdout, "%s Wrote starter config to %s\n", green("✓"), *configPath)
		fmt.Fprintf(os.Stdout, "%s Edit it, then start with: apisentry up --config %s\n", dim("▸"), *configPath)

	case "validate":
		cfg, err := core.LoadConfig(*configPath)
		if err != nil {
			errorf("config invalid: %v", err)
		}
		if !cfg.AuthEnabled() {
			warnf("no API keys configured — the management API will be open")
		}
		fmt.Fprintf(os.Stdout, "%s Config valid (%d API versions, store %s)\n",
			green("✓"), len(cfg.Versions.Lifetime), cfg.Store.Driver)

	default: // show
		cfg, err := core.LoadConfig(*configPath)
		if err != nil {
			errorf("loading config: %v", err)
		}
		// Never print credentials.
		cfg.Signing.Secret = ""
		cfg.Server.APIKeys = nil
		cfg.Store.DSN = ""
		data, err := yaml.Marshal(cfg)
		if err != nil {
			errorf("rendering config: %v", err)
		}
		os.Stdout.Write(data)
	}
}
