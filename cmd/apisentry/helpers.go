package main

// ---------------------------------------------------------------------------
// helpers.go — TTY detection, color, error helpers, env-based config
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/apisentry-project/apisentry/internal/core"
)

// ---------------------------------------------------------------------------
// TTY / color helpers
// ---------------------------------------------------------------------------

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

var colorEnabled = sync.OnceValue(func() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("TERM") == "dumb":
		return false
	}
	return isTTY(os.Stderr)
})

func ansi(code, s string) string {
	if colorEnabled() {
		return code + s + "\033[0m"
	}
	return s
}

func red(s string) string    { return ansi("\033[91m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func green(s string) string  { return ansi("\033[32m", s) }
func dim(s string) string    { return ansi("\033[90m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

// ---------------------------------------------------------------------------
// Error / warn helpers (always to stderr)
// ---------------------------------------------------------------------------

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Env-based configuration
//
// Environment variables:
//   APISENTRY_CONFIG  — default config file path
//   APISENTRY_HOST    — API host override
//   APISENTRY_PORT    — API port override
//   APISENTRY_API_KEY — API key for authentication
// ---------------------------------------------------------------------------

const defaultConfigPath = "configs/default.yaml"

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" && flagVal != defaultConfigPath {
		return flagVal
	}
	if e := os.Getenv("APISENTRY_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

// envHost returns the host, preferring flag > env.
func envHost(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv("APISENTRY_HOST")
}

// envPort returns the port, preferring flag > env.
func envPort(flagVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	p, err := strconv.Atoi(os.Getenv("APISENTRY_PORT"))
	if err != nil {
		return 0
	}
	return p
}

// ---------------------------------------------------------------------------
// API base resolution
// ---------------------------------------------------------------------------

// apiBase builds the base URL of a running instance: config file values,
// then APISENTRY_HOST/PORT via the flag defaults, then flag overrides.
func apiBase(configPath, hostOverride string, portOverride int) string {
	host, port := "127.0.0.1", 1790

	if cfg, err := core.LoadConfig(configPath); err == nil && cfg != nil {
		if h := cfg.Server.Host; h != "" && h != "0.0.0.0" {
			host = h
		}
		if cfg.Server.Port != 0 {
			port = cfg.Server.Port
		}
	}
	if hostOverride != "" {
		host = hostOverride
	}
	if portOverride != 0 {
		port = portOverride
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// resolveAPIKey returns the API key from flag, env, or config (in that order).
func resolveAPIKey(flagKey, configPath string) string {
	if flagKey != "" {
		return flagKey
	}
	if envKey := os.Getenv("APISENTRY_API_KEY"); envKey != "" {
		return envKey
	}
	if cfg, err := core.LoadConfig(configPath); err == nil && cfg != nil && len(cfg.Server.APIKeys) > 0 {
		return cfg.Server.APIKeys[0]
	}
	return ""
}

// ---------------------------------------------------------------------------
// Suggest — typo correction for unknown commands
// ---------------------------------------------------------------------------

var commandNames = []string{"up", "stop", "status", "alerts", "logs", "export",
	"sign", "test", "config", "version", "help"}

// suggest proposes a known command for a mistyped one: a prefix match in
// either direction wins, then a same-length name one character off.
func suggest(input string) string {
	input = strings.ToLower(input)
	for _, c := range commandNames {
		if strings.HasPrefix(c, input) || strings.HasPrefix(input, c) {
			return c
		}
	}
	for _, c := range commandNames {
		if len(c) == len(input) && hammingDistance(c, input) <= 1 {
			return c
		}
	}
	return ""
}

func hammingDistance(a, b string) int {
	diff := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			diff++
		}
	}
	return diff
}
