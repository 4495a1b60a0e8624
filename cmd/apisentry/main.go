package main

// ---------------------------------------------------------------------------
// main.go — command dispatcher for the apisentry CLI
//
// This file is intentionally slim. Command implementations live in their
// own files (cmd_*.go); shared helpers are in helpers.go, http.go,
// output.go, and banner.go.
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
)

var (
	version   = "1.0.0"
	commit    = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--version", "-V":
			printVersion(os.Stdout)
			os.Exit(0)
		case "--help", "-h", "help":
			printUsage(os.Stdout)
			os.Exit(0)
		}
	}

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	subcmd := os.Args[1]
	args := os.Args[2:]

	switch subcmd {
	case "up":
		cmdUp(args)
	case "stop":
		cmdStop(args)
	case "status":
		cmdStatus(args)
	case "alerts":
		cmdAlerts(args)
	case "logs":
		cmdLogs(args)
	case "export":
		cmdExport(args)
	case "sign":
		cmdSign(args)
	case "test":
		cmdTest(args)
	case "config":
		cmdConfig(args)
	case "version":
		printVersion(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, red("error: ")+"unknown command %q\n\n", subcmd)
		if s := suggest(subcmd); s != "" {
			fmt.Fprintf(os.Stderr, "       Did you mean %s?\n\n", bold(s))
		}
		printUsage(os.Stderr)
		os.Exit(1)
	}
}
