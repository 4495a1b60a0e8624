package main

// ---------------------------------------------------------------------------
// banner.go — banner and version/usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	banner := `
    ╔═══════════════════════════════════════════════════╗
    ║              A P I S E N T R Y                    ║
    ║                                                   ║
    ║     API SECURITY MONITORING & TESTING ENGINE      ║
    ╚═══════════════════════════════════════════════════╝
`
	if !colorEnabled() {
		return banner
	}
	return "\033[36m" + banner + "\033[0m"
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "apisentry v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  apisentry <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-10s  %s\n", bold("up"), "Start the apisentry engine and API server")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("stop"), "Gracefully stop a running instance")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("status"), "Show status of a running instance")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("alerts"), "Fetch, acknowledge, resolve, delete, or clear alerts")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("logs"), "Query captured API security logs")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("export"), "Export security logs in bulk (JSON, CSV)")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("sign"), "Generate signature headers for a request")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("test"), "Trigger security test suites or view results")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("config"), "Show or initialize configuration")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: configs/default.yaml, env: APISENTRY_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--api-key <key>", "API key (env: APISENTRY_API_KEY)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--format <fmt>", "Output format: table, json, csv (default: table)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-22s  %s\n", "APISENTRY_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-22s  %s\n", "APISENTRY_HOST", "API host override")
	fmt.Fprintf(w, "  %-22s  %s\n", "APISENTRY_PORT", "API port override")
	fmt.Fprintf(w, "  %-22s  %s\n", "APISENTRY_API_KEY", "API key for authentication")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults"))
	fmt.Fprintf(w, "  apisentry up\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Check a running instance"))
	fmt.Fprintf(w, "  apisentry status --format json\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Fetch high-risk security logs"))
	fmt.Fprintf(w, "  apisentry logs --min-risk 70 --limit 50\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Export a day of logs as CSV"))
	fmt.Fprintf(w, "  apisentry export --format csv --output report.csv\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Run the nightly test suite now"))
	fmt.Fprintf(w, "  apisentry test run nightly\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Sign a request for a protected endpoint"))
	fmt.Fprintf(w, "  apisentry sign --method POST --path /api/v2/users --body '{\"name\":\"x\"}'\n\n")
}
