package main

// ---------------------------------------------------------------------------
// cmd_export.go — bulk export of security logs
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	client := addClientFlags(fs, 30*time.Second)
	format := fs.String("format", "json", "Export format: json, csv")
	minRisk := fs.Int("min-risk", 0, "Minimum risk score")
	since := fs.String("since", "", "Only logs after this RFC3339 time")
	until := fs.String("until", "", "Only logs before this RFC3339 time")
	limit := fs.Int("limit", 0, "Maximum logs to export (0 = all)")
	output := fs.String("output", "", "Write output to file (default: stdout)")
	fs.Parse(args)

	f := strings.ToLower(*format)
	if f != "json" && f != "csv" {
		errorf("unsupported format %q: use json or csv", *format)
	}

	q := url.Values{}
	q.Set("format", f)
	if *minRisk > 0 {
		q.Set("min_risk", strconv.Itoa(*minRisk))
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	if *since != "" {
		q.Set("from", *since)
	}
	if *until != "" {
		q.Set("to", *until)
	}

	base, apiKey, timeout := client.resolve()
	body, err := apiGet(base+"/api/v1/security/logs/export?"+q.Encode(), apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()
	w.Write(body)

	if *output != "" && *output != "-" {
		fmt.Fprintf(os.Stderr, "%s Exported %d bytes to %s\n", green("✓"), len(body), *output)
	}
}
