package main

// ---------------------------------------------------------------------------
// cmd_status.go — fetch status from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	base, apiKey, timeout := client.resolve()
	body, err := apiGet(base+"/api/v1/status", apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		errorf("parsing response: %v", err)
	}

	if outFmt == FormatCSV {
		headers := []string{"field", "value"}
		rows := [][]string{
			{"uptime_seconds", fmt.Sprintf("%v", status["uptime_seconds"])},
			{"alerts", fmt.Sprintf("%v", status["alerts"])},
			{"signing_enabled", fmt.Sprintf("%v", status["signing_enabled"])},
			{"testing_enabled", fmt.Sprintf("%v", status["testing_enabled"])},
			{"store_driver", fmt.Sprintf("%v", status["store_driver"])},
			{"default_version", fmt.Sprintf("%v", status["default_version"])},
		}
		writeCSV(w, headers, rows)
		return
	}

	onOff := func(key string) string {
		if v, ok := status[key].(bool); ok && v {
			return green("enabled")
		}
		return dim("disabled")
	}

	fmt.Fprintf(w, "%s apisentry Status\n\n", bold("●"))
	fmt.Fprintf(w, "  %-20s %v s\n", "Uptime:", status["uptime_seconds"])
	fmt.Fprintf(w, "  %-20s %v\n", "Alerts:", status["alerts"])
	fmt.Fprintf(w, "  %-20s %s\n", "Request Signing:", onOff("signing_enabled"))
	fmt.Fprintf(w, "  %-20s %s\n", "Security Testing:", onOff("testing_enabled"))
	fmt.Fprintf(w, "  %-20s %v\n", "Store Driver:", status["store_driver"])
	fmt.Fprintf(w, "  %-20s %v\n", "Default Version:", status["default_version"])
	if versions, ok := status["supported_versions"].([]interface{}); ok {
		fmt.Fprintf(w, "  %-20s %v\n", "Supported Versions:", versions)
	}
	if connected, ok := status["bus_connected"].(bool); ok {
		busDisplay := red("down")
		if connected {
			busDisplay = green("connected")
		}
		fmt.Fprintf(w, "  %-20s %s\n", "Event Bus:", busDisplay)
	}

	if suites, ok := status["test_suites"].(map[string]interface{}); ok && len(suites) > 0 {
		fmt.Fprintf(w, "\n  %s\n", bold("Test Suites:"))
		for name, state := range suites {
			marker := green("●")
			if fmt.Sprintf("%v", state) == "RUNNING" {
				marker = yellow("◐")
			}
			fmt.Fprintf(w, "    %s %-20s %v\n", marker, name, dim(fmt.Sprintf("%v", state)))
		}
	}
	fmt.Fprintln(w)
}
