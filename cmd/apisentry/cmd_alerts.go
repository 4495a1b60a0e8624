package main

// ---------------------------------------------------------------------------
// cmd_alerts.go — fetch/manage alerts from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"
)

func cmdAlerts(args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "ack", "acknowledge":
			cmdAlertsUpdateStatus(args[1:], "ACKNOWLEDGED")
			return
		case "resolve":
			cmdAlertsUpdateStatus(args[1:], "RESOLVED")
			return
		case "false-positive":
			cmdAlertsUpdateStatus(args[1:], "FALSE_POSITIVE")
			return
		case "delete":
			cmdAlertsDelete(args[1:])
			return
		case "clear":
			cmdAlertsClear(args[1:])
			return
		}
	}

	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	severity := fs.String("severity", "", "Minimum severity: INFO, LOW, MEDIUM, HIGH, CRITICAL")
	limit := fs.Int("limit", 20, "Maximum alerts to fetch")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	base, apiKey, timeout := client.resolve()
	url := fmt.Sprintf("%s/api/v1/alerts?limit=%d", base, *limit)
	if *severity != "" {
		url += "&severity=" + strings.ToUpper(*severity)
	}

	body, err := apiGet(url, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp struct {
		Alerts []map[string]interface{} `json:"alerts"`
		Total  int                      `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	field := func(a map[string]interface{}, key string) string {
		return fmt.Sprintf("%v", a[key])
	}

	if outFmt == FormatCSV {
		rows := make([][]string, 0, len(resp.Alerts))
		for _, a := range resp.Alerts {
			rows = append(rows, []string{
				field(a, "id"), field(a, "severity"), field(a, "status"),
				field(a, "title"), field(a, "endpoint"), field(a, "risk_score"),
				field(a, "timestamp"),
			})
		}
		writeCSV(w, []string{"id", "severity", "status", "title", "endpoint", "risk_score", "timestamp"}, rows)
		return
	}

	if resp.Total == 0 {
		fmt.Fprintf(w, "%s No alerts.\n", green("✓"))
		return
	}

	table := NewTable(w, "SEVERITY", "STATUS", "TITLE", "ENDPOINT", "RISK", "ID")
	for _, a := range resp.Alerts {
		sev := field(a, "severity")
		switch sev {
		case "CRITICAL", "HIGH":
			sev = red(sev)
		case "MEDIUM":
			sev = yellow(sev)
		}
		table.AddRow(sev, field(a, "status"), field(a, "title"),
			field(a, "endpoint"), field(a, "risk_score"), shortID(field(a, "id")))
	}
	table.Render()
	fmt.Fprintf(w, "%d alert(s)\n", resp.Total)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// requireAlertID peels the positional alert ID off the front of args.
func requireAlertID(args []string, usage string) (string, []string) {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		errorf("usage: apisentry alerts %s", usage)
	}
	return args[0], args[1:]
}

func cmdAlertsUpdateStatus(args []string, status string) {
	alertID, rest := requireAlertID(args, strings.ToLower(status)+" <alert-id> [flags]")

	fs := flag.NewFlagSet("alerts-update", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	fs.Parse(rest)

	base, apiKey, timeout := client.resolve()
	payload, _ := json.Marshal(map[string]string{"status": status})

	if _, err := apiPatch(base+"/api/v1/alerts/"+alertID, payload, apiKey, timeout); err != nil {
		errorf("%v", err)
	}
	fmt.Printf("%s Alert %s marked %s.\n", green("✓"), alertID, status)
}

func cmdAlertsDelete(args []string) {
	alertID, rest := requireAlertID(args, "delete <alert-id> [flags]")

	fs := flag.NewFlagSet("alerts-delete", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	fs.Parse(rest)

	base, apiKey, timeout := client.resolve()
	if _, err := apiDelete(base+"/api/v1/alerts/"+alertID, apiKey, timeout); err != nil {
		errorf("%v", err)
	}
	fmt.Printf("%s Alert %s deleted.\n", green("✓"), alertID)
}

func cmdAlertsClear(args []string) {
	fs := flag.NewFlagSet("alerts-clear", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	fs.Parse(args)

	base, apiKey, timeout := client.resolve()
	body, err := apiPost(base+"/api/v1/alerts/clear", []byte("{}"), apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err == nil {
		fmt.Printf("%s Cleared %v alert(s).\n", green("✓"), resp["cleared"])
		return
	}
	fmt.Printf("%s Alerts cleared.\n", green("✓"))
}
