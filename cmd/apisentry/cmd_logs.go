package main

// ---------------------------------------------------------------------------
// cmd_logs.go — query captured API security logs
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	client := addClientFlags(fs, 10*time.Second)
	method := fs.String("method", "", "Filter by HTTP method")
	endpoint := fs.String("endpoint", "", "Filter by normalized endpoint")
	apiVersion := fs.String("api-version", "", "Filter by API version")
	user := fs.String("user", "", "Filter by principal ID")
	ip := fs.String("ip", "", "Filter by source IP")
	minRisk := fs.Int("min-risk", 0, "Minimum risk score")
	maxRisk := fs.Int("max-risk", 0, "Maximum risk score (0 = unbounded)")
	since := fs.String("since", "", "Only logs after this RFC3339 time")
	limit := fs.Int("limit", 50, "Maximum logs to fetch")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *method != "" {
		q.Set("method", strings.ToUpper(*method))
	}
	if *endpoint != "" {
		q.Set("endpoint", *endpoint)
	}
	if *apiVersion != "" {
		q.Set("version", *apiVersion)
	}
	if *user != "" {
		q.Set("user", *user)
	}
	if *ip != "" {
		q.Set("ip", *ip)
	}
	if *minRisk > 0 {
		q.Set("min_risk", strconv.Itoa(*minRisk))
	}
	if *maxRisk > 0 {
		q.Set("max_risk", strconv.Itoa(*maxRisk))
	}
	if *since != "" {
		if _, err := time.Parse(time.RFC3339, *since); err != nil {
			errorf("invalid --since %q: expected RFC3339, e.g. 2026-08-28T00:00:00Z", *since)
		}
		q.Set("from", *since)
	}

	base, apiKey, timeout := client.resolve()
	body, err := apiGet(base+"/api/v1/security/logs?"+q.Encode(), apiKey, timeout)
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
		Logs []map[string]interface{} `json:"logs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	if outFmt == FormatCSV {
		headers := []string{"timestamp", "method", "endpoint", "version", "status", "risk_score", "ip_address", "anomalies"}
		rows := make([][]string, 0, len(resp.Logs))
		for _, l := range resp.Logs {
			rows = append(rows, []string{
				fmt.Sprintf("%v", l["timestamp"]),
				fmt.Sprintf("%v", l["method"]),
				fmt.Sprintf("%v", l["endpoint"]),
				fmt.Sprintf("%v", l["version"]),
				fmt.Sprintf("%v", l["response_status"]),
				fmt.Sprintf("%v", l["risk_score"]),
				fmt.Sprintf("%v", l["ip_address"]),
				joinAnomalies(l["anomalies"]),
			})
		}
		writeCSV(w, headers, rows)
		return
	}

	if len(resp.Logs) == 0 {
		fmt.Fprintf(w, "%s No logs matched.\n", dim("·"))
		return
	}

	table := NewTable(w, "METHOD", "ENDPOINT", "VER", "STATUS", "RISK", "IP", "ANOMALIES")
	for _, l := range resp.Logs {
		risk := fmt.Sprintf("%v", l["risk_score"])
		if n, ok := l["risk_score"].(float64); ok && n >= 70 {
			risk = red(risk)
		}
		table.AddRow(
			fmt.Sprintf("%v", l["method"]),
			fmt.Sprintf("%v", l["endpoint"]),
			fmt.Sprintf("%v", l["version"]),
			fmt.Sprintf("%v", l["response_status"]),
			risk,
			fmt.Sprintf("%v", l["ip_address"]),
			joinAnomalies(l["anomalies"]))
	}
	table.Render()
	fmt.Fprintf(w, "%d log(s)\n", len(resp.Logs))
}

func joinAnomalies(v interface{}) string {
	list, ok := v.([]interface{})
	if !ok || len(list) == 0 {
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, ";")
}
