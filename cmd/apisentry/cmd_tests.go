package main

// ---------------------------------------------------------------------------
// cmd_tests.go — trigger security test suites and inspect results
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

func cmdTest(args []string) {
	sub := "results"
	if len(args) > 0 {
		switch args[0] {
		case "run":
			sub = "run"
			args = args[1:]
		case "results", "history":
			sub = "results"
			args = args[1:]
		}
	}

	// An optional suite name may precede the flags.
	suite := ""
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		suite = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("test", flag.ExitOnError)
	// Suite runs probe every configured endpoint, so the default timeout is
	// far above the usual 5s.
	client := addClientFlags(fs, 2*time.Minute)
	endpoint := fs.String("endpoint", "", "Filter results by endpoint")
	limit := fs.Int("limit", 20, "Maximum results to fetch")
	format := fs.String("format", "table", "Output format: table, json")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	base, apiKey, timeout := client.resolve()

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if sub == "run" {
		u := base + "/api/v1/security/tests"
		if suite != "" {
			u += "?suite=" + url.QueryEscape(suite)
		}
		body, err := apiPost(u, []byte("{}"), apiKey, timeout)
		if err != nil {
			errorf("%v", err)
		}
		if outFmt == FormatJSON {
			fmt.Fprintln(w, string(body))
			return
		}
		printSuiteReports(body)
		return
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *endpoint != "" {
		q.Set("endpoint", *endpoint)
	}
	body, err := apiGet(base+"/api/v1/security/tests?"+q.Encode(), apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}
	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintf(w, "%s No test results yet — run a suite with `apisentry test run <suite>`.\n", dim("·"))
		return
	}

	table := NewTable(w, "ENDPOINT", "METHOD", "PASSED", "RISK", "VULNS", "TIMESTAMP")
	for _, r := range resp.Results {
		passed := green("yes")
		if p, ok := r["passed"].(bool); ok && !p {
			passed = red("no")
		}
		vulns := 0
		if list, ok := r["vulnerabilities"].([]interface{}); ok {
			vulns = len(list)
		}
		table.AddRow(
			fmt.Sprintf("%v", r["endpoint"]),
			fmt.Sprintf("%v", r["method"]),
			passed,
			fmt.Sprintf("%v", r["risk_score"]),
			strconv.Itoa(vulns),
			fmt.Sprintf("%v", r["timestamp"]))
	}
	table.Render()
}

func printSuiteReports(body []byte) {
	// A single-suite run returns one report; run-all returns {"reports": [...]}.
	var wrapper struct {
		Reports []json.RawMessage `json:"reports"`
	}
	reports := []json.RawMessage{body}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Reports != nil {
		reports = wrapper.Reports
	}

	for _, raw := range reports {
		var rep struct {
			Suite           string   `json:"suite"`
			TotalTests      int      `json:"total_tests"`
			PassedTests     int      `json:"passed_tests"`
			FailedTests     int      `json:"failed_tests"`
			SuccessRate     float64  `json:"success_rate"`
			Recommendations []string `json:"recommendations"`
		}
		if err := json.Unmarshal(raw, &rep); err != nil {
			continue
		}
		marker := green("✓")
		if rep.FailedTests > 0 {
			marker = red("✗")
		}
		fmt.Printf("%s Suite %s — %d/%d passed (%.0f%%)\n",
			marker, bold(rep.Suite), rep.PassedTests, rep.TotalTests, rep.SuccessRate*100)
		for _, rec := range rep.Recommendations {
			fmt.Printf("    %s %s\n", dim("▸"), rec)
		}
	}
}
