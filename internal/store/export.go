package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/apisentry-project/apisentry/internal/monitor"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ExportFilename generates the download filename for an export.
func ExportFilename(format string) string {
	return fmt.Sprintf("api-security-logs-%s.%s", time.Now().UTC().Format("2006-01-02"), format)
}

// ExportLogs writes the records to w in the requested format.
func ExportLogs(w io.Writer, logs []*monitor.APISecurityLog, format string) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, logs)
	case FormatCSV:
		return exportCSV(w, logs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func exportJSON(w io.Writer, logs []*monitor.APISecurityLog) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(logs); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "timestamp", "method", "endpoint", "version", "principal_id",
	"ip_address", "user_agent", "response_status", "response_time_ms",
	"risk_score", "threat_level", "anomalies",
}

func exportCSV(w io.Writer, logs []*monitor.APISecurityLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, log := range logs {
		row := []string{
			log.ID,
			log.Timestamp.UTC().Format(time.RFC3339),
			log.Method,
			log.Endpoint,
			log.Version,
			log.PrincipalID,
			log.IPAddress,
			log.UserAgent,
			strconv.Itoa(log.ResponseStatus),
			strconv.Itoa(log.ResponseTimeMs),
			strconv.Itoa(log.RiskScore),
			log.Context.ThreatLevel.String(),
			strings.Join(log.Anomalies, ";"),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
