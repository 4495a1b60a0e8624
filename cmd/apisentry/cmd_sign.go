package main

// ---------------------------------------------------------------------------
// cmd_sign.go — generate signature headers for a protected request
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"
)

func cmdSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	method := fs.String("method", "GET", "HTTP method of the request to sign")
	path := fs.String("path", "", "Request path, e.g. /api/v2/users")
	bodyStr := fs.String("body", "", "JSON request body (optional)")
	curl := fs.Bool("curl", false, "Print a ready-to-run curl command instead of headers")
	fs.Parse(args)

	if *path == "" {
		errorf("--path is required")
	}

	payload := map[string]interface{}{
		"method": strings.ToUpper(*method),
		"path":   *path,
	}
	if *bodyStr != "" {
		var parsed interface{}
		if err := json.Unmarshal([]byte(*bodyStr), &parsed); err != nil {
			errorf("--body is not valid JSON: %v", err)
		}
		payload["body"] = parsed
	}
	data, _ := json.Marshal(payload)

	base, apiKey, timeout := client.resolve()
	respBody, err := apiPost(base+"/api/v1/security/sign", data, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	var resp struct {
		Signature string            `json:"signature"`
		Timestamp int64             `json:"timestamp"`
		Nonce     string            `json:"nonce"`
		Algorithm string            `json:"algorithm"`
		Headers   map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	if *curl {
		cmd := fmt.Sprintf("curl -X %s", strings.ToUpper(*method))
		for _, h := range []string{"X-Signature", "X-Timestamp", "X-Nonce"} {
			cmd += fmt.Sprintf(" \\\n  -H %q", h+": "+resp.Headers[h])
		}
		if *bodyStr != "" {
			cmd += fmt.Sprintf(" \\\n  -H \"Content-Type: application/json\" \\\n  -d %q", *bodyStr)
		}
		cmd += fmt.Sprintf(" \\\n  %s%s", base, *path)
		fmt.Println(cmd)
		return
	}

	fmt.Printf("%s Signed %s %s (%s)\n\n", green("✓"), strings.ToUpper(*method), *path, resp.Algorithm)
	fmt.Printf("  X-Signature: %s\n", resp.Signature)
	fmt.Printf("  X-Timestamp: %d\n", resp.Timestamp)
	fmt.Printf("  X-Nonce:     %s\n", resp.Nonce)
	fmt.Printf("\n%s Signature expires with the validity window; sign again if the request is delayed.\n", dim("▸"))
}
