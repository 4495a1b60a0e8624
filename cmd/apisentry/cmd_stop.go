package main

// ---------------------------------------------------------------------------
// cmd_stop.go — gracefully stop a running instance via API
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	client := addClientFlags(fs, 5*time.Second)
	fs.Parse(args)

	base, apiKey, timeout := client.resolve()

	// Probe first so a dead instance gets a clear message instead of a
	// confusing shutdown error.
	if _, err := apiGet(base+"/health", apiKey, timeout); err != nil {
		errorf("cannot reach apisentry instance at %s — is it running?", base)
	}

	body, err := apiPost(base+"/api/v1/shutdown", []byte("{}"), apiKey, timeout)
	switch {
	case err == nil:
		var resp map[string]interface{}
		if json.Unmarshal(body, &resp) == nil && resp["message"] != nil {
			fmt.Printf("%s %s\n", green("✓"), resp["message"])
		} else {
			fmt.Printf("%s Shutdown signal sent.\n", green("✓"))
		}
	case isConnectionError(err):
		// The instance can drop the connection while exiting.
		fmt.Printf("%s apisentry instance is shutting down.\n", green("✓"))
	default:
		errorf("shutdown request failed: %v", err)
	}
}
