package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
)

// runVerifyCmd implements `accord verify`: a full ledger chain walk.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		server     string
		token      string
		jsonOutput bool
	)

	cmd.StringVar(&server, "server", defaultServer(), "Engine base URL")
	cmd.StringVar(&token, "token", "", "Bearer token")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	httpReq, err := http.NewRequest(http.MethodGet, server+"/api/ledger/verify", nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := newClient().Do(httpReq)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Error: %s (status %d)\n", problemText(raw), resp.StatusCode)
		return 2
	}

	var result struct {
		Intact bool   `json:"intact"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: malformed response: %v\n", err)
		return 2
	}

	if jsonOutput {
		printJSON(stdout, raw)
	} else if result.Intact {
		_, _ = fmt.Fprintln(stdout, "✅ Ledger chain intact")
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Ledger chain broken: %s\n", result.Detail)
	}

	if !result.Intact {
		return 1
	}
	return 0
}
