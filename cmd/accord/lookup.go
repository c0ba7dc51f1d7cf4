package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Mindburn-Labs/accord/pkg/ledger"
)

// runLookupCmd implements `accord lookup`: fetch a settled operation.
//
// Exit codes:
//
//	0 = entry found
//	1 = no entry for the operation
//	2 = runtime or usage error
func runLookupCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("lookup", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		server     string
		id         string
		token      string
		jsonOutput bool
	)

	cmd.StringVar(&server, "server", defaultServer(), "Engine base URL")
	cmd.StringVar(&id, "id", "", "Operation ID (REQUIRED)")
	cmd.StringVar(&token, "token", "", "Bearer token")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		cmd.Usage()
		return 2
	}

	httpReq, err := http.NewRequest(http.MethodGet, server+"/api/operations/"+url.PathEscape(id), nil)
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

	if resp.StatusCode == http.StatusNotFound {
		_, _ = fmt.Fprintf(stderr, "No entry for operation %q\n", id)
		return 1
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Error: %s (status %d)\n", problemText(raw), resp.StatusCode)
		return 2
	}

	if jsonOutput {
		printJSON(stdout, raw)
		return 0
	}

	var entry ledger.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: malformed response: %v\n", err)
		return 2
	}

	if entry.Accepted {
		_, _ = fmt.Fprintf(stdout, "✅ %s accepted\n", entry.OperationID)
		_, _ = fmt.Fprintf(stdout, "   Level:    %s\n", entry.Level)
		_, _ = fmt.Fprintf(stdout, "   Value:    %s\n", entry.Value)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ %s rejected\n", entry.OperationID)
	}
	_, _ = fmt.Fprintf(stdout, "   Replicas: %d\n", entry.ReplicasRun)
	_, _ = fmt.Fprintf(stdout, "   Sequence: %d\n", entry.Sequence)
	_, _ = fmt.Fprintf(stdout, "   Recorded: %s\n", entry.Timestamp.Format("2006-01-02 15:04:05 MST"))
	for _, rej := range entry.Rejections {
		_, _ = fmt.Fprintf(stdout, "   %s: %s\n", rej.Level, rej.Detail)
	}
	return 0
}
