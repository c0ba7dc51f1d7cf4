package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// defaultServer returns the engine base URL. Honors ACCORD_PORT so the
// CLI finds a locally started server without flags.
func defaultServer() string {
	if port := os.Getenv("ACCORD_PORT"); port != "" {
		return "http://localhost:" + port
	}
	return "http://localhost:8080"
}

// newClient returns the HTTP client for CLI commands. The timeout covers
// a full ladder run, which may call the judge several times.
func newClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// problemDetail mirrors the server's RFC 7807 error document.
type problemDetail struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// problemText extracts a printable message from an error response body.
func problemText(body []byte) string {
	var p problemDetail
	if err := json.Unmarshal(body, &p); err != nil || p.Detail == "" {
		return string(body)
	}
	return p.Detail
}

// printJSON re-indents a raw JSON response for display.
func printJSON(w io.Writer, raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, _ = w.Write(raw)
		_, _ = fmt.Fprintln(w)
		return
	}
	_, _ = fmt.Fprintln(w, buf.String())
}

// runHealthCmd implements `accord health`.
//
// Exit codes:
//
//	0 = server healthy
//	1 = server unreachable or unhealthy
func runHealthCmd(stdout, stderr io.Writer) int {
	resp, err := http.Get(defaultServer() + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
