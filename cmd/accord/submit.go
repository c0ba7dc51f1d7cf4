package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
	"github.com/Mindburn-Labs/accord/pkg/api"
	"github.com/Mindburn-Labs/accord/pkg/ledger"
)

// runSubmitCmd implements `accord submit`: one full ladder run.
//
// Exit codes:
//
//	0 = operation accepted
//	1 = operation rejected (ladder exhausted, conflict, denied)
//	2 = runtime or usage error
func runSubmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		server     string
		id         string
		params     string
		replicas   int
		ladder     string
		principle  string
		task       string
		criteria   string
		profileRef string
		token      string
		jsonOutput bool
	)

	cmd.StringVar(&server, "server", defaultServer(), "Engine base URL")
	cmd.StringVar(&id, "id", "", "Operation ID (server assigns one when omitted)")
	cmd.StringVar(&params, "params", "", "Operation parameters (REQUIRED)")
	cmd.IntVar(&replicas, "replicas", 0, "Replica count (server default when 0)")
	cmd.StringVar(&ladder, "ladder", "strict", "Comma-separated policy levels, strictest first")
	cmd.StringVar(&principle, "principle", "", "Equivalence principle for the comparative level")
	cmd.StringVar(&task, "task", "", "Task statement for the noncomparative level")
	cmd.StringVar(&criteria, "criteria", "", "Quality criteria for the noncomparative level")
	cmd.StringVar(&profileRef, "profile", "", "Named agreement profile (replaces --ladder)")
	cmd.StringVar(&token, "token", "", "Bearer token")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if params == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --params is required")
		cmd.Usage()
		return 2
	}

	req := api.SubmitRequest{
		OperationID: id,
		Params:      params,
		Replicas:    replicas,
		Profile:     profileRef,
	}
	if profileRef == "" {
		for _, raw := range strings.Split(ladder, ",") {
			level := agreement.Level(strings.TrimSpace(raw))
			if level == "" {
				continue
			}
			spec := agreement.Spec{Level: level}
			switch level {
			case agreement.LevelComparative:
				spec.Principle = principle
			case agreement.LevelNonComparative:
				spec.Task = task
				spec.Criteria = criteria
			}
			req.Policies = append(req.Policies, spec)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	httpReq, err := http.NewRequest(http.MethodPost, server+"/api/operations", bytes.NewReader(body))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	httpReq.Header.Set("Content-Type", "application/json")
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

	switch resp.StatusCode {
	case http.StatusOK:
		var entry ledger.Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: malformed response: %v\n", err)
			return 2
		}
		if jsonOutput {
			printJSON(stdout, raw)
		} else {
			_, _ = fmt.Fprintf(stdout, "✅ Operation settled: %s\n", entry.OperationID)
			_, _ = fmt.Fprintf(stdout, "   Level:    %s\n", entry.Level)
			_, _ = fmt.Fprintf(stdout, "   Replicas: %d\n", entry.ReplicasRun)
			_, _ = fmt.Fprintf(stdout, "   Sequence: %d\n", entry.Sequence)
			_, _ = fmt.Fprintf(stdout, "   Value:    %s\n", entry.Value)
		}
		return 0
	case http.StatusUnprocessableEntity:
		if jsonOutput {
			printJSON(stdout, raw)
			return 1
		}
		var problem struct {
			Detail  string             `json:"detail"`
			History []ledger.Rejection `json:"history"`
		}
		if err := json.Unmarshal(raw, &problem); err != nil {
			_, _ = fmt.Fprintf(stderr, "❌ %s\n", problemText(raw))
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "❌ %s\n", problem.Detail)
		for _, rej := range problem.History {
			_, _ = fmt.Fprintf(stdout, "   %s: %s\n", rej.Level, rej.Detail)
		}
		return 1
	default:
		if jsonOutput {
			printJSON(stdout, raw)
		} else {
			_, _ = fmt.Fprintf(stderr, "❌ %s (status %d)\n", problemText(raw), resp.StatusCode)
		}
		return 1
	}
}
