package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
	"github.com/Mindburn-Labs/accord/pkg/ledger"
	sqlledger "github.com/Mindburn-Labs/accord/pkg/store/ledger"
)

func stubServer(t *testing.T) *bool {
	t.Helper()
	called := false
	orig := startServer
	startServer = func() { called = true }
	t.Cleanup(func() { startServer = orig })
	return &called
}

func TestRun_DefaultsToServer(t *testing.T) {
	called := stubServer(t)

	code := Run([]string{"accord"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !*called {
		t.Fatal("expected the server to start")
	}
}

func TestRun_ServeCommand(t *testing.T) {
	called := stubServer(t)

	code := Run([]string{"accord", "serve"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !*called {
		t.Fatal("expected the server to start")
	}
}

func TestRun_LeadingFlagStartsServer(t *testing.T) {
	called := stubServer(t)

	code := Run([]string{"accord", "--some-flag"}, &bytes.Buffer{}, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !*called {
		t.Fatal("expected the server to start")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	called := stubServer(t)
	stderr := &bytes.Buffer{}

	code := Run([]string{"accord", "frobnicate"}, &bytes.Buffer{}, stderr)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if *called {
		t.Fatal("unknown command must not start the server")
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") {
		t.Errorf("stderr = %q, want unknown command message", stderr.String())
	}
}

func TestRun_Version(t *testing.T) {
	stdout := &bytes.Buffer{}

	code := Run([]string{"accord", "version"}, stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if got := stdout.String(); got != "accord "+version+"\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestPrintUsage_ListsCommands(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)

	for _, name := range []string{"serve", "submit", "lookup", "verify", "export", "health", "version"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("usage is missing %q", name)
		}
	}
}

func TestSubmitCmd_Accepted(t *testing.T) {
	var gotBody struct {
		Params   string `json:"params"`
		Policies []struct {
			Level     string `json:"level"`
			Principle string `json:"principle"`
		} `json:"policies"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/operations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"operation_id":"op-1","accepted":true,"value":"42","level":"comparative","replicas_run":6,"sequence":1,"content_hash":"sha256:aa","prev_hash":"sha256:genesis","timestamp":"2025-06-01T10:00:00Z"}`)
	}))
	defer ts.Close()

	stdout := &bytes.Buffer{}
	code := runSubmitCmd([]string{
		"--server", ts.URL,
		"--params", `{"n":7}`,
		"--ladder", "strict,comparative",
		"--principle", "same answer",
	}, stdout, &bytes.Buffer{})

	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if gotBody.Params != `{"n":7}` {
		t.Errorf("params = %q", gotBody.Params)
	}
	if len(gotBody.Policies) != 2 {
		t.Fatalf("policies = %d, want 2", len(gotBody.Policies))
	}
	if gotBody.Policies[0].Level != "strict" || gotBody.Policies[0].Principle != "" {
		t.Errorf("policy 0 = %+v", gotBody.Policies[0])
	}
	if gotBody.Policies[1].Level != "comparative" || gotBody.Policies[1].Principle != "same answer" {
		t.Errorf("policy 1 = %+v", gotBody.Policies[1])
	}
	if !strings.Contains(stdout.String(), "op-1") || !strings.Contains(stdout.String(), "comparative") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestSubmitCmd_ExhaustedPrintsHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"title":"All Policies Exhausted","status":422,"detail":"engine: operation op-2: all policies exhausted","operation_id":"op-2","history":[{"level":"strict","detail":"replicas disagree"},{"level":"comparative","detail":"judge rejected equivalence"}]}`)
	}))
	defer ts.Close()

	stdout := &bytes.Buffer{}
	code := runSubmitCmd([]string{
		"--server", ts.URL,
		"--params", "x",
	}, stdout, &bytes.Buffer{})

	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "strict: replicas disagree") {
		t.Errorf("stdout = %q, want strict rejection line", stdout.String())
	}
	if !strings.Contains(stdout.String(), "comparative: judge rejected equivalence") {
		t.Errorf("stdout = %q, want comparative rejection line", stdout.String())
	}
}

func TestSubmitCmd_RequiresParams(t *testing.T) {
	stderr := &bytes.Buffer{}
	code := runSubmitCmd(nil, &bytes.Buffer{}, stderr)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "--params is required") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestSubmitCmd_ProfileReplacesLadder(t *testing.T) {
	var gotBody struct {
		Profile  string            `json:"profile"`
		Policies []json.RawMessage `json:"policies"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"operation_id":"op-3","accepted":true,"value":"v","level":"strict","replicas_run":5,"sequence":1,"content_hash":"sha256:bb","prev_hash":"sha256:genesis","timestamp":"2025-06-01T10:00:00Z"}`)
	}))
	defer ts.Close()

	code := runSubmitCmd([]string{
		"--server", ts.URL,
		"--params", "x",
		"--profile", "conservative",
	}, &bytes.Buffer{}, &bytes.Buffer{})

	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if gotBody.Profile != "conservative" {
		t.Errorf("profile = %q", gotBody.Profile)
	}
	if len(gotBody.Policies) != 0 {
		t.Errorf("policies should be empty when a profile is named, got %d", len(gotBody.Policies))
	}
}

func TestLookupCmd_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"title":"Not Found","status":404,"detail":"No entry for operation \"ghost\""}`)
	}))
	defer ts.Close()

	stderr := &bytes.Buffer{}
	code := runLookupCmd([]string{"--server", ts.URL, "--id", "ghost"}, &bytes.Buffer{}, stderr)
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "ghost") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestLookupCmd_RejectedEntry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/operations/op-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"operation_id":"op-9","accepted":false,"replicas_run":9,"rejections":[{"level":"strict","detail":"replicas disagree"}],"sequence":4,"content_hash":"sha256:cc","prev_hash":"sha256:bb","timestamp":"2025-06-01T10:00:00Z"}`)
	}))
	defer ts.Close()

	stdout := &bytes.Buffer{}
	code := runLookupCmd([]string{"--server", ts.URL, "--id", "op-9"}, stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "rejected") {
		t.Errorf("stdout = %q, want rejected marker", stdout.String())
	}
	if !strings.Contains(stdout.String(), "strict: replicas disagree") {
		t.Errorf("stdout = %q, want rejection history", stdout.String())
	}
}

func TestVerifyCmd(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantOut  string
	}{
		{"intact", `{"intact":true,"detail":"verified 12 entries"}`, 0, "intact"},
		{"broken", `{"intact":false,"detail":"hash mismatch at sequence 7"}`, 1, "hash mismatch at sequence 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/ledger/verify" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			stdout := &bytes.Buffer{}
			code := runVerifyCmd([]string{"--server", ts.URL}, stdout, &bytes.Buffer{})
			if code != tt.wantCode {
				t.Fatalf("exit = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestHealthCmd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("ACCORD_PORT", u.Port())

	stdout := &bytes.Buffer{}
	code := runHealthCmd(stdout, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	if got := strings.TrimSpace(stdout.String()); got != "OK" {
		t.Errorf("stdout = %q, want OK", got)
	}
}

func TestExportCmd_RequiresSQLLedger(t *testing.T) {
	t.Setenv("ACCORD_LEDGER_DRIVER", "memory")

	stderr := &bytes.Buffer{}
	code := runExportCmd(nil, &bytes.Buffer{}, stderr)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "SQL ledger") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestExportCmd_SnapshotsSQLiteLedger(t *testing.T) {
	dir := t.TempDir()
	dsn := dir + "/ledger.db"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	sl := sqlledger.NewSQLLedger(db)
	if err := sl.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sl.Record(ctx, &ledger.Entry{
		OperationID: "op-1",
		Accepted:    true,
		Value:       "v",
		Level:       agreement.LevelStrict,
		ReplicasRun: 3,
	}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ACCORD_LEDGER_DRIVER", "sqlite")
	t.Setenv("ACCORD_LEDGER_DSN", dsn)
	t.Setenv("ACCORD_ARCHIVE_STORAGE", "fs")
	t.Setenv("ACCORD_DATA_DIR", dir)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := runExportCmd([]string{"--json"}, stdout, stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr = %q", code, stderr.String())
	}

	var result struct {
		Entries int    `json:"entries"`
		Key     string `json:"key"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if result.Entries != 1 {
		t.Errorf("entries = %d, want 1", result.Entries)
	}
	if result.Key == "" {
		t.Error("expected a snapshot key")
	}
}
