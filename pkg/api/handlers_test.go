package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
	"github.com/Mindburn-Labs/accord/pkg/api"
	"github.com/Mindburn-Labs/accord/pkg/engine"
	"github.com/Mindburn-Labs/accord/pkg/executor"
	"github.com/Mindburn-Labs/accord/pkg/guard"
	"github.com/Mindburn-Labs/accord/pkg/judge"
	"github.com/Mindburn-Labs/accord/pkg/ledger"
	"github.com/Mindburn-Labs/accord/pkg/observability"
	"github.com/Mindburn-Labs/accord/pkg/profile"
)

type testBackend struct {
	mux  *http.ServeMux
	svc  *api.Service
	unit *executor.ScriptedUnit
	led  *ledger.MemoryLedger
}

func newBackend(t *testing.T, unit *executor.ScriptedUnit, j judge.Judge, g engine.Admitter) *testBackend {
	t.Helper()
	led := ledger.NewMemoryLedger()
	eng, err := engine.New(engine.Config{
		Unit:   unit,
		Judge:  j,
		Ledger: led,
		Guard:  g,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	verifier := api.VerifierFunc(func(ctx context.Context) (bool, string, error) {
		ok, detail := led.Verify()
		return ok, detail, nil
	})
	svc := api.NewService(eng, verifier, 3)

	mux := http.NewServeMux()
	svc.Routes(mux)
	return &testBackend{mux: mux, svc: svc, unit: unit, led: led}
}

func (b *testBackend) submit(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	return w
}

func strictLadder() []agreement.Spec {
	return []agreement.Spec{{Level: agreement.LevelStrict}}
}

func TestHandleSubmit_ReturnsRecordedEntry(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "42"}}
	b := newBackend(t, unit, nil, nil)

	w := b.submit(t, api.SubmitRequest{OperationID: "op-1", Params: "q", Policies: strictLadder()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var entry ledger.Entry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, "op-1", entry.OperationID)
	assert.True(t, entry.Accepted)
	assert.Equal(t, "42", entry.Value)
	assert.Equal(t, agreement.LevelStrict, entry.Level)
	assert.Equal(t, 3, entry.ReplicasRun, "default replica count applies")
}

func TestHandleSubmit_AssignsOperationID(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	w := b.submit(t, api.SubmitRequest{Params: "q", Replicas: 1, Policies: strictLadder()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var entry ledger.Entry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	_, err := uuid.Parse(entry.OperationID)
	assert.NoError(t, err, "assigned id should be a UUID")
}

func TestHandleSubmit_DuplicateIDConflicts(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	req := api.SubmitRequest{OperationID: "op-1", Params: "q", Policies: strictLadder()}
	require.Equal(t, http.StatusOK, b.submit(t, req).Code)
	ran := b.unit.Calls()

	w := b.submit(t, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, ran, b.unit.Calls(), "a conflicting resubmission must not re-execute")
}

func TestHandleSubmit_ExhaustedCarriesHistory(t *testing.T) {
	unit := &executor.ScriptedUnit{
		ByReplica: map[int]executor.ScriptedCall{
			0: {Value: "alpha"},
			1: {Value: "beta"},
			2: {Value: "gamma"},
		},
	}
	j := &judge.Scripted{
		CompareFn: func(values []string, principle string) (bool, error) { return false, nil },
		AssessFn:  func(candidate, task, criteria string) (bool, error) { return false, nil },
	}
	b := newBackend(t, unit, j, nil)

	w := b.submit(t, api.SubmitRequest{
		OperationID: "op-1", Params: "q",
		Policies: []agreement.Spec{
			{Level: agreement.LevelStrict},
			{Level: agreement.LevelComparative, Principle: "same meaning"},
			{Level: agreement.LevelNonComparative, Task: "t", Criteria: "c"},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem struct {
		api.ProblemDetail
		OperationID string             `json:"operation_id"`
		History     []ledger.Rejection `json:"history"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, "op-1", problem.OperationID)
	require.Len(t, problem.History, 3, "one rejection per attempted policy")
	assert.Equal(t, agreement.LevelStrict, problem.History[0].Level)
	assert.Equal(t, agreement.LevelComparative, problem.History[1].Level)
	assert.Equal(t, agreement.LevelNonComparative, problem.History[2].Level)
}

func TestHandleSubmit_MalformedLadderIsBadRequest(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	// Comparative without a principle is a configuration error.
	w := b.submit(t, api.SubmitRequest{
		OperationID: "op-1", Params: "q",
		Policies: []agreement.Spec{{Level: agreement.LevelComparative}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, b.unit.Calls(), "configuration errors precede all work")

	w = b.submit(t, api.SubmitRequest{OperationID: "op-2", Params: "q"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty ladder")
}

func TestHandleSubmit_UndecodableBodyIsBadRequest(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/operations", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSubmit_GuardDenialIsForbidden(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	g, err := guard.New([]string{`replicas <= 3`})
	require.NoError(t, err)
	b := newBackend(t, unit, nil, g)

	w := b.submit(t, api.SubmitRequest{
		OperationID: "op-1", Params: "q", Replicas: 5, Policies: strictLadder(),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, b.unit.Calls(), "denied submissions spend no work")
}

func TestHandleSubmit_ResolvesProfile(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)
	b.svc.WithProfiles(map[string]*profile.Profile{
		"conservative": {Name: "conservative", Replicas: 5, Policies: strictLadder()},
	})

	w := b.submit(t, api.SubmitRequest{OperationID: "op-1", Params: "q", Profile: "conservative"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var entry ledger.Entry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, agreement.LevelStrict, entry.Level)
	assert.Equal(t, 5, entry.ReplicasRun, "profile replica count applies")

	w = b.submit(t, api.SubmitRequest{OperationID: "op-2", Params: "q", Profile: "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown profile is a validation error")
}

func TestHandleSubmit_RejectsWrongMethod(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/operations", nil)
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleLookup_RoundTrip(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "42"}}
	b := newBackend(t, unit, nil, nil)
	require.Equal(t, http.StatusOK,
		b.submit(t, api.SubmitRequest{OperationID: "op-1", Params: "q", Policies: strictLadder()}).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/operations/op-1", nil)
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var entry ledger.Entry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&entry))
	assert.Equal(t, "42", entry.Value)
	assert.NotEmpty(t, entry.ContentHash)
}

func TestHandleLookup_UnknownIDIsNotFound(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/operations/nope", nil)
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestHandleVerify_ReportsIntactChain(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)
	for _, id := range []string{"op-1", "op-2"} {
		require.Equal(t, http.StatusOK,
			b.submit(t, api.SubmitRequest{OperationID: id, Params: "q", Policies: strictLadder()}).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ledger/verify", nil)
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var report api.VerifyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.True(t, report.Intact)
}

func TestHandleHealth(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestHandleLadderHealth_ReportsDegradation(t *testing.T) {
	unit := &executor.ScriptedUnit{
		ByReplica: map[int]executor.ScriptedCall{
			0: {Value: "alpha"},
			1: {Value: "beta"},
			2: {Value: "gamma"},
		},
	}
	j := &judge.Scripted{
		CompareFn: func(values []string, principle string) (bool, error) { return true, nil },
	}
	eng, err := engine.New(engine.Config{
		Unit:   unit,
		Judge:  j,
		Ledger: ledger.NewMemoryLedger(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	tracker := observability.NewLadderTracker(observability.LadderTarget{
		MinAcceptanceRate: 0.25,
		Window:            time.Hour,
	})
	svc := api.NewService(eng, nil, 3).WithTracker(tracker)
	mux := http.NewServeMux()
	svc.Routes(mux)
	b := &testBackend{mux: mux, unit: unit}

	// Divergent replicas: strict rejects, the judge settles comparative.
	w := b.submit(t, api.SubmitRequest{
		OperationID: "op-1", Params: "q",
		Policies: []agreement.Spec{
			{Level: agreement.LevelStrict},
			{Level: agreement.LevelComparative, Principle: "same meaning"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Strict-only ladder exhausts; the tracker counts it as a rejection.
	w = b.submit(t, api.SubmitRequest{OperationID: "op-2", Params: "q", Policies: strictLadder()})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Conflicts never ran the ladder and must not move the health numbers.
	w = b.submit(t, api.SubmitRequest{
		OperationID: "op-1", Params: "q",
		Policies: []agreement.Spec{{Level: agreement.LevelStrict}},
	})
	require.Equal(t, http.StatusConflict, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/ladder/health", nil)
	rec := httptest.NewRecorder()
	b.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health observability.LadderHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, 2, health.Observations)
	assert.InDelta(t, 0.5, health.AcceptanceRate, 1e-9)
	assert.InDelta(t, 1.0, health.DegradedShare, 1e-9, "the only acceptance settled below strict")
	assert.True(t, health.InCompliance)
}

func TestHandleLadderHealth_DisabledWithoutTracker(t *testing.T) {
	unit := &executor.ScriptedUnit{Default: executor.ScriptedCall{Value: "v"}}
	b := newBackend(t, unit, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ladder/health", nil)
	w := httptest.NewRecorder()
	b.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}
