package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
	"github.com/Mindburn-Labs/accord/pkg/engine"
	"github.com/Mindburn-Labs/accord/pkg/guard"
	"github.com/Mindburn-Labs/accord/pkg/ledger"
	"github.com/Mindburn-Labs/accord/pkg/observability"
	"github.com/Mindburn-Labs/accord/pkg/profile"
)

// maxBodyBytes caps submission payloads.
const maxBodyBytes = 1 << 20 // 1MB

// ChainVerifier reports whether the ledger hash chain is intact.
type ChainVerifier interface {
	Verify(ctx context.Context) (ok bool, detail string, err error)
}

// VerifierFunc adapts a function to ChainVerifier.
type VerifierFunc func(ctx context.Context) (bool, string, error)

func (f VerifierFunc) Verify(ctx context.Context) (bool, string, error) { return f(ctx) }

// Service exposes engine submissions over HTTP.
type Service struct {
	engine          *engine.Engine
	verifier        ChainVerifier
	defaultReplicas int
	logger          *slog.Logger
	tracker         *observability.LadderTracker
	profiles        map[string]*profile.Profile
}

// NewService wraps eng. defaultReplicas applies when a submission omits a
// replica count; verifier may be nil when the backend cannot verify.
func NewService(eng *engine.Engine, verifier ChainVerifier, defaultReplicas int) *Service {
	if defaultReplicas < 1 {
		defaultReplicas = 1
	}
	return &Service{
		engine:          eng,
		verifier:        verifier,
		defaultReplicas: defaultReplicas,
		logger:          slog.Default().With("component", "api"),
	}
}

// WithTracker attaches a ladder health tracker, fed by every operation that
// runs the ladder and served on /api/ladder/health.
func (s *Service) WithTracker(tr *observability.LadderTracker) *Service {
	s.tracker = tr
	return s
}

// WithProfiles lets submissions name a profile instead of spelling out
// policies.
func (s *Service) WithProfiles(profiles map[string]*profile.Profile) *Service {
	s.profiles = profiles
	return s
}

// Routes registers the service's endpoints on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/operations", s.HandleSubmit)
	mux.HandleFunc("/api/operations/{id}", s.HandleLookup)
	mux.HandleFunc("/api/ledger/verify", s.HandleVerify)
	mux.HandleFunc("/api/ladder/health", s.HandleLadderHealth)
	mux.HandleFunc("/health", s.HandleHealth)
}

// SubmitRequest is the POST /api/operations payload. OperationID may be
// omitted; the service assigns one. Profile names a configured agreement
// profile and substitutes for Policies when Policies is empty.
type SubmitRequest struct {
	OperationID string           `json:"operation_id,omitempty"`
	Params      string           `json:"params"`
	Replicas    int              `json:"replicas,omitempty"`
	Policies    []agreement.Spec `json:"policies,omitempty"`
	Profile     string           `json:"profile,omitempty"`
}

// HandleSubmit handles POST /api/operations: one full ladder run.
func (s *Service) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if len(req.Policies) == 0 && req.Profile != "" {
		p, ok := s.profiles[req.Profile]
		if !ok {
			WriteBadRequest(w, fmt.Sprintf("Unknown profile %q", req.Profile))
			return
		}
		req.Policies = p.Specs()
		if req.Replicas == 0 {
			req.Replicas = p.Replicas
		}
	}
	if req.OperationID == "" {
		req.OperationID = uuid.New().String()
	}
	if req.Replicas == 0 {
		req.Replicas = s.defaultReplicas
	}

	start := time.Now()
	entry, err := s.engine.Submit(r.Context(), engine.Request{
		OperationID: req.OperationID,
		Params:      req.Params,
		Replicas:    req.Replicas,
		Policies:    req.Policies,
	})
	s.recordOutcome(entry, err, time.Since(start))

	if err != nil {
		s.writeSubmitError(w, r, req.OperationID, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// recordOutcome feeds the ladder health tracker. Only operations that ran
// the ladder count: conflicts, validation failures and guard denials are
// turned away before any level runs.
func (s *Service) recordOutcome(entry *ledger.Entry, err error, latency time.Duration) {
	if s.tracker == nil {
		return
	}
	outcome := observability.LadderOutcome{Latency: latency}
	if err == nil {
		outcome.Level = string(entry.Level)
		outcome.Accepted = true
	} else {
		var exhausted *engine.ExhaustedError
		if !errors.As(err, &exhausted) {
			return
		}
	}
	s.tracker.Record(outcome)
}

func (s *Service) writeSubmitError(w http.ResponseWriter, r *http.Request, operationID string, err error) {
	var (
		exhausted *engine.ExhaustedError
		denial    *guard.DenialError
	)
	switch {
	case errors.Is(err, ledger.ErrConflict):
		WriteConflict(w, fmt.Sprintf("Operation %q is already recorded", operationID))
	case errors.As(err, &exhausted):
		s.writeExhausted(w, r, exhausted)
	case errors.As(err, &denial):
		WriteForbidden(w, denial.Error())
	case errors.Is(err, engine.ErrInvalidRequest):
		WriteBadRequest(w, err.Error())
	case r.Context().Err() != nil:
		// The client went away; there is nobody left to answer.
	default:
		WriteInternal(w, err)
	}
}

// exhaustedProblem extends the problem document with the rejection history,
// one record per attempted policy in attempt order.
type exhaustedProblem struct {
	ProblemDetail
	OperationID string             `json:"operation_id"`
	History     []ledger.Rejection `json:"history"`
}

func (s *Service) writeExhausted(w http.ResponseWriter, r *http.Request, ex *engine.ExhaustedError) {
	problem := exhaustedProblem{
		ProblemDetail: ProblemDetail{
			Type:     problemType(http.StatusUnprocessableEntity),
			Title:    "All Policies Exhausted",
			Status:   http.StatusUnprocessableEntity,
			Detail:   ex.Error(),
			Instance: r.URL.Path,
			TraceID:  w.Header().Get("X-Request-ID"),
		},
		OperationID: ex.OperationID,
		History:     ex.History,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(problem)
}

// HandleLookup handles GET /api/operations/{id}.
func (s *Service) HandleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		WriteBadRequest(w, "Missing operation id")
		return
	}

	entry, err := s.engine.Lookup(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("No entry for operation %q", id))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// VerifyResponse reports the chain verification result.
type VerifyResponse struct {
	Intact bool   `json:"intact"`
	Detail string `json:"detail"`
}

// HandleVerify handles GET /api/ledger/verify: a full chain walk.
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.verifier == nil {
		WriteNotFound(w, "Chain verification is not available on this backend")
		return
	}

	ok, detail, err := s.verifier.Verify(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !ok {
		s.logger.Error("ledger chain verification failed", "detail", detail)
	}

	writeJSON(w, http.StatusOK, VerifyResponse{Intact: ok, Detail: detail})
}

// HandleLadderHealth handles GET /api/ladder/health: acceptance rate and
// degradation depth over the tracker's window.
func (s *Service) HandleLadderHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.tracker == nil {
		WriteNotFound(w, "Ladder health tracking is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Health())
}

// HandleHealth handles GET /health.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
