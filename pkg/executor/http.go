package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/limiter"
)

// HTTPWorkUnit produces values through an OpenAI-compatible chat completion
// endpoint. One Produce call is exactly one upstream request.
type HTTPWorkUnit struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
	client   *http.Client

	// SystemPrompt, when set, is prepended to every request.
	SystemPrompt string
	// Limiter, when set, gates each upstream call against Budget.
	Limiter limiter.Store
	Budget  limiter.CallBudget
}

type unitMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type unitRequest struct {
	Model       string        `json:"model"`
	Messages    []unitMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type unitResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewHTTPWorkUnit creates a work unit backed by an OpenAI-compatible endpoint.
func NewHTTPWorkUnit(endpoint, apiKey, model string, timeout time.Duration) (*HTTPWorkUnit, error) {
	if endpoint == "" {
		return nil, errors.New("executor: endpoint is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPWorkUnit{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Produce sends params as a single-turn prompt and returns the completion.
func (u *HTTPWorkUnit) Produce(ctx context.Context, params string) (string, error) {
	// 1. Budget admission. Fail-closed: a denied call never reaches upstream.
	if u.Limiter != nil {
		if err := limiter.Evaluate(ctx, u.Limiter, "executor", u.Budget); err != nil {
			return "", &WorkFailure{Kind: FailureBackend, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	msgs := make([]unitMessage, 0, 2)
	if u.SystemPrompt != "" {
		msgs = append(msgs, unitMessage{Role: "system", Content: u.SystemPrompt})
	}
	msgs = append(msgs, unitMessage{Role: "user", Content: params})

	jsonBody, err := json.Marshal(unitRequest{Model: u.model, Messages: msgs})
	if err != nil {
		return "", &WorkFailure{Kind: FailureBackend, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", &WorkFailure{Kind: FailureBackend, Err: fmt.Errorf("create request: %w", err)}
	}
	if u.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 2. Non-200 is a backend failure, never silently tolerated.
	if resp.StatusCode != 200 {
		return "", &WorkFailure{Kind: FailureBackend, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	}

	var out unitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &WorkFailure{Kind: FailureMalformed, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &WorkFailure{Kind: FailureMalformed, Err: errors.New("empty choices in response")}
	}

	value := strings.TrimSpace(out.Choices[0].Message.Content)
	if value == "" {
		return "", &WorkFailure{Kind: FailureMalformed, Err: errors.New("empty completion content")}
	}
	return value, nil
}
