package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/accord/pkg/limiter"
)

// verdictSchema constrains what a judge response may look like. Anything
// else is a malformed verdict and the call fails (the caller treats that
// as a policy rejection, not a fatal error).
const verdictSchema = `{
	"type": "object",
	"properties": {
		"verdict": {"type": "boolean"},
		"reason": {"type": "string"}
	},
	"required": ["verdict"]
}`

const verdictSchemaURL = "https://accord.schemas.local/judge/verdict.schema.json"

// OpenAIJudge implements Judge against an OpenAI-compatible chat
// completions endpoint. The model is instructed to answer with a single
// JSON verdict object, which is validated against verdictSchema before
// being trusted.
type OpenAIJudge struct {
	endpoint string
	apiKey   string
	model    string
	timeout  time.Duration
	client   *http.Client
	schema   *jsonschema.Schema

	// Optional call budget. Nil store means unlimited.
	Limiter limiter.Store
	Budget  limiter.CallBudget
}

// NewOpenAIJudge builds a judge client. The per-call timeout bounds every
// Compare/Assess invocation in addition to the caller's context.
func NewOpenAIJudge(endpoint, apiKey, model string, timeout time.Duration) (*OpenAIJudge, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("judge: endpoint is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(verdictSchemaURL, strings.NewReader(verdictSchema)); err != nil {
		return nil, fmt.Errorf("judge: schema load failed: %w", err)
	}
	compiled, err := c.Compile(verdictSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("judge: schema compile failed: %w", err)
	}

	return &OpenAIJudge{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		schema:   compiled,
	}, nil
}

type judgeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type judgeRequest struct {
	Model       string         `json:"model"`
	Messages    []judgeMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
}

type judgeResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const comparePromptSystem = "You compare candidate answers for equivalence under a stated principle. " +
	"Reply with exactly one JSON object: {\"verdict\": true|false, \"reason\": \"...\"}."

const assessPromptSystem = "You assess whether a candidate answer satisfies the stated criteria for a task. " +
	"Reply with exactly one JSON object: {\"verdict\": true|false, \"reason\": \"...\"}."

// Compare asks the judge whether all candidates are equivalent under the
// principle.
func (j *OpenAIJudge) Compare(ctx context.Context, candidates []string, principle string) (bool, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Principle: %s\n\nCandidates:\n", principle)
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("\nAre all candidates equivalent under the principle?")

	return j.call(ctx, "compare", comparePromptSystem, sb.String())
}

// Assess asks the judge whether one candidate meets the criteria.
func (j *OpenAIJudge) Assess(ctx context.Context, candidate, task, criteria string) (bool, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\nCriteria: %s\n\nCandidate:\n%s\n", task, criteria, candidate)
	sb.WriteString("\nDoes the candidate satisfy the criteria?")

	return j.call(ctx, "assess", assessPromptSystem, sb.String())
}

func (j *OpenAIJudge) call(ctx context.Context, kind, system, user string) (bool, error) {
	// 1. Budget check (fail closed when a store is configured)
	if j.Limiter != nil {
		if err := limiter.Evaluate(ctx, j.Limiter, "judge", j.Budget); err != nil {
			return false, fmt.Errorf("judge %s: %w", kind, err)
		}
	}

	// 2. Bound the call
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	reqBody := judgeRequest{
		Model: j.model,
		Messages: []judgeMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("judge %s: marshal request: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", j.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return false, fmt.Errorf("judge %s: create request: %w", kind, err)
	}
	if j.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("judge %s: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return false, fmt.Errorf("judge %s: status %d", kind, resp.StatusCode)
	}

	var jr judgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return false, fmt.Errorf("judge %s: decode response: %w", kind, err)
	}
	if len(jr.Choices) == 0 {
		return false, fmt.Errorf("judge %s: empty choices in response", kind)
	}

	return j.parseVerdict(kind, jr.Choices[0].Message.Content)
}

// parseVerdict extracts and validates the JSON verdict object.
func (j *OpenAIJudge) parseVerdict(kind, content string) (bool, error) {
	var payload any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return false, fmt.Errorf("judge %s: malformed verdict: %w", kind, err)
	}
	if err := j.schema.Validate(payload); err != nil {
		return false, fmt.Errorf("judge %s: verdict schema violation: %w", kind, err)
	}

	obj := payload.(map[string]any)
	verdict, _ := obj["verdict"].(bool)
	return verdict, nil
}
