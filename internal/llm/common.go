package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"

	recist "github.com/recist/recist/internal/model"
)

func classifyLLMErr(err error, backend, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &recist.BackendTimeout{Backend: backend, Op: op, Err: err}
	}
	return &recist.BackendUnavailable{Backend: backend, Op: op, Err: err}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")

// ExtractJSON pulls the JSON payload out of a model completion,
// tolerating the common case of the model wrapping it in a fenced code
// block, and falling back to the raw trimmed text otherwise. Diagnosis
// and plan-proposal prompts instruct the model to answer with a single
// JSON object and nothing else, but providers often wrap it in a fenced
// block anyway, so handling both shapes keeps ParseError limited to
// genuinely unparseable responses.
func ExtractJSON(completion string) string {
	if m := fencedJSON.FindStringSubmatch(completion); len(m) == 2 {
		return m[1]
	}
	return strings.TrimSpace(completion)
}
