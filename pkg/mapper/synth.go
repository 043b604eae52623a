package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/transform"
)

const synthSystemPrompt = `You are an API analyst specializing in webhook payload transformation.

Your task is to analyze a webhook JSON payload and write a transform expression that converts every payload of this shape into a canonical event.

The expression language supports:
- object construction with string keys
- dotted field paths referencing the payload, e.g. pull_request.id or data.object.amount
- conditional chains, e.g. action = "opened" ? "created" : action = "closed" ? "deleted" : "updated"
- string concatenation with &
- scalar functions: $string(x), $number(x), $lowercase(x), $uppercase(x), $substringBefore(x, sep), $substringAfter(x, sep), $fromUnix(seconds), $fromMillis(ms), $now()

The canonical event requires these fields:
- publisher: the upstream system slug (lowercase snake_case); use the source name
- resource: an object with "type" (singular noun) and "id" (an atomic identifier taken from the payload)
- action: CRUD verb, one of "create", "read", "update", "delete"
- timestamp: ISO-8601 event time; reference a payload timestamp field, converting epoch numbers with $fromUnix or $fromMillis, or use $now() when the payload carries no time

Guidelines:
1. Identify the main resource and the action from the payload structure
2. Reference the payload's own fields for ids and timestamps, never hardcode their values
3. When the payload carries an event-type or action field, derive the action from it with a conditional chain so the same expression covers every variant of this shape
4. Return ONLY the transform expression, no explanations or code blocks

Example for a GitHub pull request webhook:
{"publisher": "github", "resource": {"type": "pull_request", "id": pull_request.id}, "action": action = "opened" ? "created" : action = "closed" ? "deleted" : "updated", "timestamp": pull_request.created_at}`

// synthUserPrompt carries the source slug and the payload the
// expression must cover.
func synthUserPrompt(source string, payload map[string]any) (string, error) {
	payloadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode payload for synthesis prompt: %w", err)
	}
	return fmt.Sprintf("Source: %s\n\nPayload:\n%s\n\nTransform expression:", source, payloadJSON), nil
}

// synthesise asks the model for a transform expression covering the
// payload's shape. The returned source has parsed successfully; whether
// it evaluates to a valid canonical event is the caller's check.
func (c *Canonicaliser) synthesise(ctx context.Context, source string, payload map[string]any) (string, error) {
	user, err := synthUserPrompt(source, payload)
	if err != nil {
		return "", err
	}

	completion, err := c.model.Complete(ctx, llm.Request{System: synthSystemPrompt, User: user})
	if err != nil {
		return "", fmt.Errorf("transform synthesis failed: %w", err)
	}

	exprSrc := strings.TrimSpace(llm.StripFences(completion.Content))
	if _, err := transform.Parse(exprSrc); err != nil {
		return "", fmt.Errorf("synthesised expression does not parse: %w", err)
	}
	return exprSrc, nil
}
