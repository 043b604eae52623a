// Package gate applies per-subscription LLM filtering to canonical
// events. The gate never returns an error to its caller: model and
// transport failures resolve through the subscription's failover
// policy, and unparseable model output blocks the event.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/metrics"
	"github.com/langhook/langhook/pkg/models"
)

const (
	// DefaultModel evaluates gates whose config names no model.
	DefaultModel = "gpt-4o-mini"

	// confidenceThreshold is the minimum confidence for a positive
	// decision to pass.
	confidenceThreshold = 0.8
)

// Verdict is the outcome of one gate evaluation.
type Verdict struct {
	Passed     bool
	Reason     string
	Confidence float64
}

// Evaluator runs gate prompts against canonical events.
type Evaluator struct {
	model   llm.ChatModel
	metrics *metrics.Metrics
}

// NewEvaluator creates a gate evaluator.
func NewEvaluator(model llm.ChatModel, m *metrics.Metrics) *Evaluator {
	return &Evaluator{model: model, metrics: m}
}

// Evaluate decides whether an event reaches the subscription. event is
// the canonical event as a JSON object; description is the
// subscription's natural-language intent.
func (e *Evaluator) Evaluate(ctx context.Context, event map[string]any, cfg *models.GateConfig, subscriptionID int64, description string) Verdict {
	start := time.Now()
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	failsOpen := cfg.FailsOpen()

	if e.model == nil || !e.model.Available() {
		e.metrics.RecordGateEvaluation(subscriptionID, modelName, failsOpen, "llm_unavailable")
		slog.Warn("Gate evaluation skipped, LLM unavailable",
			"subscription_id", subscriptionID, "fails_open", failsOpen)
		return Verdict{Passed: failsOpen, Reason: "LLM service unavailable"}
	}

	prompt, err := renderPrompt(cfg.Prompt, description, event)
	if err != nil {
		e.metrics.RecordGateEvaluation(subscriptionID, modelName, failsOpen, "evaluation_error")
		slog.Error("Gate prompt rendering failed",
			"subscription_id", subscriptionID, "error", err, "fails_open", failsOpen)
		return Verdict{Passed: failsOpen, Reason: fmt.Sprintf("Gate evaluation error: %s", err)}
	}

	completion, err := e.model.Complete(ctx, llm.Request{User: prompt, Model: modelName})
	if err != nil {
		e.metrics.RecordGateEvaluation(subscriptionID, modelName, failsOpen, "evaluation_error")
		slog.Error("Gate evaluation failed",
			"subscription_id", subscriptionID, "model", modelName,
			"error", err, "fails_open", failsOpen)
		return Verdict{Passed: failsOpen, Reason: fmt.Sprintf("Gate evaluation error: %s", err)}
	}

	decision := parseDecision(completion.Content)
	passed := decision.decision && decision.confidence >= confidenceThreshold

	duration := time.Since(start)
	cost := estimateCost(prompt, completion, modelName)
	e.metrics.RecordGateEvaluation(subscriptionID, modelName, passed, "")
	e.metrics.RecordGateDuration(modelName, duration)
	e.metrics.RecordGateCost(subscriptionID, modelName, cost)

	slog.Info("Gate evaluation completed",
		"subscription_id", subscriptionID,
		"model", modelName,
		"passed", passed,
		"confidence", decision.confidence,
		"threshold", confidenceThreshold,
		"reasoning", decision.reasoning,
		"duration", duration,
		"estimated_cost_usd", cost)

	return Verdict{Passed: passed, Reason: decision.reasoning, Confidence: decision.confidence}
}

type gateDecision struct {
	decision   bool
	confidence float64
	reasoning  string
}

// parseDecision reads the model's JSON verdict, tolerating code fences,
// surrounding prose, missing fields, and loosely typed values. Anything
// unparseable blocks the event rather than triggering failover: the
// model responded, it just responded badly.
func parseDecision(response string) gateDecision {
	cleaned := llm.StripFences(response)
	if obj, ok := llm.ExtractJSONObject(cleaned); ok {
		cleaned = obj
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		slog.Warn("Failed to parse gate response", "response", response, "error", err)
		return gateDecision{reasoning: fmt.Sprintf("Failed to parse LLM response: %s", err)}
	}

	parsed := gateDecision{reasoning: "No reasoning provided"}
	parsed.decision = coerceBool(raw["decision"])
	parsed.confidence = coerceFloat(raw["confidence"])
	if reasoning, ok := raw["reasoning"].(string); ok && reasoning != "" {
		parsed.reasoning = reasoning
	}
	return parsed
}

func coerceBool(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		return err == nil && parsed
	case float64:
		return value != 0
	default:
		return false
	}
}

func coerceFloat(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// tokenCosts is USD per 1K tokens. Unlisted models are billed at the
// gpt-4o-mini rate.
var tokenCosts = map[string]struct{ input, output float64 }{
	"gpt-4o-mini":   {0.00015, 0.0006},
	"gpt-4o":        {0.005, 0.015},
	"gpt-4":         {0.03, 0.06},
	"gpt-3.5-turbo": {0.0015, 0.002},
}

// estimateCost approximates the USD cost of one evaluation. Provider
// token counts are used when present; otherwise tokens are estimated at
// four characters each.
func estimateCost(prompt string, completion *llm.Completion, model string) float64 {
	promptTokens := float64(completion.PromptTokens)
	responseTokens := float64(completion.CompletionTokens)
	if promptTokens == 0 && responseTokens == 0 {
		promptTokens = float64(len(prompt)) / 4
		responseTokens = float64(len(completion.Content)) / 4
	}

	rates, ok := tokenCosts[model]
	if !ok {
		rates = tokenCosts[DefaultModel]
	}
	return (promptTokens/1000)*rates.input + (responseTokens/1000)*rates.output
}
