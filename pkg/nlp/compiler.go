// Package nlp compiles natural-language subscription descriptions into
// subject filter patterns. The compiler constrains the model to the
// vocabulary the schema registry has actually observed; descriptions
// that cannot be expressed in that vocabulary are rejected rather than
// guessed at. Without a model it degrades to keyword matching.
package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/models"
)

// ErrNoSuitableSchema is returned when the description cannot be mapped
// onto any registered event schema.
var ErrNoSuitableSchema = errors.New("no suitable schema found for description")

// patternRegexp matches a full subject filter: the fixed prefix plus
// exactly four tokens of literals and wildcards.
var (
	patternRegexp      = regexp.MustCompile(`langhook\.events\.([a-z0-9_\-*>]+\.){3}[a-z0-9_\-*>]+`)
	exactPatternRegexp = regexp.MustCompile(`^langhook\.events\.([a-z0-9_\-*>]+\.){3}[a-z0-9_\-*>]+$`)
)

// noSchemaIndicators are response fragments meaning the model declined
// to produce a pattern.
var noSchemaIndicators = []string{
	"error: no suitable schema found",
	"error: no registered schemas available",
	"no suitable schema",
	"no registered schemas",
	"cannot be mapped",
	"not available in",
	"schema not found",
}

// SchemaProvider supplies the registry roll-up injected into the prompt.
// Implemented by services.SchemaRegistryService.
type SchemaProvider interface {
	Summary(ctx context.Context) (*models.SchemaSummary, error)
}

// Result is a compiled subscription filter. GatePrompt is set only when
// the compile ran with the gate enabled; it defaults to the description
// when the model supplies no prompt of its own.
type Result struct {
	Pattern    string
	GatePrompt string
}

// Compiler converts descriptions to subject filter patterns.
type Compiler struct {
	model   llm.ChatModel
	schemas SchemaProvider
}

// NewCompiler creates a pattern compiler. A nil model is allowed and
// routes every description through the keyword fallback.
func NewCompiler(model llm.ChatModel, schemas SchemaProvider) *Compiler {
	return &Compiler{model: model, schemas: schemas}
}

// Compile converts a natural-language description into a subject filter
// pattern, and with gateEnabled also into a gate prompt. Returns
// ErrNoSuitableSchema when the registry vocabulary cannot express the
// description; any other model failure degrades to the keyword fallback
// so subscription creation keeps working.
func (c *Compiler) Compile(ctx context.Context, description string, gateEnabled bool) (Result, error) {
	if c.model == nil || !c.model.Available() {
		return c.fallback(description, gateEnabled), nil
	}

	summary := c.schemaSummary(ctx)
	completion, err := c.model.Complete(ctx, llm.Request{
		System: systemPrompt(summary, gateEnabled),
		User:   userPrompt(description),
	})
	if err != nil {
		slog.Error("Pattern compilation failed, using keyword fallback",
			"description", description, "error", err)
		return c.fallback(description, gateEnabled), nil
	}

	response := strings.TrimSpace(completion.Content)
	if isNoSchemaResponse(response) {
		slog.Warn("Model found no suitable schema for description",
			"description", description, "response", response)
		return Result{}, fmt.Errorf("%w: %s", ErrNoSuitableSchema, description)
	}

	if result, ok := parseResponse(response); ok {
		if !gateEnabled {
			result.GatePrompt = ""
		} else if result.GatePrompt == "" {
			result.GatePrompt = description
		}
		slog.Info("Compiled description to pattern",
			"description", description, "pattern", result.Pattern)
		return result, nil
	}

	slog.Warn("Could not extract pattern from model response, using keyword fallback",
		"description", description, "response", response)
	return c.fallback(description, gateEnabled), nil
}

func (c *Compiler) fallback(description string, gateEnabled bool) Result {
	result := Result{Pattern: FallbackPattern(description)}
	if gateEnabled {
		result.GatePrompt = description
	}
	return result
}

func (c *Compiler) schemaSummary(ctx context.Context) *models.SchemaSummary {
	summary, err := c.schemas.Summary(ctx)
	if err != nil {
		// An unreadable registry behaves like an empty one: the prompt
		// instructs the model to reject, surfacing as ErrNoSuitableSchema.
		slog.Warn("Failed to fetch schema summary for prompt", "error", err)
		return &models.SchemaSummary{}
	}
	return summary
}

func isNoSchemaResponse(response string) bool {
	lowered := strings.ToLower(strings.TrimSpace(response))
	for _, indicator := range noSchemaIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

// parseResponse reads the model output as either a JSON object carrying
// "pattern" (and optionally "gate_prompt") or a bare pattern string.
func parseResponse(response string) (Result, bool) {
	cleaned := llm.StripFences(response)
	if obj, ok := llm.ExtractJSONObject(cleaned); ok {
		var fields struct {
			Pattern    string `json:"pattern"`
			GatePrompt string `json:"gate_prompt"`
		}
		if err := json.Unmarshal([]byte(obj), &fields); err == nil && fields.Pattern != "" {
			if pattern, ok := extractPattern(fields.Pattern); ok {
				return Result{Pattern: pattern, GatePrompt: fields.GatePrompt}, true
			}
			return Result{}, false
		}
	}

	if pattern, ok := extractPattern(response); ok {
		return Result{Pattern: pattern}, true
	}
	return Result{}, false
}

// extractPattern pulls the first full subject filter out of the model
// response, tolerating prose around it.
func extractPattern(response string) (string, bool) {
	lowered := strings.ToLower(response)
	if match := patternRegexp.FindString(lowered); match != "" {
		return match, true
	}

	cleaned := strings.ToLower(strings.TrimSpace(response))
	if exactPatternRegexp.MatchString(cleaned) {
		return cleaned, true
	}
	return "", false
}
