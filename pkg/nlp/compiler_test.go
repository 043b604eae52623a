package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langhook/langhook/pkg/llm/llmtest"
	"github.com/langhook/langhook/pkg/models"
)

type staticSchemas struct {
	summary *models.SchemaSummary
	err     error
}

func (s staticSchemas) Summary(context.Context) (*models.SchemaSummary, error) {
	return s.summary, s.err
}

func registeredSchemas() staticSchemas {
	return staticSchemas{summary: &models.SchemaSummary{
		Publishers: []string{"github", "stripe"},
		ResourceTypes: map[string][]string{
			"github": {"issues", "pull_request"},
			"stripe": {"payment_intent"},
		},
		Actions: []string{"created", "deleted", "updated"},
	}}
}

func TestCompiler_Compile(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the model's pattern", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "langhook.events.github.pull_request.1374.updated"})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "Notify me when PR 1374 is approved", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.github.pull_request.1374.updated", result.Pattern)
		assert.Empty(t, result.GatePrompt)
	})

	t.Run("extracts pattern from surrounding prose", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{
			Content: "The best match is langhook.events.stripe.payment_intent.*.created for that request.",
		})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "new stripe payments", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.stripe.payment_intent.*.created", result.Pattern)
	})

	t.Run("normalizes pattern casing", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "LANGHOOK.EVENTS.GITHUB.ISSUES.*.CREATED"})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "new github issues", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.github.issues.*.created", result.Pattern)
	})

	t.Run("injects registry vocabulary into the prompt", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "langhook.events.github.issues.*.created"})
		compiler := NewCompiler(model, registeredSchemas())

		_, err := compiler.Compile(ctx, "new github issues", false)
		require.NoError(t, err)

		req, ok := model.LastRequest()
		require.True(t, ok)
		assert.Contains(t, req.System, "Publishers: github, stripe")
		assert.Contains(t, req.System, "Actions: created, deleted, updated")
		assert.Contains(t, req.System, "- github: issues, pull_request")
		assert.Contains(t, req.User, "new github issues")
	})

	t.Run("rejects descriptions outside the vocabulary", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "ERROR: No suitable schema found"})
		compiler := NewCompiler(model, registeredSchemas())

		_, err := compiler.Compile(ctx, "when my toaster finishes", false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoSuitableSchema))
	})

	t.Run("empty registry instructs the model to reject", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "ERROR: No registered schemas available"})
		compiler := NewCompiler(model, staticSchemas{summary: &models.SchemaSummary{}})

		_, err := compiler.Compile(ctx, "anything at all", false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoSuitableSchema))

		req, ok := model.LastRequest()
		require.True(t, ok)
		assert.Contains(t, req.System, "No event schemas are currently registered")
	})

	t.Run("unreadable registry behaves like an empty one", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "ERROR: No registered schemas available"})
		compiler := NewCompiler(model, staticSchemas{err: errors.New("connection refused")})

		_, err := compiler.Compile(ctx, "anything at all", false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoSuitableSchema))
	})

	t.Run("model failure degrades to keyword fallback", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Err: errors.New("rate limited")})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "stripe payment updated", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.stripe.payment_intent.*.updated", result.Pattern)
	})

	t.Run("unusable response degrades to keyword fallback", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "I am not sure what you mean."})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "new github issues", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.github.*.*.created", result.Pattern)
	})

	t.Run("offline model never calls Complete", func(t *testing.T) {
		model := llmtest.Offline()
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "jira ticket changed", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.jira.*.*.updated", result.Pattern)
		assert.Zero(t, model.CallCount())
	})

	t.Run("nil model uses keyword fallback", func(t *testing.T) {
		compiler := NewCompiler(nil, registeredSchemas())

		result, err := compiler.Compile(ctx, "slack message deleted", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.slack.*.*.deleted", result.Pattern)
	})
}

func TestCompiler_CompileWithGate(t *testing.T) {
	ctx := context.Background()

	t.Run("reads pattern and gate prompt from JSON response", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{
			Content: `{"pattern": "langhook.events.stripe.payment_intent.*.created", "gate_prompt": "Allow only payments over $1000"}`,
		})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "Large stripe payments", true)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.stripe.payment_intent.*.created", result.Pattern)
		assert.Equal(t, "Allow only payments over $1000", result.GatePrompt)
	})

	t.Run("tolerates fenced JSON response", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{
			Content: "```json\n{\"pattern\": \"langhook.events.github.issues.*.created\", \"gate_prompt\": \"Only critical issues\"}\n```",
		})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "critical github issues", true)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.github.issues.*.created", result.Pattern)
		assert.Equal(t, "Only critical issues", result.GatePrompt)
	})

	t.Run("bare pattern response defaults gate prompt to the description", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{Content: "langhook.events.github.pull_request.*.created"})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "GitHub pull requests", true)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.github.pull_request.*.created", result.Pattern)
		assert.Equal(t, "GitHub pull requests", result.GatePrompt)
	})

	t.Run("gate disabled ignores any gate prompt in the response", func(t *testing.T) {
		model := llmtest.NewModel(llmtest.Reply{
			Content: `{"pattern": "langhook.events.github.pull_request.*.created", "gate_prompt": "unsolicited"}`,
		})
		compiler := NewCompiler(model, registeredSchemas())

		result, err := compiler.Compile(ctx, "GitHub pull requests", false)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.github.pull_request.*.created", result.Pattern)
		assert.Empty(t, result.GatePrompt)
	})

	t.Run("gate mode requests a JSON response", func(t *testing.T) {
		model := llmtest.NewModel(
			llmtest.Reply{Content: "langhook.events.github.issues.*.created"},
			llmtest.Reply{Content: "langhook.events.github.issues.*.created"},
		)
		compiler := NewCompiler(model, registeredSchemas())

		_, err := compiler.Compile(ctx, "github issues", true)
		require.NoError(t, err)
		req, ok := model.LastRequest()
		require.True(t, ok)
		assert.Contains(t, req.System, `"gate_prompt"`)

		_, err = compiler.Compile(ctx, "github issues", false)
		require.NoError(t, err)
		req, ok = model.LastRequest()
		require.True(t, ok)
		assert.NotContains(t, req.System, `"gate_prompt"`)
	})

	t.Run("fallback carries the description as gate prompt", func(t *testing.T) {
		compiler := NewCompiler(nil, registeredSchemas())

		result, err := compiler.Compile(ctx, "stripe payment updated", true)
		require.NoError(t, err)
		assert.Equal(t, "langhook.events.stripe.payment_intent.*.updated", result.Pattern)
		assert.Equal(t, "stripe payment updated", result.GatePrompt)
	})
}

func TestIsNoSchemaResponse(t *testing.T) {
	tests := []struct {
		response string
		want     bool
	}{
		{"ERROR: No suitable schema found", true},
		{"error: no registered schemas available", true},
		{"Sorry, this request cannot be mapped to the schemas.", true},
		{"The requested publisher is not available in the registry.", true},
		{"langhook.events.github.pull_request.*.updated", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNoSchemaResponse(tt.response), "response: %q", tt.response)
	}
}

func TestParseResponse(t *testing.T) {
	t.Run("JSON with malformed pattern is unusable", func(t *testing.T) {
		_, ok := parseResponse(`{"pattern": "github.pull_request.created"}`)
		assert.False(t, ok)
	})

	t.Run("prose containing braces still yields the bare pattern", func(t *testing.T) {
		result, ok := parseResponse(`The pattern {as requested} is langhook.events.github.issues.*.created`)
		require.True(t, ok)
		assert.Equal(t, "langhook.events.github.issues.*.created", result.Pattern)
	})
}

func TestExtractPattern(t *testing.T) {
	t.Run("requires the full six-token shape", func(t *testing.T) {
		_, ok := extractPattern("langhook.events.github.pull_request")
		assert.False(t, ok)
	})

	t.Run("accepts wildcards in any segment", func(t *testing.T) {
		pattern, ok := extractPattern("langhook.events.*.user.123.deleted")
		require.True(t, ok)
		assert.Equal(t, "langhook.events.*.user.123.deleted", pattern)
	})

	t.Run("takes the first pattern when several appear", func(t *testing.T) {
		pattern, ok := extractPattern(
			"Either langhook.events.github.issues.*.created or langhook.events.github.issues.*.updated")
		require.True(t, ok)
		assert.Equal(t, "langhook.events.github.issues.*.created", pattern)
	})
}
