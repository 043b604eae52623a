package nlp

import (
	"fmt"
	"strings"

	"github.com/langhook/langhook/pkg/models"
)

const promptHeader = `You are a NATS JetStream filter pattern generator for LangHook event subscriptions.

Your job is to convert natural language descriptions into NATS subject filter patterns using ONLY the registered event schemas.

NATS subject pattern format: langhook.events.<publisher>.<resource_type>.<resource_id>.<action>

Examples:
- "langhook.events.github.pull_request.1374.updated" - GitHub PR 1374 updates
- "langhook.events.stripe.payment_intent.*.created" - Any Stripe payment intent creation
- "langhook.events.*.user.123.deleted" - User 123 deletion from any system
- "langhook.events.github.*.*.updated" - Any GitHub resource updates

Wildcards:
- "*" matches exactly one token
- ">" matches one or more tokens at the end`

const promptFooter = `Respond with just the pattern, nothing else. If no suitable schema is found, respond with "ERROR: No suitable schema found".`

const gatePromptFooter = `This subscription has an LLM gate enabled. Respond with a JSON object of this exact shape:
{"pattern": "<the NATS filter pattern>", "gate_prompt": "<a one-sentence instruction telling an LLM which matching events should be allowed through>"}

Respond with ONLY the JSON object, nothing else. If no suitable schema is found, respond with "ERROR: No suitable schema found".`

const emptyRegistryInfo = `IMPORTANT: No event schemas are currently registered in the system. You must respond with "ERROR: No registered schemas available" for any subscription request.`

// systemPrompt renders the compiler instructions with the registry
// vocabulary inlined.
func systemPrompt(summary *models.SchemaSummary, gateEnabled bool) string {
	footer := promptFooter
	if gateEnabled {
		footer = gatePromptFooter
	}
	return promptHeader + "\n\n" + schemaInfo(summary) + "\n\n" + footer
}

func schemaInfo(summary *models.SchemaSummary) string {
	if summary.Empty() {
		return emptyRegistryInfo
	}

	var b strings.Builder
	b.WriteString("AVAILABLE EVENT SCHEMAS:\n")
	b.WriteString("Publishers: " + strings.Join(summary.Publishers, ", ") + "\n")
	b.WriteString("Actions: " + strings.Join(summary.Actions, ", ") + "\n")
	b.WriteString("Resource types by publisher:\n")
	for _, publisher := range summary.Publishers {
		b.WriteString(fmt.Sprintf("- %s: %s\n", publisher, strings.Join(summary.ResourceTypes[publisher], ", ")))
	}
	b.WriteString("\nIMPORTANT: You may ONLY use the publishers, resource types, and actions listed above. ")
	b.WriteString(`If the user's request cannot be mapped to these exact schemas, respond with "ERROR: No suitable schema found" instead of a pattern.`)
	return b.String()
}

func userPrompt(description string) string {
	return fmt.Sprintf("Convert this natural language description to a NATS filter pattern:\n\n%q\n\nPattern:", description)
}
