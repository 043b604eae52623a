package gate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Built-in prompt templates. A subscription's gate prompt may be empty
// (default template), the name of one of these, or fully custom text.
// Templates carry {description} and {event_data} placeholders.
var templates = map[string]string{
	"default": `You are an intelligent event filter for a subscription monitoring system.

The user has subscribed to: "{description}"

Your task is to evaluate whether the following event genuinely matches the user's intent.

Return ONLY a JSON object with this exact format:
{
    "decision": true or false,
    "confidence": 0.0 to 1.0,
    "reasoning": "brief explanation"
}

Event to evaluate:
{event_data}

Consider:
- Does this event truly match what the user wants to be notified about?
- Is this event important enough to warrant an alert?
- Would a reasonable person consider this relevant to their subscription?

Be selective - only pass events that clearly match the user's intent.`,

	"important_only": `You are a strict event filter that only allows truly important events.

The user wants to be notified about: "{description}"

Your job is to be VERY selective and only allow events that are genuinely important or urgent.

Return ONLY a JSON object:
{
    "decision": true or false,
    "confidence": 0.0 to 1.0,
    "reasoning": "brief explanation"
}

Event to evaluate:
{event_data}

Only return true if:
- The event is urgent or time-sensitive
- The event indicates a problem or critical change
- The event requires immediate attention
- The event is clearly what the user specifically wants

Be strict - when in doubt, block the event.`,

	"high_value": `You are filtering events for a busy professional who only wants high-value notifications.

Subscription intent: "{description}"

Evaluate if this event provides genuine business value or actionable information.

Return ONLY a JSON object:
{
    "decision": true or false,
    "confidence": 0.0 to 1.0,
    "reasoning": "brief explanation"
}

Event to evaluate:
{event_data}

Allow events that:
- Require decision-making or action
- Indicate significant business impact
- Represent meaningful progress or completion
- Signal problems that need attention

Block routine/informational events unless specifically requested.`,

	"security_focused": `You are a security-focused event filter.

The user is monitoring: "{description}"

Focus on security implications and potential threats.

Return ONLY a JSON object:
{
    "decision": true or false,
    "confidence": 0.0 to 1.0,
    "reasoning": "brief explanation"
}

Event to evaluate:
{event_data}

Prioritize events involving:
- Security vulnerabilities or incidents
- Authentication or access changes
- Permission modifications
- Failed login attempts
- Suspicious activity
- Security-related configuration changes

Be vigilant about potential security implications.`,
}

// TemplateNames lists the built-in templates a gate prompt may name.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}

// renderPrompt resolves the configured prompt and substitutes the
// subscription description and the event payload.
func renderPrompt(configured, description string, event map[string]any) (string, error) {
	template := configured
	switch {
	case template == "":
		template = templates["default"]
	default:
		if builtin, ok := templates[template]; ok {
			template = builtin
		}
	}

	template = strings.ReplaceAll(template, "{description}", description)

	eventJSON, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode event for gate prompt: %w", err)
	}
	if !strings.Contains(template, "{event_data}") {
		// Custom prompts without the placeholder still get the event.
		return template + "\n\nEvent to evaluate:\n" + string(eventJSON), nil
	}
	return strings.ReplaceAll(template, "{event_data}", string(eventJSON)), nil
}
