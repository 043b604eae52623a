package nlp

import (
	"log/slog"
	"regexp"
	"strings"
)

var numberRegexp = regexp.MustCompile(`\b(\d+)\b`)

// FallbackPattern derives a subject filter from keyword matching alone.
// It always succeeds, defaulting unknown segments to the single-token
// wildcard. Matching is deliberately loose substring matching, so "PR"
// triggers on words containing "pr" too; the pattern is a best guess,
// not a parse.
func FallbackPattern(description string) string {
	lowered := strings.ToLower(description)

	publisher := "*"
	resourceType := "*"
	resourceID := "*"
	action := "*"

	switch {
	case strings.Contains(lowered, "github") || strings.Contains(lowered, "pr") || strings.Contains(lowered, "pull request"):
		publisher = "github"
		if strings.Contains(lowered, "pr") || strings.Contains(lowered, "pull request") {
			resourceType = "pull_request"
		}
	case strings.Contains(lowered, "stripe") || strings.Contains(lowered, "payment"):
		publisher = "stripe"
		if strings.Contains(lowered, "payment") {
			resourceType = "payment_intent"
		}
	case strings.Contains(lowered, "slack"):
		publisher = "slack"
	case strings.Contains(lowered, "jira"):
		publisher = "jira"
	}

	if match := numberRegexp.FindString(description); match != "" {
		resourceID = match
	}

	switch {
	case containsAny(lowered, "create", "created", "new"):
		action = "created"
	case containsAny(lowered, "update", "updated", "change", "modified"):
		action = "updated"
	case containsAny(lowered, "delete", "deleted", "remove", "removed"):
		action = "deleted"
	case containsAny(lowered, "approve", "approved"):
		// Approvals surface as updates to the underlying resource.
		action = "updated"
	}

	pattern := "langhook.events." + publisher + "." + resourceType + "." + resourceID + "." + action
	slog.Info("Keyword fallback produced pattern", "description", description, "pattern", pattern)
	return pattern
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
