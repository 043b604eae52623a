// Package fingerprint derives a stable identity for a webhook payload's
// structure. Two payloads with the same key set and per-key value types
// produce the same fingerprint regardless of the concrete values, which
// lets the canonicaliser reuse one synthesised transform for every
// payload of that shape.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// TypeSkeleton replaces every value in the payload with its type name,
// recursing into nested objects. Lists keep only the shape of their first
// element: a one-element list with the element's skeleton for object lists,
// a one-element list with the type name for scalar lists, and an empty
// list when the list is empty.
func TypeSkeleton(payload map[string]any) map[string]any {
	skeleton := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case map[string]any:
			skeleton[key] = TypeSkeleton(v)
		case []any:
			if len(v) == 0 {
				skeleton[key] = []any{}
			} else if nested, ok := v[0].(map[string]any); ok {
				skeleton[key] = []any{TypeSkeleton(nested)}
			} else {
				skeleton[key] = []any{typeName(v[0])}
			}
		default:
			skeleton[key] = typeName(value)
		}
	}
	return skeleton
}

// typeName normalises a JSON-decoded scalar to its schema type name.
func typeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	case []any:
		return "array"
	default:
		return "string"
	}
}

// Canonical serialises a skeleton as compact JSON with keys in
// lexicographic order, the form that gets hashed.
func Canonical(skeleton map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(skeleton); err != nil {
		return nil, fmt.Errorf("failed to serialise type skeleton: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the 64-character hex SHA-256 fingerprint of the payload's
// type skeleton.
func Hash(payload map[string]any) (string, error) {
	canonical, err := Canonical(TypeSkeleton(payload))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
