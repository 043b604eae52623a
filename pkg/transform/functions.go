package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// isoTimeFormat is the timestamp shape the function library emits: UTC
// with millisecond precision and a Z suffix.
const isoTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func (n *callNode) eval(ev *evaluator) (any, error) {
	args := make([]any, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(ev)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch n.name {
	case "string":
		if err := n.arity(args, 1, 1); err != nil {
			return nil, err
		}
		if isUndefined(args[0]) {
			return undefined, nil
		}
		return stringify(args[0]), nil

	case "number":
		if err := n.arity(args, 1, 1); err != nil {
			return nil, err
		}
		return castNumber(args[0])

	case "lowercase", "uppercase":
		if err := n.arity(args, 1, 1); err != nil {
			return nil, err
		}
		if isUndefined(args[0]) {
			return undefined, nil
		}
		s, err := n.stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		if n.name == "lowercase" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil

	case "substringBefore", "substringAfter":
		if err := n.arity(args, 2, 2); err != nil {
			return nil, err
		}
		if isUndefined(args[0]) {
			return undefined, nil
		}
		s, err := n.stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		sep, err := n.stringArg(args, 1)
		if err != nil {
			return nil, err
		}
		idx := strings.Index(s, sep)
		if idx < 0 {
			return s, nil
		}
		if n.name == "substringBefore" {
			return s[:idx], nil
		}
		return s[idx+len(sep):], nil

	case "substring":
		if err := n.arity(args, 2, 3); err != nil {
			return nil, err
		}
		if isUndefined(args[0]) {
			return undefined, nil
		}
		s, err := n.stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		start, err := n.numberArg(args, 1)
		if err != nil {
			return nil, err
		}
		length := -1.0
		if len(args) == 3 {
			if length, err = n.numberArg(args, 2); err != nil {
				return nil, err
			}
		}
		return substring(s, int(start), int(length), len(args) == 3), nil

	case "fromMillis":
		if err := n.arity(args, 1, 1); err != nil {
			return nil, err
		}
		if isUndefined(args[0]) {
			return undefined, nil
		}
		ms, err := n.numberArg(args, 0)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(int64(ms)).UTC().Format(isoTimeFormat), nil

	case "fromUnix":
		if err := n.arity(args, 1, 1); err != nil {
			return nil, err
		}
		if isUndefined(args[0]) {
			return undefined, nil
		}
		sec, err := n.numberArg(args, 0)
		if err != nil {
			return nil, err
		}
		return time.Unix(int64(sec), 0).UTC().Format(isoTimeFormat), nil

	case "now":
		if err := n.arity(args, 0, 0); err != nil {
			return nil, err
		}
		return ev.now().UTC().Format(isoTimeFormat), nil
	}

	return nil, fmt.Errorf("unknown function $%s at offset %d", n.name, n.pos)
}

func (n *callNode) arity(args []any, min, max int) error {
	if len(args) >= min && len(args) <= max {
		return nil
	}
	if min == max {
		return fmt.Errorf("$%s expects %d argument(s), got %d", n.name, min, len(args))
	}
	return fmt.Errorf("$%s expects %d to %d arguments, got %d", n.name, min, max, len(args))
}

func (n *callNode) stringArg(args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("$%s expects a string for argument %d, got %s", n.name, i+1, typeLabel(args[i]))
	}
	return s, nil
}

func (n *callNode) numberArg(args []any, i int) (float64, error) {
	f, ok := args[i].(float64)
	if !ok {
		return 0, fmt.Errorf("$%s expects a number for argument %d, got %s", n.name, i+1, typeLabel(args[i]))
	}
	return f, nil
}

func castNumber(v any) (any, error) {
	switch t := v.(type) {
	case undefinedType:
		return undefined, nil
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %q to a number", t)
		}
		return f, nil
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	}
	return nil, fmt.Errorf("cannot cast %s to a number", typeLabel(v))
}

// substring extracts runes starting at start. A negative start counts
// from the end of the string; without a length the rest is returned.
func substring(s string, start, length int, hasLength bool) string {
	runes := []rune(s)
	if start < 0 {
		start += len(runes)
		if start < 0 {
			start = 0
		}
	}
	if start >= len(runes) {
		return ""
	}
	end := len(runes)
	if hasLength {
		if length <= 0 {
			return ""
		}
		if start+length < end {
			end = start + length
		}
	}
	return string(runes[start:end])
}
