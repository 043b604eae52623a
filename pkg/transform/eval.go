package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// undefinedType marks the absence of a value, produced by referencing a
// path that does not exist in the payload. It propagates through
// arithmetic and functions and is dropped from constructed objects and
// arrays, so optional payload fields never surface as explicit nulls.
type undefinedType struct{}

var undefined any = undefinedType{}

func isUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

type evaluator struct {
	payload map[string]any
	now     func() time.Time
}

func (n *literalNode) eval(_ *evaluator) (any, error) {
	return n.val, nil
}

func (n *nameNode) eval(ev *evaluator) (any, error) {
	if v, ok := ev.payload[n.name]; ok {
		return v, nil
	}
	return undefined, nil
}

func (n *fieldNode) eval(ev *evaluator) (any, error) {
	base, err := n.base.eval(ev)
	if err != nil {
		return nil, err
	}
	obj, ok := base.(map[string]any)
	if !ok {
		return undefined, nil
	}
	if v, ok := obj[n.name]; ok {
		return v, nil
	}
	return undefined, nil
}

func (n *indexNode) eval(ev *evaluator) (any, error) {
	base, err := n.base.eval(ev)
	if err != nil {
		return nil, err
	}
	idxVal, err := n.index.eval(ev)
	if err != nil {
		return nil, err
	}
	list, ok := base.([]any)
	if !ok {
		return undefined, nil
	}
	f, ok := idxVal.(float64)
	if !ok {
		return undefined, nil
	}
	i := int(f)
	if i < 0 {
		i += len(list)
	}
	if i < 0 || i >= len(list) {
		return undefined, nil
	}
	return list[i], nil
}

func (n *binaryNode) eval(ev *evaluator) (any, error) {
	lhs, err := n.lhs.eval(ev)
	if err != nil {
		return nil, err
	}
	rhs, err := n.rhs.eval(ev)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokEq, tokNeq:
		if isUndefined(lhs) || isUndefined(rhs) {
			return false, nil
		}
		equal := reflect.DeepEqual(lhs, rhs)
		if n.op == tokNeq {
			return !equal, nil
		}
		return equal, nil

	case tokLt, tokLte, tokGt, tokGte:
		return compareOrdered(n.opText, lhs, rhs)

	case tokAmp:
		return stringify(lhs) + stringify(rhs), nil

	case tokPlus, tokMinus, tokStar, tokSlash, tokPercent:
		if isUndefined(lhs) || isUndefined(rhs) {
			return undefined, nil
		}
		a, aok := lhs.(float64)
		b, bok := rhs.(float64)
		if !aok || !bok {
			return nil, fmt.Errorf("cannot apply '%s' to %s and %s", n.opText, typeLabel(lhs), typeLabel(rhs))
		}
		switch n.op {
		case tokPlus:
			return a + b, nil
		case tokMinus:
			return a - b, nil
		case tokStar:
			return a * b, nil
		case tokSlash:
			if b == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return a / b, nil
		default:
			if b == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return math.Mod(a, b), nil
		}
	}
	return nil, fmt.Errorf("unsupported operator '%s'", n.opText)
}

func compareOrdered(op string, lhs, rhs any) (any, error) {
	if isUndefined(lhs) || isUndefined(rhs) {
		return false, nil
	}
	var cmp int
	switch a := lhs.(type) {
	case float64:
		b, ok := rhs.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot compare %s and %s with '%s'", typeLabel(lhs), typeLabel(rhs), op)
		}
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	case string:
		b, ok := rhs.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare %s and %s with '%s'", typeLabel(lhs), typeLabel(rhs), op)
		}
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	default:
		return nil, fmt.Errorf("cannot compare %s and %s with '%s'", typeLabel(lhs), typeLabel(rhs), op)
	}
	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func (n *negNode) eval(ev *evaluator) (any, error) {
	v, err := n.operand.eval(ev)
	if err != nil {
		return nil, err
	}
	if isUndefined(v) {
		return undefined, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("cannot negate %s", typeLabel(v))
	}
	return -f, nil
}

func (n *condNode) eval(ev *evaluator) (any, error) {
	cond, err := n.cond.eval(ev)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return n.then.eval(ev)
	}
	if n.els == nil {
		return undefined, nil
	}
	return n.els.eval(ev)
}

func (n *objectNode) eval(ev *evaluator) (any, error) {
	obj := make(map[string]any, len(n.entries))
	for _, entry := range n.entries {
		v, err := entry.value.eval(ev)
		if err != nil {
			return nil, err
		}
		if isUndefined(v) {
			continue
		}
		obj[entry.key] = v
	}
	return obj, nil
}

func (n *arrayNode) eval(ev *evaluator) (any, error) {
	list := make([]any, 0, len(n.elems))
	for _, elem := range n.elems {
		v, err := elem.eval(ev)
		if err != nil {
			return nil, err
		}
		if isUndefined(v) {
			continue
		}
		list = append(list, v)
	}
	return list, nil
}

// truthy implements boolean casting for conditions: empty strings,
// zero, null, undefined, and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case undefinedType:
		return false
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

// stringify renders a value for concatenation and $string. Undefined
// renders as the empty string; objects and arrays as compact JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case undefinedType:
		return ""
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return formatNumber(t)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// formatNumber renders integral floats without a fractional part, so a
// JSON-decoded id 1374 prints as "1374" rather than "1374.000000".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func typeLabel(v any) string {
	switch v.(type) {
	case undefinedType:
		return "undefined"
	case nil:
		return "null"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	}
	return fmt.Sprintf("%T", v)
}
