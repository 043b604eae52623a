// Package transform evaluates mapping expressions against webhook
// payloads. The language covers what synthesised mappings need: object
// and array construction, dotted field paths, conditional chains
// (`action = "opened" ? "created" : "read"`), string concatenation with
// `&`, arithmetic, comparisons, and a small scalar function library
// ($string, $number, $lowercase, $uppercase, $substringBefore,
// $substringAfter, $substring, $fromMillis, $fromUnix, $now).
//
// Referencing a path absent from the payload yields no value rather
// than an error; absent values are omitted from constructed objects.
// Type-mismatched arithmetic and comparisons are evaluation errors.
package transform

import (
	"fmt"
	"strings"
	"time"
)

// Expr is a compiled transform expression. It is immutable and safe for
// concurrent evaluation.
type Expr struct {
	src  string
	root node
}

// Parse compiles expression source. Both syntax errors and trailing
// garbage are rejected here so stored mappings fail at write time, not
// on the event path.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty transform expression")
	}
	root, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid transform expression: %w", err)
	}
	return &Expr{src: src, root: root}, nil
}

// Source returns the original expression text.
func (e *Expr) Source() string {
	return e.src
}

// Eval applies the expression to a payload. A whole-expression miss
// (the root path does not exist) returns nil with no error.
func (e *Expr) Eval(payload map[string]any) (any, error) {
	ev := &evaluator{payload: payload, now: time.Now}
	v, err := e.root.eval(ev)
	if err != nil {
		return nil, fmt.Errorf("transform evaluation failed: %w", err)
	}
	if isUndefined(v) {
		return nil, nil
	}
	return v, nil
}

// Apply parses and evaluates in one step.
func Apply(src string, payload map[string]any) (any, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return expr.Eval(payload)
}
