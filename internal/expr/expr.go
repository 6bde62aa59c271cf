// Package expr evaluates restricted boolean conditions against a set of
// named values.
//
// The native grammar admits literals (numbers, strings, True, False, None),
// variable lookups, arithmetic (+ - * / %), unary minus and not, chained
// comparisons (== != < <= > >= is, is not), and/or with short-circuit, and
// the abs function. Everything else is rejected when the condition is
// compiled. Evaluation never panics and never mutates its inputs.
package expr

import (
	"fmt"
	"sort"
	"strings"
)

// Condition dialects.
const (
	LangNative = "python"
	LangCEL    = "cel"
)

// Condition is a compiled boolean condition.
type Condition interface {
	// Source returns the condition text.
	Source() string

	// Identifiers returns the variable names the condition reads, sorted.
	Identifiers() []string

	// Eval evaluates the condition, reporting why it failed.
	Eval(vars map[string]any) (bool, error)

	// Match evaluates the condition and treats any failure as false.
	Match(vars map[string]any) bool
}

// Expression is a compiled native condition.
type Expression struct {
	src    string
	root   node
	idents []string
}

// Compile parses a native condition once for repeated evaluation.
// An empty condition compiles to one that never matches.
func Compile(src string) (*Expression, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return &Expression{src: src}, nil
	}
	root, idents, err := parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", src, err)
	}
	sort.Strings(idents)
	return &Expression{src: src, root: root, idents: idents}, nil
}

// CompileLanguage compiles src in the named dialect.
func CompileLanguage(lang, src string) (Condition, error) {
	switch strings.ToLower(lang) {
	case "", LangNative:
		return Compile(src)
	case LangCEL:
		return CompileCEL(src)
	}
	return nil, fmt.Errorf("unknown condition language %q", lang)
}

// Source returns the condition text.
func (e *Expression) Source() string { return e.src }

// Identifiers returns the variable names the condition reads.
func (e *Expression) Identifiers() []string { return e.idents }

// Eval evaluates the condition against vars.
func (e *Expression) Eval(vars map[string]any) (bool, error) {
	if e.root == nil {
		return false, nil
	}
	v, err := e.root.eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", e.src, err)
	}
	return truthy(v), nil
}

// Match evaluates the condition, failing closed.
func (e *Expression) Match(vars map[string]any) bool {
	ok, err := e.Eval(vars)
	return err == nil && ok
}

// Evaluate compiles and evaluates a native condition, failing closed.
func Evaluate(condition string, vars map[string]any) bool {
	ok, _ := EvaluateDiag(condition, vars)
	return ok
}

// EvaluateDiag compiles and evaluates a native condition and reports the
// reason a condition did not evaluate.
func EvaluateDiag(condition string, vars map[string]any) (bool, error) {
	e, err := Compile(condition)
	if err != nil {
		return false, err
	}
	return e.Eval(vars)
}

// never is a condition that failed to compile.
type never struct {
	src string
	err error
}

// Never returns a condition that never matches and always reports err.
func Never(src string, err error) Condition {
	return &never{src: src, err: err}
}

func (n *never) Source() string                    { return n.src }
func (n *never) Identifiers() []string             { return nil }
func (n *never) Eval(map[string]any) (bool, error) { return false, n.err }
func (n *never) Match(map[string]any) bool         { return false }
