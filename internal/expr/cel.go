package expr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

var (
	celOnce sync.Once
	celEnv  *cel.Env
	celErr  error
)

// celKeywords are CEL names that are never snapshot variables.
var celKeywords = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"has": true, "size": true, "int": true, "uint": true, "double": true,
	"string": true, "bool": true, "bytes": true, "type": true, "dyn": true,
	"matches": true, "exists": true, "all": true, "exists_one": true,
	"map": true, "filter": true, "duration": true, "timestamp": true,
}

func sharedCELEnv() (*cel.Env, error) {
	celOnce.Do(func() {
		celEnv, celErr = cel.NewEnv(cel.CrossTypeNumericComparisons(true))
		if celErr != nil {
			celErr = fmt.Errorf("failed to create CEL environment: %w", celErr)
		}
	})
	return celEnv, celErr
}

// CELExpression is a condition written in Common Expression Language.
// Variables are resolved dynamically from the snapshot at evaluation time.
type CELExpression struct {
	src     string
	program cel.Program
	idents  []string
}

// CompileCEL parses a CEL condition once for repeated evaluation.
func CompileCEL(src string) (*CELExpression, error) {
	if strings.TrimSpace(src) == "" {
		return &CELExpression{src: src}, nil
	}
	env, err := sharedCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Parse(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", src, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %q: %w", src, err)
	}
	return &CELExpression{src: src, program: program, idents: celIdentifiers(src)}, nil
}

// Source returns the condition text.
func (c *CELExpression) Source() string { return c.src }

// Identifiers returns the top-level names referenced by the condition.
func (c *CELExpression) Identifiers() []string { return c.idents }

// Eval evaluates the condition against vars.
func (c *CELExpression) Eval(vars map[string]any) (bool, error) {
	if c.program == nil {
		return false, nil
	}
	activation := make(map[string]any, len(vars))
	for k, v := range vars {
		n, err := normalize(v)
		if err != nil {
			return false, fmt.Errorf("variable %s: %w", k, err)
		}
		if n == nil {
			activation[k] = types.NullValue
			continue
		}
		activation[k] = n
	}
	out, _, err := c.program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", c.src, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %s, expected bool", c.src, out.Type().TypeName())
	}
	return bool(b), nil
}

// Match evaluates the condition, failing closed.
func (c *CELExpression) Match(vars map[string]any) bool {
	ok, err := c.Eval(vars)
	return err == nil && ok
}

// celIdentifiers scans src for names that are neither quoted, selected
// fields, called functions nor CEL keywords.
func celIdentifiers(src string) []string {
	seen := make(map[string]struct{})
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			_, next, err := lexString(src, i)
			if err != nil {
				i = len(src)
				continue
			}
			i = next
		case isDigit(c):
			for i < len(src) && (isDigit(src[i]) || isIdentStart(src[i]) || src[i] == '.') {
				i++
			}
		case isIdentStart(c):
			start := i
			for i < len(src) && (isIdentStart(src[i]) || isDigit(src[i])) {
				i++
			}
			name := src[start:i]
			if celKeywords[name] || precededByDot(src, start) || followedByParen(src, i) {
				continue
			}
			seen[name] = struct{}{}
		default:
			i++
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func precededByDot(src string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if src[j] == ' ' || src[j] == '\t' {
			continue
		}
		return src[j] == '.'
	}
	return false
}

func followedByParen(src string, i int) bool {
	for ; i < len(src); i++ {
		if src[i] == ' ' || src[i] == '\t' {
			continue
		}
		return src[i] == '('
	}
	return false
}
