package expr

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

func (n *literal) eval(map[string]any) (any, error) {
	return n.value, nil
}

func (n *varRef) eval(vars map[string]any) (any, error) {
	v, ok := vars[n.name]
	if !ok {
		return nil, fmt.Errorf("unknown variable: %s", n.name)
	}
	return normalize(v)
}

func (n *unaryOp) eval(vars map[string]any) (any, error) {
	x, err := n.x.eval(vars)
	if err != nil {
		return nil, err
	}
	if n.op == "not" {
		return !truthy(x), nil
	}
	f, ok := numeric(x)
	if !ok {
		return nil, fmt.Errorf("bad operand type for unary %s: %s", n.op, typeName(x))
	}
	if n.op == "-" {
		return -f, nil
	}
	return f, nil
}

func (n *binaryOp) eval(vars map[string]any) (any, error) {
	l, err := n.l.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(vars)
	if err != nil {
		return nil, err
	}
	if n.op == "+" {
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}
	a, aok := numeric(l)
	b, bok := numeric(r)
	if !aok || !bok {
		return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", n.op, typeName(l), typeName(r))
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", n.op)
}

func (n *compareOp) eval(vars map[string]any) (any, error) {
	left, err := n.first.eval(vars)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := n.rest[i].eval(vars)
		if err != nil {
			return nil, err
		}
		ok, err := compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

// eval returns the deciding operand, short-circuiting left to right.
func (n *boolOp) eval(vars map[string]any) (any, error) {
	var v any
	for _, operand := range n.operands {
		var err error
		v, err = operand.eval(vars)
		if err != nil {
			return nil, err
		}
		if truthy(v) != n.and {
			return v, nil
		}
	}
	return v, nil
}

func (n *callOp) eval(vars map[string]any) (any, error) {
	x, err := n.arg.eval(vars)
	if err != nil {
		return nil, err
	}
	switch n.fn {
	case "abs":
		f, ok := numeric(x)
		if !ok {
			return nil, fmt.Errorf("bad operand type for abs(): %s", typeName(x))
		}
		return math.Abs(f), nil
	}
	return nil, fmt.Errorf("function %q not allowed", n.fn)
}

func compare(op string, a, b any) (bool, error) {
	switch op {
	case "==":
		return equal(a, b), nil
	case "!=":
		return !equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	}

	if x, ok := numeric(a); ok {
		if y, ok := numeric(b); ok {
			return order(op, cmpFloat(x, y), math.IsNaN(x) || math.IsNaN(y)), nil
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			c := 0
			if x < y {
				c = -1
			} else if x > y {
				c = 1
			}
			return order(op, c, false), nil
		}
	}
	return false, fmt.Errorf("'%s' not supported between %s and %s", op, typeName(a), typeName(b))
}

func order(op string, c int, nan bool) bool {
	if nan {
		return false
	}
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := numeric(a); ok {
		y, ok := numeric(b)
		return ok && x == y
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		return ok && x == y
	}
	return false
}

// identical approximates object identity: None and booleans are
// singletons, other values are identical when type and value agree.
func identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}

// numeric treats booleans as 0 and 1.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// normalize converts snapshot values into nil, bool, float64 or string.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, float64, string:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return f, nil
	}
	if f, ok := domain.Float(v); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "str"
	}
	return fmt.Sprintf("%T", v)
}
