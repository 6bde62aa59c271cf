package expr

// node is a typed expression tree node.
type node interface {
	eval(vars map[string]any) (any, error)
}

type literal struct {
	value any
}

type varRef struct {
	name string
}

type unaryOp struct {
	op string // "-", "+" or "not"
	x  node
}

type binaryOp struct {
	op   string // + - * / %
	l, r node
}

// compareOp is a chain: first ops[0] rest[0] ops[1] rest[1] ...
type compareOp struct {
	first node
	ops   []string
	rest  []node
}

type boolOp struct {
	and      bool
	operands []node
}

type callOp struct {
	fn  string
	arg node
}
