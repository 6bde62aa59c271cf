package expr

import (
	"fmt"
)

// allowedCalls lists the only functions a condition may call.
var allowedCalls = map[string]bool{
	"abs": true,
}

var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "is": true, "in": true,
	"if": true, "else": true, "for": true, "lambda": true, "import": true,
	"from": true, "def": true, "class": true, "return": true, "yield": true,
	"await": true, "async": true, "del": true, "global": true, "with": true,
}

var compareOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

type parser struct {
	toks   []token
	pos    int
	idents map[string]struct{}
}

func parse(src string) (node, []string, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{toks: toks, idents: make(map[string]struct{})}
	n, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, fmt.Errorf("unexpected %s at %d", t, t.pos)
	}
	names := make([]string, 0, len(p.idents))
	for name := range p.idents {
		names = append(names, name)
	}
	return n, names, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("or") {
		return left, nil
	}
	operands := []node{left}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	return &boolOp{and: false, operands: operands}, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("and") {
		return left, nil
	}
	operands := []node{left}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	return &boolOp{and: true, operands: operands}, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryOp{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	first, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	cmp := &compareOp{first: first}
	for {
		t := p.peek()
		var op string
		switch {
		case t.kind == tokOp && compareOps[t.text]:
			p.next()
			op = t.text
		case t.kind == tokIdent && t.text == "is":
			p.next()
			op = "is"
			if p.isKeyword("not") {
				p.next()
				op = "is not"
			}
		case t.kind == tokIdent && t.text == "in",
			t.kind == tokIdent && t.text == "not" && p.toks[p.pos+1].kind == tokIdent && p.toks[p.pos+1].text == "in":
			return nil, fmt.Errorf("membership test not allowed at %d", t.pos)
		default:
			if len(cmp.ops) == 0 {
				return first, nil
			}
			return cmp, nil
		}
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, op)
		cmp.rest = append(cmp.rest, right)
	}
}

func (p *parser) parseArith() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryOp{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryOp{op: op, l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-") || p.isOp("+") {
		op := p.next().text
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*literal); ok {
			if f, ok := lit.value.(float64); ok {
				if op == "-" {
					f = -f
				}
				return &literal{value: f}, nil
			}
		}
		return &unaryOp{op: op, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	var n node
	switch t.kind {
	case tokNumber:
		n = &literal{value: t.num}
	case tokString:
		n = &literal{value: t.text}
	case tokIdent:
		switch t.text {
		case "True":
			n = &literal{value: true}
		case "False":
			n = &literal{value: false}
		case "None":
			n = &literal{value: nil}
		default:
			if reserved[t.text] {
				return nil, fmt.Errorf("unexpected keyword %q at %d", t.text, t.pos)
			}
			if p.isOp("(") {
				return p.parseCall(t)
			}
			p.idents[t.text] = struct{}{}
			n = &varRef{name: t.text}
		}
	case tokOp:
		if t.text != "(" {
			return nil, fmt.Errorf("unexpected %s at %d", t, t.pos)
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.isOp(")") {
			return nil, fmt.Errorf("expected \")\" at %d, got %s", p.peek().pos, p.peek())
		}
		p.next()
		n = inner
	default:
		return nil, fmt.Errorf("unexpected %s at %d", t, t.pos)
	}
	return n, p.rejectTrailer()
}

func (p *parser) parseCall(name token) (node, error) {
	if !allowedCalls[name.text] {
		return nil, fmt.Errorf("function %q not allowed at %d", name.text, name.pos)
	}
	p.next() // (
	arg, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isOp(")") {
		return nil, fmt.Errorf("%s takes exactly one argument", name.text)
	}
	p.next()
	return &callOp{fn: name.text, arg: arg}, p.rejectTrailer()
}

// rejectTrailer fails on attribute access, indexing and calls on values.
func (p *parser) rejectTrailer() error {
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case ".":
			return fmt.Errorf("attribute access not allowed at %d", t.pos)
		case "[":
			return fmt.Errorf("indexing not allowed at %d", t.pos)
		case "(":
			return fmt.Errorf("call not allowed at %d", t.pos)
		}
	}
	return nil
}
