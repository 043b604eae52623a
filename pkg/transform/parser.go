package transform

import "fmt"

// node is one vertex of a parsed expression tree. Evaluation walks the
// tree against a payload held by the evaluator.
type node interface {
	eval(ev *evaluator) (any, error)
}

type literalNode struct {
	val any
}

// nameNode is a top-level field reference into the payload.
type nameNode struct {
	name string
}

type fieldNode struct {
	base node
	name string
}

type indexNode struct {
	base  node
	index node
}

type binaryNode struct {
	op     tokenKind
	opText string
	lhs    node
	rhs    node
}

type negNode struct {
	operand node
}

// condNode is a ternary conditional. els is nil when the expression has
// no alternative, in which case a false condition yields undefined.
type condNode struct {
	cond node
	then node
	els  node
}

type callNode struct {
	name string
	args []node
	pos  int
}

type objectEntry struct {
	key   string
	value node
}

type objectNode struct {
	entries []objectEntry
}

type arrayNode struct {
	elems []node
}

type parser struct {
	lex *lexer
	tok token
}

// parse compiles expression source into a tree, consuming all input.
func parse(src string) (node, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at offset %d", p.tok.describe(), p.tok.pos)
	}
	return root, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		return fmt.Errorf("expected %s but found %s at offset %d", what, p.tok.describe(), p.tok.pos)
	}
	return p.advance()
}

func (p *parser) parseExpr() (node, error) {
	return p.parseConditional()
}

// parseConditional handles `cond ? then : else`. The else branch parses
// as a full expression, so chains like `a = "x" ? p : a = "y" ? q : r`
// associate to the right.
func (p *parser) parseConditional() (node, error) {
	cond, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokQuestion {
		return cond, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var els node
	if p.tok.kind == tokColon {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if els, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	return &condNode{cond: cond, then: then, els: els}, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte:
			op := p.tok
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.kind, opText: op.text, lhs: left, rhs: right}
		default:
			return left, nil
		}
	}
}

// parseConcat handles string concatenation and additive arithmetic,
// which share a precedence level.
func (p *parser) parseConcat() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokAmp, tokPlus, tokMinus:
			op := p.tok
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.kind, opText: op.text, lhs: left, rhs: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokStar, tokSlash, tokPercent:
			op := p.tok
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binaryNode{op: op.kind, opText: op.text, lhs: left, rhs: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix applies field and index accessors to a primary, building
// dotted paths like `pull_request.number` or `commits[0].id`.
func (p *parser) parsePostfix() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokIdent {
				return nil, fmt.Errorf("expected field name but found %s at offset %d", p.tok.describe(), p.tok.pos)
			}
			base = &fieldNode{base: base, name: p.tok.text}
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokLBracket:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			base = &indexNode{base: base, index: idx}
		default:
			return base, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.tok
	switch tok.kind {
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{val: tok.text}, nil
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{val: tok.num}, nil
	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch tok.text {
		case "true":
			return &literalNode{val: true}, nil
		case "false":
			return &literalNode{val: false}, nil
		case "null":
			return &literalNode{val: nil}, nil
		}
		return &nameNode{name: tok.text}, nil
	case tokFunc:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseCall(tok)
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokLBrace:
		return p.parseObject()
	case tokLBracket:
		return p.parseArray()
	}
	return nil, fmt.Errorf("unexpected %s at offset %d", tok.describe(), tok.pos)
}

func (p *parser) parseCall(fn token) (node, error) {
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []node
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return &callNode{name: fn.text, args: args, pos: fn.pos}, nil
}

// parseObject reads `{ "key": expr, ... }`. Keys are string literals;
// bare identifiers are accepted and treated as literal key names.
func (p *parser) parseObject() (node, error) {
	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	obj := &objectNode{}
	if p.tok.kind == tokRBrace {
		return obj, p.advance()
	}
	for {
		if p.tok.kind != tokString && p.tok.kind != tokIdent {
			return nil, fmt.Errorf("expected object key but found %s at offset %d", p.tok.describe(), p.tok.pos)
		}
		key := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expect(tokColon, "':'"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		obj.entries = append(obj.entries, objectEntry{key: key, value: value})
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(tokRBrace, "'}'"); err != nil {
		return nil, err
	}
	return obj, nil
}

func (p *parser) parseArray() (node, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	arr := &arrayNode{}
	if p.tok.kind == tokRBracket {
		return arr, p.advance()
	}
	for {
		elem, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arr.elems = append(arr.elems, elem)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(tokRBracket, "']'"); err != nil {
		return nil, err
	}
	return arr, nil
}
