package condition

import (
	"fmt"
	"strconv"
	"strings"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
)

// Parse parses an expression into an AST.
func Parse(expr string) (Node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, wrapSyntax(expr, err)
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, wrapSyntax(expr, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, wrapSyntax(expr, &syntaxError{pos: t.pos, msg: "unexpected " + t.String()})
	}
	return n, nil
}

func wrapSyntax(expr string, err error) error {
	if se, ok := err.(*syntaxError); ok {
		return gerrors.EvalParse(expr, se.pos, se.msg)
	}
	return gerrors.EvalParse(expr, -1, err.Error())
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
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

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, &syntaxError{pos: t.pos, msg: fmt.Sprintf("expected %s, got %s", what, t)}
	}
	return t, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") || p.isOp("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "or", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") || p.isOp("&&") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "and", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.isKeyword("not") || p.isOp("!") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	var op string
	switch {
	case p.isOp("==", "!=", "<", "<=", ">", ">="):
		op = p.next().text
	case p.isKeyword("in"):
		p.next()
		op = "in"
	case p.isKeyword("not") && p.peekAt(1).kind == tokIdent && p.peekAt(1).text == "in":
		p.next()
		p.next()
		op = "not in"
	default:
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &Binary{Op: op, L: left, R: right}, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.isOp("-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			t := p.next()
			if t.kind != tokIdent && t.kind != tokNumber {
				return nil, &syntaxError{pos: t.pos, msg: "expected field name after '.', got " + t.String()}
			}
			name := strings.TrimPrefix(t.text, "$")
			if p.peek().kind == tokLParen {
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				x = &MethodCall{Recv: x, Name: name, Args: args}
				continue
			}
			x = &Member{X: x, Name: name}
		case tokLBracket:
			p.next()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			x = &Index{X: x, Index: idx}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseArgs() ([]Node, error) {
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}
	var args []Node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		a, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &Literal{Value: int(i)}, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &syntaxError{pos: t.pos, msg: "invalid number " + t.text}
		}
		return &Literal{Value: f}, nil
	case tokString:
		return &Literal{Value: t.text}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return x, nil
	case tokLBracket:
		list := &List{}
		if p.peek().kind == tokRBracket {
			p.next()
			return list, nil
		}
		for {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, item)
			if p.peek().kind == tokComma {
				p.next()
				if p.peek().kind == tokRBracket {
					p.next()
					return list, nil
				}
				continue
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			return list, nil
		}
	case tokIdent:
		switch t.text {
		case "true", "True":
			return &Literal{Value: true}, nil
		case "false", "False":
			return &Literal{Value: false}, nil
		case "null", "None", "nil":
			return &Literal{Value: nil}, nil
		case "and", "or", "not", "in":
			return nil, &syntaxError{pos: t.pos, msg: "unexpected keyword " + t.text}
		}
		name := strings.TrimPrefix(t.text, "$")
		if p.peek().kind == tokLParen && !strings.HasPrefix(t.text, "$") {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &Call{Func: name, Args: args}, nil
		}
		return &Ident{Name: name}, nil
	}
	return nil, &syntaxError{pos: t.pos, msg: "unexpected " + t.String()}
}
