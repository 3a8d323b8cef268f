package dsl

// Grammar (standard precedence, comparisons non-associative):
//
//	expr    := or_expr
//	or_expr := and_expr ( "or" and_expr )*
//	and_expr:= not_expr ( "and" not_expr )*
//	not_expr:= "not" not_expr | cmp
//	cmp     := add ( ("<"|"<="|">"|">="|"=="|"!="|"in"|"not in") add )?
//	add     := mul ( ("+"|"-") mul )*
//	mul     := unary ( ("*"|"/"|"%") unary )*
//	unary   := ("-"|"+") unary | atom
//	atom    := NUMBER | STRING | IDENT | IDENT "(" args? ")" | "(" expr ")" | list
//	list    := "[" (expr ("," expr)*)? "]"
type parser struct {
	lex  lexer
	tok  token
	peek *token
}

// Parse compiles src into an AST. Bitwise operators, power, attribute
// access, subscripts, and assignment are rejected here.
func Parse(src string) (Expr, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, syntaxErrf(p.tok.pos, "unexpected %q after expression", p.tok.text)
	}
	return expr, nil
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) peekNext() (token, error) {
	if p.peek == nil {
		tok, err := p.lex.next()
		if err != nil {
			return token{}, err
		}
		p.peek = &tok
	}
	return *p.peek, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "or", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "and", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.tok.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "not", X: x}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.tok.kind == tokOp && isCmpOp(p.tok.text):
		op = p.tok.text
	case p.tok.kind == tokIn:
		op = "in"
	case p.tok.kind == tokNot:
		// "not in" is the only postfix use of "not"
		next, err := p.peekNext()
		if err != nil {
			return nil, err
		}
		if next.kind != tokIn {
			return nil, syntaxErrf(p.tok.pos, "unexpected 'not'")
		}
		if err := p.advance(); err != nil { // consume "not"
			return nil, err
		}
		op = "not in"
	default:
		return left, nil
	}

	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	return &CompareExpr{Op: op, L: left, R: right}, nil
}

func (p *parser) parseAdd() (Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseMul() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.kind == tokOp && (p.tok.text == "-" || p.tok.text == "+") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, X: x}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.rejectSubscript(&NumberLit{Value: tok.num})
	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.rejectSubscript(&StringLit{Value: tok.text})
	case tokTrue, tokFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.rejectSubscript(&BoolLit{Value: tok.kind == tokTrue})
	case tokNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.rejectSubscript(&NullLit{})
	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokOp && p.tok.text == "(" {
			return p.parseCall(tok)
		}
		return p.rejectSubscript(&Ident{Name: tok.text, Pos: tok.pos})
	case tokOp:
		switch tok.text {
		case "(":
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !(p.tok.kind == tokOp && p.tok.text == ")") {
				return nil, syntaxErrf(p.tok.pos, "expected ')'")
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			return p.rejectSubscript(inner)
		case "[":
			return p.parseList()
		}
	}
	return nil, syntaxErrf(tok.pos, "unexpected %q", tok.text)
}

func (p *parser) parseCall(name token) (Expr, error) {
	call := &CallExpr{Name: name.text, Pos: name.pos}
	if err := p.advance(); err != nil { // consume "("
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.text == ")" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.rejectSubscript(call)
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.tok.kind == tokOp && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if !(p.tok.kind == tokOp && p.tok.text == ")") {
		return nil, syntaxErrf(p.tok.pos, "expected ')' in call to %s", name.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.rejectSubscript(call)
}

func (p *parser) parseList() (Expr, error) {
	list := &ListLit{}
	if err := p.advance(); err != nil { // consume "["
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.text == "]" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.rejectSubscript(list)
	}
	for {
		elem, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, elem)
		if p.tok.kind == tokOp && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if !(p.tok.kind == tokOp && p.tok.text == "]") {
		return nil, syntaxErrf(p.tok.pos, "expected ']'")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.rejectSubscript(list)
}

// rejectSubscript forbids atom[...] indexing; "[" after a complete atom can
// only mean a subscript, which the language does not have.
func (p *parser) rejectSubscript(e Expr) (Expr, error) {
	if p.tok.kind == tokOp && p.tok.text == "[" {
		return nil, syntaxErrf(p.tok.pos, "forbidden subscript")
	}
	return e, nil
}

func isCmpOp(s string) bool {
	switch s {
	case "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}
