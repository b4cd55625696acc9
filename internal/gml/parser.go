package gml

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser — рекурсивный спуск по потоку лексем.
//
// Парсер не останавливается на первой ошибке: встретив неожиданный
// токен, он записывает ошибку, синхронизируется до границы statement
// и продолжает разбор. Стрелочные функции распознаются ограниченным
// заглядыванием вперёд, без отката.
type Parser struct {
	toks   []Token
	pos    int
	depth  int // вложенность скобок: внутри них переводы строк незначимы
	errors []ParseError
}

// Parse разбирает исходный текст программы.
func Parse(src string) ParseResult {
	p := &Parser{}
	for _, t := range Tokenize(src) {
		if t.Kind == TokenComment {
			continue
		}
		p.toks = append(p.toks, t)
	}
	prog := &Program{}
	for !p.at(TokenEOF) {
		p.skipSeparators()
		if p.at(TokenEOF) {
			break
		}
		stmt, ok := p.parseStmt()
		if ok {
			prog.Stmts = append(prog.Stmts, stmt)
		} else {
			p.synchronize()
		}
	}
	return ParseResult{Program: prog, Errors: p.errors, Success: len(p.errors) == 0}
}

// parseStmt разбирает одно statement: присваивание, разворачивание
// ...expr в выход либо голое выражение.
func (p *Parser) parseStmt() (Stmt, bool) {
	if p.atOp("...") {
		p.next()
		expr, ok := p.parseExpr()
		if !ok {
			return Stmt{}, false
		}
		return Stmt{Expr: SpreadExpr{X: expr}}, p.endStmt()
	}
	if p.at(TokenIdent) && p.peekAhead(1).Kind == TokenOperator && p.peekAhead(1).Text == "=" {
		name := p.next().Text
		p.next() // '='
		expr, ok := p.parseExpr()
		if !ok {
			return Stmt{}, false
		}
		return Stmt{Target: name, Expr: expr}, p.endStmt()
	}
	expr, ok := p.parseExpr()
	if !ok {
		return Stmt{}, false
	}
	return Stmt{Expr: expr}, p.endStmt()
}

// endStmt требует границу statement: перевод строки, ';', ',' на
// верхнем уровне или конец входа.
func (p *Parser) endStmt() bool {
	t := p.peek()
	if t.Kind == TokenEOF || t.Kind == TokenNewline ||
		(t.Kind == TokenPunct && (t.Text == ";" || t.Text == ",")) {
		return true
	}
	p.errorf(t, "expected end of statement")
	return false
}

func (p *Parser) parseExpr() (Expr, bool) {
	return p.parseTernary()
}

func (p *Parser) parseTernary() (Expr, bool) {
	cond, ok := p.parseOr()
	if !ok {
		return nil, false
	}
	if p.atOp("?") {
		p.next()
		thenE, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		if !p.expectPunct(":") {
			return nil, false
		}
		elseE, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		return Ternary{Cond: cond, Then: thenE, Else: elseE}, true
	}
	return cond, true
}

func (p *Parser) parseOr() (Expr, bool) {
	return p.parseBinaryLevel([]string{"||", "??"}, p.parseAnd)
}

func (p *Parser) parseAnd() (Expr, bool) {
	return p.parseBinaryLevel([]string{"&&"}, p.parseEquality)
}

func (p *Parser) parseEquality() (Expr, bool) {
	return p.parseBinaryLevel([]string{"==", "!=", "===", "!=="}, p.parseComparison)
}

// parseComparison разбирает <, >, <=, >=, IN, LIKE и их отрицания
// NOT IN, NOT LIKE.
func (p *Parser) parseComparison() (Expr, bool) {
	left, ok := p.parseAdditive()
	if !ok {
		return nil, false
	}
	for {
		switch {
		case p.atOp("<") || p.atOp(">") || p.atOp("<=") || p.atOp(">="):
			op := p.next().Text
			right, ok := p.parseAdditive()
			if !ok {
				return nil, false
			}
			left = Binary{Op: op, L: left, R: right}
		case p.atKeyword("IN") || p.atKeyword("LIKE"):
			op := p.next().Text
			right, ok := p.parseAdditive()
			if !ok {
				return nil, false
			}
			left = Binary{Op: op, L: left, R: right}
		case p.atKeyword("NOT") && (p.peekAhead(1).Text == "IN" || p.peekAhead(1).Text == "LIKE"):
			p.next()
			op := "NOT " + p.next().Text
			right, ok := p.parseAdditive()
			if !ok {
				return nil, false
			}
			left = Binary{Op: op, L: left, R: right}
		default:
			return left, true
		}
	}
}

func (p *Parser) parseAdditive() (Expr, bool) {
	return p.parseBinaryLevel([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *Parser) parseMultiplicative() (Expr, bool) {
	return p.parseBinaryLevel([]string{"*", "/", "%"}, p.parseUnary)
}

// parseBinaryLevel — общий левоассоциативный уровень для набора операторов.
func (p *Parser) parseBinaryLevel(ops []string, sub func() (Expr, bool)) (Expr, bool) {
	left, ok := sub()
	if !ok {
		return nil, false
	}
	for {
		matched := false
		for _, op := range ops {
			if p.atOp(op) {
				p.next()
				right, ok := sub()
				if !ok {
					return nil, false
				}
				left = Binary{Op: op, L: left, R: right}
				matched = true
				break
			}
		}
		if !matched {
			return left, true
		}
	}
}

func (p *Parser) parseUnary() (Expr, bool) {
	switch {
	case p.atOp("!"):
		p.next()
		x, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		return Unary{Op: "!", X: x}, true
	case p.atOp("-"):
		p.next()
		x, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		return Unary{Op: "-", X: x}, true
	case p.atOp("+"):
		p.next()
		x, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		return Unary{Op: "+", X: x}, true
	case p.atKeyword("NOT"):
		p.next()
		x, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		return Unary{Op: "NOT", X: x}, true
	}
	return p.parsePostfix()
}

// parsePostfix разбирает цепочки доступа: .name, [index], (args).
func (p *Parser) parsePostfix() (Expr, bool) {
	x, ok := p.parsePrimary()
	if !ok {
		return nil, false
	}
	for {
		switch {
		case p.atOp("."):
			p.next()
			t := p.peek()
			if t.Kind != TokenIdent && t.Kind != TokenKeyword {
				p.errorf(t, "expected member name after '.'")
				return nil, false
			}
			p.next()
			x = Member{X: x, Name: t.Text}
		case p.atPunct("["):
			p.next()
			idx, ok := p.parseExpr()
			if !ok {
				return nil, false
			}
			if !p.expectPunct("]") {
				return nil, false
			}
			x = Index{X: x, Idx: idx}
		case p.atPunct("("):
			args, ok := p.parseArgs()
			if !ok {
				return nil, false
			}
			x = Call{Fn: x, Args: args}
		default:
			return x, true
		}
	}
}

// parseArgs разбирает список аргументов вызова, включая стрелочные функции.
func (p *Parser) parseArgs() ([]Expr, bool) {
	p.next() // '('
	p.depth++
	defer func() { p.depth-- }()
	var args []Expr
	if p.atPunct(")") {
		p.next()
		return args, true
	}
	for {
		arg, ok := p.parseArgExpr()
		if !ok {
			return nil, false
		}
		args = append(args, arg)
		if p.atPunct(",") {
			p.next()
			continue
		}
		if !p.expectPunct(")") {
			return nil, false
		}
		return args, true
	}
}

// parseArgExpr — выражение-аргумент; здесь же распознаются стрелочные
// функции ограниченным заглядыванием вперёд.
func (p *Parser) parseArgExpr() (Expr, bool) {
	if params, n, ok := p.peekArrow(); ok {
		p.posAdvance(n)
		body, bok := p.parseExpr()
		if !bok {
			return nil, false
		}
		return Arrow{Params: params, Body: body}, true
	}
	return p.parseExpr()
}

// peekArrow проверяет, начинаются ли текущие токены заголовком стрелочной
// функции: `ident =>` либо `(ident, ident, ...) =>`. Возвращает имена
// параметров и число токенов заголовка. Заглядывание ограничено длиной
// списка параметров, откатов не требуется.
func (p *Parser) peekArrow() ([]string, int, bool) {
	if p.at(TokenIdent) && p.peekAhead(1).Kind == TokenOperator && p.peekAhead(1).Text == "=>" {
		return []string{p.peek().Text}, 2, true
	}
	if !p.atPunct("(") {
		return nil, 0, false
	}
	var params []string
	i := 1
	if p.peekAhead(i).Kind == TokenPunct && p.peekAhead(i).Text == ")" {
		i++
	} else {
		for {
			t := p.peekAhead(i)
			if t.Kind != TokenIdent {
				return nil, 0, false
			}
			params = append(params, t.Text)
			i++
			t = p.peekAhead(i)
			if t.Kind == TokenPunct && t.Text == "," {
				i++
				continue
			}
			if t.Kind == TokenPunct && t.Text == ")" {
				i++
				break
			}
			return nil, 0, false
		}
	}
	t := p.peekAhead(i)
	if t.Kind == TokenOperator && t.Text == "=>" {
		return params, i + 1, true
	}
	return nil, 0, false
}

func (p *Parser) parsePrimary() (Expr, bool) {
	t := p.peek()
	switch t.Kind {
	case TokenNumber:
		p.next()
		return parseNumberToken(t.Text), true
	case TokenString:
		p.next()
		return StringLit{Value: unquoteString(t.Text)}, true
	case TokenTemplate:
		p.next()
		raw := t.Text
		if len(raw) >= 2 {
			raw = raw[1 : len(raw)-1]
		}
		return TemplateLit{Raw: raw}, true
	case TokenIdent:
		// Стрелочная функция без скобок: item => expr.
		if params, n, ok := p.peekArrow(); ok {
			p.posAdvance(n)
			body, bok := p.parseExpr()
			if !bok {
				return nil, false
			}
			return Arrow{Params: params, Body: body}, true
		}
		p.next()
		return Ident{Name: t.Text}, true
	case TokenKeyword:
		switch t.Text {
		case "true":
			p.next()
			return BoolLit{Value: true}, true
		case "false":
			p.next()
			return BoolLit{Value: false}, true
		case "null":
			p.next()
			return NullLit{}, true
		case "CASE":
			return p.parseCase()
		}
		p.errorf(t, "unexpected keyword")
		p.next()
		return nil, false
	case TokenPunct:
		switch t.Text {
		case "(":
			if params, n, ok := p.peekArrow(); ok {
				p.posAdvance(n)
				body, bok := p.parseExpr()
				if !bok {
					return nil, false
				}
				return Arrow{Params: params, Body: body}, true
			}
			p.next()
			p.depth++
			e, ok := p.parseExpr()
			p.depth--
			if !ok {
				return nil, false
			}
			if !p.expectPunct(")") {
				return nil, false
			}
			return e, true
		case "[":
			return p.parseArray()
		case "{":
			return p.parseObject()
		}
	}
	p.errorf(t, "unexpected token")
	if t.Kind != TokenEOF {
		p.next()
	}
	return nil, false
}

func (p *Parser) parseArray() (Expr, bool) {
	p.next() // '['
	p.depth++
	defer func() { p.depth-- }()
	arr := ArrayLit{}
	if p.atPunct("]") {
		p.next()
		return arr, true
	}
	for {
		if p.atOp("...") {
			p.next()
			e, ok := p.parseExpr()
			if !ok {
				return nil, false
			}
			arr.Elems = append(arr.Elems, SpreadExpr{X: e})
		} else {
			e, ok := p.parseArgExpr()
			if !ok {
				return nil, false
			}
			arr.Elems = append(arr.Elems, e)
		}
		if p.atPunct(",") {
			p.next()
			continue
		}
		if !p.expectPunct("]") {
			return nil, false
		}
		return arr, true
	}
}

func (p *Parser) parseObject() (Expr, bool) {
	p.next() // '{'
	p.depth++
	defer func() { p.depth-- }()
	obj := ObjectLit{}
	if p.atPunct("}") {
		p.next()
		return obj, true
	}
	for {
		if p.atOp("...") {
			p.next()
			e, ok := p.parseExpr()
			if !ok {
				return nil, false
			}
			obj.Entries = append(obj.Entries, ObjectEntry{Spread: e})
		} else {
			t := p.peek()
			var key string
			switch t.Kind {
			case TokenIdent, TokenKeyword, TokenNumber:
				key = t.Text
			case TokenString:
				key = unquoteString(t.Text)
			default:
				p.errorf(t, "expected object key")
				return nil, false
			}
			p.next()
			if p.atPunct(":") {
				p.next()
				v, ok := p.parseExpr()
				if !ok {
					return nil, false
				}
				obj.Entries = append(obj.Entries, ObjectEntry{Key: key, Value: v})
			} else {
				// Краткая форма {name} эквивалентна {name: name}.
				obj.Entries = append(obj.Entries, ObjectEntry{Key: key, Value: Ident{Name: key}})
			}
		}
		if p.atPunct(",") {
			p.next()
			continue
		}
		if !p.expectPunct("}") {
			return nil, false
		}
		return obj, true
	}
}

// parseCase разбирает CASE [subject] WHEN ... THEN ... [ELSE ...] END.
func (p *Parser) parseCase() (Expr, bool) {
	p.next() // CASE
	ce := CaseExpr{}
	if !p.atKeyword("WHEN") {
		subj, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		ce.Subject = subj
	}
	p.skipNewlines()
	for p.atKeyword("WHEN") {
		p.next()
		cond, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		if !p.atKeyword("THEN") {
			p.errorf(p.peek(), "expected THEN")
			return nil, false
		}
		p.next()
		val, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		ce.Whens = append(ce.Whens, WhenClause{Cond: cond, Then: val})
		p.skipNewlines()
	}
	if len(ce.Whens) == 0 {
		p.errorf(p.peek(), "CASE requires at least one WHEN clause")
		return nil, false
	}
	if p.atKeyword("ELSE") {
		p.next()
		e, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		ce.Else = e
		p.skipNewlines()
	}
	if !p.atKeyword("END") {
		p.errorf(p.peek(), "expected END")
		return nil, false
	}
	p.next()
	return ce, true
}

// --- служебные методы ---

// peek возвращает текущий значимый токен. Внутри скобок переводы
// строк пропускаются.
func (p *Parser) peek() Token {
	i := p.pos
	for i < len(p.toks) && p.depth > 0 && p.toks[i].Kind == TokenNewline {
		i++
	}
	if i >= len(p.toks) {
		return Token{Kind: TokenEOF}
	}
	return p.toks[i]
}

// peekAhead заглядывает на n значимых токенов вперёд.
func (p *Parser) peekAhead(n int) Token {
	i := p.pos
	skipped := 0
	for i < len(p.toks) {
		if p.depth > 0 && p.toks[i].Kind == TokenNewline {
			i++
			continue
		}
		if skipped == n {
			return p.toks[i]
		}
		skipped++
		i++
	}
	return Token{Kind: TokenEOF}
}

func (p *Parser) next() Token {
	for p.pos < len(p.toks) && p.depth > 0 && p.toks[p.pos].Kind == TokenNewline {
		p.pos++
	}
	if p.pos >= len(p.toks) {
		return Token{Kind: TokenEOF}
	}
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *Parser) posAdvance(n int) {
	for i := 0; i < n; i++ {
		p.next()
	}
}

func (p *Parser) at(kind TokenKind) bool { return p.peek().Kind == kind }

func (p *Parser) atOp(text string) bool {
	t := p.peek()
	return t.Kind == TokenOperator && t.Text == text
}

func (p *Parser) atPunct(text string) bool {
	t := p.peek()
	return t.Kind == TokenPunct && t.Text == text
}

func (p *Parser) atKeyword(text string) bool {
	t := p.peek()
	return t.Kind == TokenKeyword && t.Text == text
}

func (p *Parser) expectPunct(text string) bool {
	if p.atPunct(text) {
		p.next()
		return true
	}
	p.errorf(p.peek(), "expected %q", text)
	return false
}

func (p *Parser) errorf(t Token, format string, args ...any) {
	p.errors = append(p.errors, ParseError{Msg: fmt.Sprintf(format, args...), Tok: t})
}

// synchronize пропускает токены до границы следующего statement.
func (p *Parser) synchronize() {
	p.depth = 0
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		p.pos++
		if t.Kind == TokenNewline || (t.Kind == TokenPunct && t.Text == ";") {
			return
		}
	}
}

func (p *Parser) skipSeparators() {
	for {
		t := p.peek()
		if t.Kind == TokenNewline || (t.Kind == TokenPunct && (t.Text == ";" || t.Text == ",")) {
			p.next()
			continue
		}
		return
	}
}

func (p *Parser) skipNewlines() {
	for p.peek().Kind == TokenNewline {
		p.next()
	}
}

// parseNumberToken превращает текст числового литерала в int64 либо float64.
func parseNumberToken(text string) NumberLit {
	if !strings.ContainsAny(text, ".eE") {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return NumberLit{Value: n}
		}
	}
	f, _ := strconv.ParseFloat(text, 64)
	return NumberLit{Value: f}
}

// unquoteString снимает кавычки и раскрывает escape-последовательности.
func unquoteString(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	body := raw[1:]
	quote := raw[0]
	if body[len(body)-1] == quote {
		body = body[:len(body)-1]
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) {
			i++
			switch body[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\':
				b.WriteByte('\\')
			case '\'':
				b.WriteByte('\'')
			case '"':
				b.WriteByte('"')
			case '`':
				b.WriteByte('`')
			default:
				b.WriteByte('\\')
				b.WriteByte(body[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
