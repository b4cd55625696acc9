package gml

import "strings"

// Lexer — сканер исходного текста выражений.
//
// Лексер устойчив к ошибкам: нераспознанный байт превращается в токен
// TokenUnknown, а сканирование продолжается со следующего символа. Это
// позволяет парсеру собирать несколько ошибок за один проход.
type Lexer struct {
	src  string
	pos  int
	line int
	col  int
}

// NewLexer создаёт лексер для заданного исходного текста.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Tokenize сканирует весь вход и возвращает список лексем,
// завершённый токеном TokenEOF.
func Tokenize(src string) []Token {
	lx := NewLexer(src)
	var out []Token
	for {
		tok := lx.Next()
		out = append(out, tok)
		if tok.Kind == TokenEOF {
			return out
		}
	}
}

// Next возвращает следующую лексему.
func (l *Lexer) Next() Token {
	l.skipSpaces()
	if l.pos >= len(l.src) {
		return l.make(TokenEOF, l.pos, l.pos)
	}

	start, startLine, startCol := l.pos, l.line, l.col
	c := l.src[l.pos]

	switch {
	case c == '\n':
		l.advance()
		return Token{Kind: TokenNewline, Text: "\n", Start: start, End: l.pos, Line: startLine, Col: startCol}

	case c == '#':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.advance()
		}
		return Token{Kind: TokenComment, Text: l.src[start:l.pos], Start: start, End: l.pos, Line: startLine, Col: startCol}

	case c == '\'' || c == '"':
		return l.scanString(c)

	case c == '`':
		return l.scanTemplate()

	case isDigit(c):
		return l.scanNumber()

	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.advance()
		}
		text := l.src[start:l.pos]
		kind := TokenIdent
		if keywords[text] {
			kind = TokenKeyword
		}
		return Token{Kind: kind, Text: text, Start: start, End: l.pos, Line: startLine, Col: startCol}
	}

	// Многосимвольные операторы: сперва трёхсимвольные, затем двухсимвольные.
	for _, op := range operators3 {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.advanceN(len(op))
			return Token{Kind: TokenOperator, Text: op, Start: start, End: l.pos, Line: startLine, Col: startCol}
		}
	}
	for _, op := range operators2 {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.advanceN(len(op))
			return Token{Kind: TokenOperator, Text: op, Start: start, End: l.pos, Line: startLine, Col: startCol}
		}
	}
	if singleOperators[c] {
		l.advance()
		return Token{Kind: TokenOperator, Text: string(c), Start: start, End: l.pos, Line: startLine, Col: startCol}
	}
	if punctuation[c] {
		l.advance()
		return Token{Kind: TokenPunct, Text: string(c), Start: start, End: l.pos, Line: startLine, Col: startCol}
	}

	// Нераспознанный байт не прерывает сканирование.
	l.advance()
	return Token{Kind: TokenUnknown, Text: l.src[start:l.pos], Start: start, End: l.pos, Line: startLine, Col: startCol}
}

// scanString сканирует строковый литерал с escape-последовательностями.
// Незакрытая строка обрывается на конце входа или строки.
func (l *Lexer) scanString(quote byte) Token {
	start, startLine, startCol := l.pos, l.line, l.col
	l.advance() // открывающая кавычка
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) {
			l.advanceN(2)
			continue
		}
		if c == quote {
			l.advance()
			break
		}
		if c == '\n' {
			break
		}
		l.advance()
	}
	return Token{Kind: TokenString, Text: l.src[start:l.pos], Start: start, End: l.pos, Line: startLine, Col: startCol}
}

// scanTemplate сканирует шаблонную строку в обратных кавычках целиком,
// включая переводы строк. Содержимое разбирается на этапе вычисления.
func (l *Lexer) scanTemplate() Token {
	start, startLine, startCol := l.pos, l.line, l.col
	l.advance() // открывающая `
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) {
			l.advanceN(2)
			continue
		}
		if c == '`' {
			l.advance()
			break
		}
		l.advance()
	}
	return Token{Kind: TokenTemplate, Text: l.src[start:l.pos], Start: start, End: l.pos, Line: startLine, Col: startCol}
}

// scanNumber сканирует целый или вещественный литерал,
// включая экспоненциальную запись (1.5e3, 2E-4).
func (l *Lexer) scanNumber() Token {
	start, startLine, startCol := l.pos, l.line, l.col
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.advance()
	}
	// Дробная часть: точка должна сопровождаться цифрой,
	// иначе это доступ к члену (1.toString не число).
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && isDigit(l.src[l.pos+1]) {
		l.advance()
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.advance()
		}
	}
	// Экспонента.
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		save := l.pos
		p := l.pos + 1
		if p < len(l.src) && (l.src[p] == '+' || l.src[p] == '-') {
			p++
		}
		if p < len(l.src) && isDigit(l.src[p]) {
			l.advanceN(p - l.pos)
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.advance()
			}
		} else {
			l.pos = save
		}
	}
	return Token{Kind: TokenNumber, Text: l.src[start:l.pos], Start: start, End: l.pos, Line: startLine, Col: startCol}
}

func (l *Lexer) skipSpaces() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\r' {
			l.advance()
			continue
		}
		return
	}
}

func (l *Lexer) advance() {
	if l.pos < len(l.src) {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *Lexer) advanceN(n int) {
	for i := 0; i < n; i++ {
		l.advance()
	}
}

func (l *Lexer) make(kind TokenKind, start, end int) Token {
	return Token{Kind: kind, Text: l.src[start:end], Start: start, End: end, Line: l.line, Col: l.col}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
