package gml

import "fmt"

// TokenKind — вид лексемы.
type TokenKind string

// Виды лексем.
const (
	// TokenNumber — числовой литерал (целый или с плавающей точкой).
	TokenNumber TokenKind = "number"

	// TokenString — строковый литерал в одинарных или двойных кавычках.
	TokenString TokenKind = "string"

	// TokenTemplate — шаблонная строка в обратных кавычках (сырое содержимое,
	// интерполяция разбирается парсером).
	TokenTemplate TokenKind = "template"

	// TokenIdent — идентификатор.
	TokenIdent TokenKind = "ident"

	// TokenKeyword — ключевое слово (CASE, WHEN, true, null и т.д.).
	TokenKeyword TokenKind = "keyword"

	// TokenOperator — оператор (+, ==, =>, ...).
	TokenOperator TokenKind = "operator"

	// TokenPunct — разделитель: ()[]{},:;
	TokenPunct TokenKind = "punct"

	// TokenComment — однострочный комментарий, начинающийся с '#'.
	TokenComment TokenKind = "comment"

	// TokenNewline — перевод строки (значим как разделитель statements).
	TokenNewline TokenKind = "newline"

	// TokenEOF — конец входа.
	TokenEOF TokenKind = "eof"

	// TokenUnknown — нераспознанный байт. Лексер не падает на мусоре,
	// а выдаёт unknown-токен и продолжает сканирование.
	TokenUnknown TokenKind = "unknown"
)

// Token — одна лексема исходного текста.
type Token struct {
	// Kind — вид лексемы.
	Kind TokenKind

	// Text — исходный текст лексемы.
	Text string

	// Start, End — байтовые границы в исходной строке.
	Start int
	End   int

	// Line, Col — позиция начала лексемы (с единицы).
	Line int
	Col  int
}

// String возвращает краткое представление токена для отладки.
func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Kind, t.Text, t.Line, t.Col)
}

// keywords — фиксированный набор ключевых слов языка.
var keywords = map[string]bool{
	"CASE":  true,
	"WHEN":  true,
	"THEN":  true,
	"ELSE":  true,
	"END":   true,
	"NOT":   true,
	"IN":    true,
	"LIKE":  true,
	"true":  true,
	"false": true,
	"null":  true,
}

// operators3, operators2 — многосимвольные операторы.
// Порядок важен: лексер применяет longest-match-first.
var operators3 = []string{"===", "!==", "..."}

var operators2 = []string{"==", "!=", "<=", ">=", "&&", "||", "??", "=>"}

// singleOperators — односимвольные операторы.
var singleOperators = map[byte]bool{
	'+': true, '-': true, '*': true, '/': true, '%': true,
	'<': true, '>': true, '!': true, '=': true, '?': true, '.': true,
}

// punctuation — разделители.
var punctuation = map[byte]bool{
	'(': true, ')': true, '[': true, ']': true, '{': true, '}': true,
	',': true, ':': true, ';': true,
}
