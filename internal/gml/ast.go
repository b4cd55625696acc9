package gml

import "fmt"

// Expr — узел синтаксического дерева выражения.
type Expr interface {
	expr()
}

// NumberLit — числовой литерал. Value хранит int64 либо float64.
type NumberLit struct {
	Value any
}

// StringLit — строковый литерал с уже раскрытыми escape-последовательностями.
type StringLit struct {
	Value string
}

// TemplateLit — шаблонная строка. Raw хранит содержимое без обратных
// кавычек, вставки ${...} разбираются при вычислении рекурсивным
// вызовом парсера.
type TemplateLit struct {
	Raw string
}

// BoolLit — логический литерал.
type BoolLit struct {
	Value bool
}

// NullLit — литерал null.
type NullLit struct{}

// Ident — обращение к имени (переменной или функции).
type Ident struct {
	Name string
}

// ArrayLit — литерал массива. Элемент может быть SpreadExpr.
type ArrayLit struct {
	Elems []Expr
}

// ObjectLit — литерал объекта.
type ObjectLit struct {
	Entries []ObjectEntry
}

// ObjectEntry — один элемент объектного литерала. Если Spread не nil,
// поля Key и Value не используются.
type ObjectEntry struct {
	Key    string
	Value  Expr
	Spread Expr
}

// SpreadExpr — разворачивание ...expr внутри массива или объекта.
type SpreadExpr struct {
	X Expr
}

// Unary — унарная операция: ! или унарный минус, а также NOT.
type Unary struct {
	Op string
	X  Expr
}

// Binary — бинарная операция. Оп включает арифметику, сравнения,
// логические && и || (с коротким замыканием), ??, IN, NOT IN, LIKE.
type Binary struct {
	Op string
	L  Expr
	R  Expr
}

// Ternary — условное выражение cond ? then : else.
type Ternary struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Member — доступ к члену x.name. Доступ к члену null даёт null,
// а не ошибку.
type Member struct {
	X    Expr
	Name string
}

// Index — индексация x[expr] массива, объекта или строки.
type Index struct {
	X   Expr
	Idx Expr
}

// Call — вызов. Fn — Ident для глобальной функции либо Member для
// метода массива или строки.
type Call struct {
	Fn   Expr
	Args []Expr
}

// Arrow — стрелочная функция (item, index) => body.
type Arrow struct {
	Params []string
	Body   Expr
}

// CaseExpr — выражение CASE ... WHEN ... THEN ... ELSE ... END.
// Subject может быть nil (поисковая форма: WHEN содержит условия).
type CaseExpr struct {
	Subject Expr
	Whens   []WhenClause
	Else    Expr
}

// WhenClause — одна ветка WHEN cond THEN value.
type WhenClause struct {
	Cond Expr
	Then Expr
}

func (NumberLit) expr()   {}
func (StringLit) expr()   {}
func (TemplateLit) expr() {}
func (BoolLit) expr()     {}
func (NullLit) expr()     {}
func (Ident) expr()       {}
func (ArrayLit) expr()    {}
func (ObjectLit) expr()   {}
func (SpreadExpr) expr()  {}
func (Unary) expr()       {}
func (Binary) expr()      {}
func (Ternary) expr()     {}
func (Member) expr()      {}
func (Index) expr()       {}
func (Call) expr()        {}
func (Arrow) expr()       {}
func (CaseExpr) expr()    {}

// Stmt — одно выражение программы, возможно с присваиванием.
// Пустой Target означает голое выражение.
type Stmt struct {
	Target string
	Expr   Expr
}

// Program — разобранная программа: последовательность statements,
// разделённых переводами строк или точками с запятой.
type Program struct {
	Stmts []Stmt
}

// HasAssignments сообщает, есть ли в программе хотя бы одно присваивание.
// От этого зависит режим вывода вычислителя: объект связываний либо
// значение последнего выражения.
func (p *Program) HasAssignments() bool {
	for _, s := range p.Stmts {
		if s.Target != "" {
			return true
		}
	}
	return false
}

// ParseError — одна ошибка разбора с позицией.
type ParseError struct {
	Msg  string
	Tok  Token
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s (near %q)", e.Tok.Line, e.Tok.Col, e.Msg, e.Tok.Text)
}

// ParseResult — итог разбора. Парсер не останавливается на первой
// ошибке: Errors накапливает все найденные, Success истинен только
// при пустом списке ошибок.
type ParseResult struct {
	Program *Program
	Errors  []ParseError
	Success bool
}
