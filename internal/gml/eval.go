package gml

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Binding — одно присваивание верхнего уровня в порядке появления.
type Binding struct {
	Name  string
	Value any
}

// Result — итог вычисления программы.
//
// Язык различает два режима вывода: программа с присваиваниями даёт
// объект из связываний, программа без них — значение последнего
// выражения. Временные переменные с префиксом $ участвуют в
// вычислении, но не попадают в Bindings.
type Result struct {
	// Value — значение последнего голого выражения.
	Value any

	// Bindings — присваивания без $-временных, упорядоченные.
	Bindings []Binding

	// All — все присваивания, включая $-временные. Нужен вызывающей
	// стороне, которая интерпретирует сигнальные переменные
	// вроде $result.
	All []Binding

	// HasAssignments — была ли в программе хотя бы одна форма
	// присваивания (включая spread-statement).
	HasAssignments bool
}

// Lookup возвращает значение присваивания по имени, включая $-временные.
func (r *Result) Lookup(name string) (any, bool) {
	for _, b := range r.All {
		if b.Name == name {
			return b.Value, true
		}
	}
	return nil, false
}

// Output возвращает итоговое значение программы: объект из связываний,
// если они есть, иначе значение последнего выражения.
func (r *Result) Output() any {
	if r.HasAssignments && len(r.Bindings) > 0 {
		obj := make(map[string]any, len(r.Bindings))
		for _, b := range r.Bindings {
			obj[b.Name] = b.Value
		}
		return obj
	}
	return r.Value
}

// Closure — стрелочная функция как значение первого класса.
// Замыкание захватывает состояние вычисления, в котором было создано.
type Closure struct {
	Params []string
	Body   Expr
	env    *env
	st     *runState
}

// ContainsClosure сообщает, содержит ли значение стрелочную функцию
// на любом уровне вложенности. Замыкания живут только внутри
// вычисления: в хранилища простых структурных данных они не попадают.
func ContainsClosure(v any) bool {
	switch x := v.(type) {
	case *Closure:
		return true
	case []any:
		for _, e := range x {
			if ContainsClosure(e) {
				return true
			}
		}
	case map[string]any:
		for _, e := range x {
			if ContainsClosure(e) {
				return true
			}
		}
	}
	return false
}

// WithoutClosures возвращает значение без стрелочных функций: поля и
// элементы с замыканиями опускаются, значение-замыкание целиком
// становится null. Значение без замыканий возвращается как есть.
func WithoutClosures(v any) any {
	if !ContainsClosure(v) {
		return v
	}
	switch x := v.(type) {
	case *Closure:
		return nil
	case []any:
		out := make([]any, 0, len(x))
		for _, e := range x {
			if _, fn := e.(*Closure); fn {
				continue
			}
			out = append(out, WithoutClosures(e))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			if _, fn := e.(*Closure); fn {
				continue
			}
			out[k] = WithoutClosures(e)
		}
		return out
	}
	return v
}

// env — цепочка лексических окружений для параметров стрелочных функций.
type env struct {
	vars   map[string]any
	parent *env
}

func (e *env) lookup(name string) (any, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Evaluator — вычислитель программ. Безопасен для конкурентного
// использования после создания: всё изменяемое состояние живёт в
// рамках одного вызова Eval.
type Evaluator struct {
	funcs *FuncRegistry
}

// NewEvaluator создаёт вычислитель со стандартным набором функций.
func NewEvaluator() *Evaluator {
	return &Evaluator{funcs: DefaultFuncs()}
}

// NewEvaluatorWith создаёт вычислитель с заданным реестром функций.
func NewEvaluatorWith(funcs *FuncRegistry) *Evaluator {
	return &Evaluator{funcs: funcs}
}

// Eval разбирает и вычисляет программу в заданном контексте.
// Синтаксические ошибки возвращаются одной ошибкой, оборачивающей
// ErrParse.
func (ev *Evaluator) Eval(src string, ctx map[string]any) (*Result, error) {
	res := Parse(src)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return ev.EvalProgram(res.Program, ctx)
}

// runState — изменяемое состояние одного вычисления.
type runState struct {
	ctx   map[string]any
	scope map[string]any
	names []string // порядок первого появления имён в scope
}

func (s *runState) assign(name string, v any) {
	if _, ok := s.scope[name]; !ok {
		s.names = append(s.names, name)
	}
	s.scope[name] = v
}

// EvalProgram вычисляет уже разобранную программу.
//
// Присваивания видны последующим statements и перекрывают одноимённые
// переменные контекста. Spread-statement `...expr` сливает поля
// объекта в выход и считается формой присваивания.
func (ev *Evaluator) EvalProgram(prog *Program, ctx map[string]any) (*Result, error) {
	if ctx == nil {
		ctx = map[string]any{}
	}
	st := &runState{ctx: ctx, scope: map[string]any{}}
	out := &Result{}

	for _, stmt := range prog.Stmts {
		if stmt.Target != "" {
			v, err := ev.evalExpr(stmt.Expr, st, nil)
			if err != nil {
				return nil, err
			}
			out.HasAssignments = true
			st.assign(stmt.Target, v)
			continue
		}
		if sp, ok := stmt.Expr.(SpreadExpr); ok {
			v, err := ev.evalExpr(sp.X, st, nil)
			if err != nil {
				return nil, err
			}
			if obj, ok := v.(map[string]any); ok {
				out.HasAssignments = true
				for _, k := range sortedKeys(obj) {
					st.assign(k, obj[k])
				}
			}
			continue
		}
		v, err := ev.evalExpr(stmt.Expr, st, nil)
		if err != nil {
			return nil, err
		}
		out.Value = v
	}

	for _, name := range st.names {
		b := Binding{Name: name, Value: st.scope[name]}
		out.All = append(out.All, b)
		if strings.HasPrefix(name, "$") {
			continue
		}
		out.Bindings = append(out.Bindings, b)
	}
	return out, nil
}

func (ev *Evaluator) evalExpr(e Expr, st *runState, locals *env) (any, error) {
	switch x := e.(type) {
	case NumberLit:
		return x.Value, nil
	case StringLit:
		return x.Value, nil
	case BoolLit:
		return x.Value, nil
	case NullLit:
		return nil, nil
	case TemplateLit:
		return ev.evalTemplate(x.Raw, st, locals)

	case Ident:
		return ev.resolveIdent(x.Name, st, locals), nil

	case Member:
		base, err := ev.evalExpr(x.X, st, locals)
		if err != nil {
			return nil, err
		}
		if obj, ok := base.(map[string]any); ok {
			return obj[x.Name], nil
		}
		// Доступ к члену null или не-объекта даёт null, не ошибку.
		return nil, nil

	case Index:
		base, err := ev.evalExpr(x.X, st, locals)
		if err != nil {
			return nil, err
		}
		idx, err := ev.evalExpr(x.Idx, st, locals)
		if err != nil {
			return nil, err
		}
		return indexValue(base, idx), nil

	case Unary:
		return ev.evalUnary(x, st, locals)

	case Binary:
		return ev.evalBinary(x, st, locals)

	case Ternary:
		cond, err := ev.evalExpr(x.Cond, st, locals)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return ev.evalExpr(x.Then, st, locals)
		}
		return ev.evalExpr(x.Else, st, locals)

	case CaseExpr:
		return ev.evalCase(x, st, locals)

	case ArrayLit:
		var arr []any
		for _, el := range x.Elems {
			if sp, ok := el.(SpreadExpr); ok {
				v, err := ev.evalExpr(sp.X, st, locals)
				if err != nil {
					return nil, err
				}
				if inner, ok := v.([]any); ok {
					arr = append(arr, inner...)
				} else if v != nil {
					arr = append(arr, v)
				}
				continue
			}
			v, err := ev.evalExpr(el, st, locals)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if arr == nil {
			arr = []any{}
		}
		return arr, nil

	case ObjectLit:
		obj := make(map[string]any, len(x.Entries))
		for _, ent := range x.Entries {
			if ent.Spread != nil {
				v, err := ev.evalExpr(ent.Spread, st, locals)
				if err != nil {
					return nil, err
				}
				if inner, ok := v.(map[string]any); ok {
					for k, iv := range inner {
						obj[k] = iv
					}
				}
				continue
			}
			v, err := ev.evalExpr(ent.Value, st, locals)
			if err != nil {
				return nil, err
			}
			obj[ent.Key] = v
		}
		return obj, nil

	case SpreadExpr:
		// Вне литералов и statement-позиции spread прозрачен.
		return ev.evalExpr(x.X, st, locals)

	case Arrow:
		return &Closure{Params: x.Params, Body: x.Body, env: locals, st: st}, nil

	case Call:
		return ev.evalCall(x, st, locals)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

// resolveIdent ищет имя: параметры стрелочных функций, затем
// присваивания программы, затем контекст. Имя $ обозначает весь
// контекст целиком. Неизвестное имя даёт null.
func (ev *Evaluator) resolveIdent(name string, st *runState, locals *env) any {
	if locals != nil {
		if v, ok := locals.lookup(name); ok {
			return v
		}
	}
	if name == "$" {
		return st.ctx
	}
	if v, ok := st.scope[name]; ok {
		return v
	}
	return st.ctx[name]
}

func (ev *Evaluator) evalUnary(x Unary, st *runState, locals *env) (any, error) {
	v, err := ev.evalExpr(x.X, st, locals)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "!", "NOT":
		return !Truthy(v), nil
	case "-":
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, typeErr("number", v)
	case "+":
		switch v.(type) {
		case int64, float64:
			return v, nil
		}
		return nil, typeErr("number", v)
	}
	return nil, fmt.Errorf("unsupported unary operator %q", x.Op)
}

func (ev *Evaluator) evalBinary(x Binary, st *runState, locals *env) (any, error) {
	// Короткое замыкание для &&, || и ??.
	switch x.Op {
	case "&&":
		l, err := ev.evalExpr(x.L, st, locals)
		if err != nil {
			return nil, err
		}
		if !Truthy(l) {
			return false, nil
		}
		r, err := ev.evalExpr(x.R, st, locals)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case "||":
		l, err := ev.evalExpr(x.L, st, locals)
		if err != nil {
			return nil, err
		}
		if Truthy(l) {
			return l, nil
		}
		return ev.evalExpr(x.R, st, locals)
	case "??":
		l, err := ev.evalExpr(x.L, st, locals)
		if err != nil {
			return nil, err
		}
		if l != nil {
			return l, nil
		}
		return ev.evalExpr(x.R, st, locals)
	}

	l, err := ev.evalExpr(x.L, st, locals)
	if err != nil {
		return nil, err
	}
	r, err := ev.evalExpr(x.R, st, locals)
	if err != nil {
		return nil, err
	}
	return applyBinary(x.Op, l, r)
}

// applyBinary выполняет бинарную операцию над уже вычисленными
// операндами. Арифметика сохраняет целочисленность, смешанные
// операнды повышаются до float.
func applyBinary(op string, l, r any) (any, error) {
	switch op {
	case "+":
		if ls, ok := l.(string); ok {
			if rs, ok := r.(string); ok {
				return ls + rs, nil
			}
		}
		return numericOp(l, r,
			func(a, b int64) int64 { return a + b },
			func(a, b float64) float64 { return a + b })
	case "-":
		return numericOp(l, r,
			func(a, b int64) int64 { return a - b },
			func(a, b float64) float64 { return a - b })
	case "*":
		return numericOp(l, r,
			func(a, b int64) int64 { return a * b },
			func(a, b float64) float64 { return a * b })
	case "/":
		if f, ok := AsFloat(r); ok && f == 0 {
			return nil, ErrDivisionByZero
		}
		return numericOp(l, r,
			func(a, b int64) int64 { return a / b },
			func(a, b float64) float64 { return a / b })
	case "%":
		if f, ok := AsFloat(r); ok && f == 0 {
			return nil, ErrDivisionByZero
		}
		return numericOp(l, r,
			func(a, b int64) int64 { return a % b },
			func(a, b float64) float64 { return float64(int64(a) % int64(b)) })
	case "==":
		return LooseEqual(l, r), nil
	case "!=":
		return !LooseEqual(l, r), nil
	case "===":
		return StrictEqual(l, r), nil
	case "!==":
		return !StrictEqual(l, r), nil
	case "<", "<=", ">", ">=":
		return compareOrdered(op, l, r)
	case "IN":
		return valueIn(l, r)
	case "NOT IN":
		v, err := valueIn(l, r)
		if err != nil {
			return nil, err
		}
		return !v.(bool), nil
	case "LIKE":
		return valueLike(l, r)
	case "NOT LIKE":
		v, err := valueLike(l, r)
		if err != nil {
			return nil, err
		}
		return !v.(bool), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func numericOp(l, r any, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) (any, error) {
	if li, ok := l.(int64); ok {
		if ri, ok := r.(int64); ok {
			return intOp(li, ri), nil
		}
	}
	lf, lok := AsFloat(l)
	rf, rok := AsFloat(r)
	if !lok || !rok {
		return nil, typeErr("number", pickNonNumber(l, r))
	}
	return floatOp(lf, rf), nil
}

func pickNonNumber(l, r any) any {
	if _, ok := AsFloat(l); !ok {
		return l
	}
	return r
}

func compareOrdered(op string, l, r any) (any, error) {
	var c int
	switch {
	case isNumber(l) && isNumber(r):
		c = CompareValues(l, r)
	case isString(l) && isString(r):
		c = CompareValues(l, r)
	default:
		return nil, typeErr("comparable types", pickNonComparable(l, r))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func isNumber(v any) bool { _, ok := AsFloat(v); return ok }

func isString(v any) bool { _, ok := v.(string); return ok }

func pickNonComparable(l, r any) any {
	if !isNumber(l) && !isString(l) {
		return l
	}
	return r
}

// valueIn проверяет вхождение: элемент массива, подстрока строки
// либо ключ объекта.
func valueIn(l, r any) (any, error) {
	switch coll := r.(type) {
	case []any:
		for _, el := range coll {
			if LooseEqual(l, el) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := l.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(coll, s), nil
	case map[string]any:
		k, ok := l.(string)
		if !ok {
			return false, nil
		}
		_, present := coll[k]
		return present, nil
	case nil:
		return false, nil
	}
	return nil, typeErr("array, string or object", r)
}

// valueLike сопоставляет строку с SQL-шаблоном: % — любая
// последовательность, _ — один символ.
func valueLike(l, r any) (any, error) {
	s, ok := l.(string)
	if !ok {
		return false, nil
	}
	pat, ok := r.(string)
	if !ok {
		return nil, typeErr("string pattern", r)
	}
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, ch := range pat {
		switch ch {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: LIKE pattern %q", ErrInvalidArgument, pat)
	}
	return re.MatchString(s), nil
}

func (ev *Evaluator) evalCase(x CaseExpr, st *runState, locals *env) (any, error) {
	var subject any
	if x.Subject != nil {
		v, err := ev.evalExpr(x.Subject, st, locals)
		if err != nil {
			return nil, err
		}
		subject = v
	}
	for _, w := range x.Whens {
		cond, err := ev.evalExpr(w.Cond, st, locals)
		if err != nil {
			return nil, err
		}
		matched := false
		if x.Subject != nil {
			matched = LooseEqual(subject, cond)
		} else {
			matched = Truthy(cond)
		}
		if matched {
			return ev.evalExpr(w.Then, st, locals)
		}
	}
	if x.Else != nil {
		return ev.evalExpr(x.Else, st, locals)
	}
	return nil, nil
}

// indexValue обслуживает x[i]: отрицательные индексы считаются от
// конца, выход за границы и отсутствующие ключи дают null.
func indexValue(base, idx any) any {
	switch coll := base.(type) {
	case []any:
		i, ok := AsInt(idx)
		if !ok {
			return nil
		}
		if i < 0 {
			i += int64(len(coll))
		}
		if i < 0 || i >= int64(len(coll)) {
			return nil
		}
		return coll[i]
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return nil
		}
		return coll[k]
	case string:
		i, ok := AsInt(idx)
		if !ok {
			return nil
		}
		rs := []rune(coll)
		if i < 0 {
			i += int64(len(rs))
		}
		if i < 0 || i >= int64(len(rs)) {
			return nil
		}
		return string(rs[i])
	}
	return nil
}

// evalCall обслуживает вызовы: глобальные функции по имени, методы
// значений через доступ к члену и значения-замыкания.
func (ev *Evaluator) evalCall(x Call, st *runState, locals *env) (any, error) {
	// Метод значения: target.method(args).
	if m, ok := x.Fn.(Member); ok {
		target, err := ev.evalExpr(m.X, st, locals)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, nil
		}
		args, err := ev.evalArgs(x.Args, st, locals)
		if err != nil {
			return nil, err
		}
		return ev.callMethod(target, m.Name, args)
	}

	// Глобальная функция либо переменная-замыкание.
	if id, ok := x.Fn.(Ident); ok {
		if v := ev.resolveIdent(id.Name, st, locals); v != nil {
			if cl, ok := v.(*Closure); ok {
				args, err := ev.evalArgs(x.Args, st, locals)
				if err != nil {
					return nil, err
				}
				return ev.callClosure(cl, args)
			}
		}
		args, err := ev.evalArgs(x.Args, st, locals)
		if err != nil {
			return nil, err
		}
		return ev.funcs.Call(id.Name, args)
	}

	fn, err := ev.evalExpr(x.Fn, st, locals)
	if err != nil {
		return nil, err
	}
	cl, ok := fn.(*Closure)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCallable, TypeName(fn))
	}
	args, err := ev.evalArgs(x.Args, st, locals)
	if err != nil {
		return nil, err
	}
	return ev.callClosure(cl, args)
}

func (ev *Evaluator) evalArgs(exprs []Expr, st *runState, locals *env) ([]any, error) {
	args := make([]any, 0, len(exprs))
	for _, e := range exprs {
		v, err := ev.evalExpr(e, st, locals)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// callClosure вызывает стрелочную функцию. Недостающие аргументы
// получают null, лишние отбрасываются.
func (ev *Evaluator) callClosure(cl *Closure, args []any) (any, error) {
	vars := make(map[string]any, len(cl.Params))
	for i, p := range cl.Params {
		if i < len(args) {
			vars[p] = args[i]
		} else {
			vars[p] = nil
		}
	}
	child := &env{vars: vars, parent: cl.env}
	return ev.evalExpr(cl.Body, cl.st, child)
}

// evalTemplate вычисляет шаблонную строку: вставки ${...} разбираются
// тем же парсером рекурсивно, их значения приводятся к строке.
func (ev *Evaluator) evalTemplate(raw string, st *runState, locals *env) (any, error) {
	var b strings.Builder
	i := 0
	for i < len(raw) {
		j := strings.Index(raw[i:], "${")
		if j < 0 {
			b.WriteString(raw[i:])
			break
		}
		b.WriteString(raw[i : i+j])
		i += j + 2
		// Ищем закрывающую скобку с учётом вложенности.
		depth := 1
		k := i
		for k < len(raw) && depth > 0 {
			switch raw[k] {
			case '{':
				depth++
			case '}':
				depth--
			}
			k++
		}
		if depth != 0 {
			return nil, fmt.Errorf("%w: unterminated template expression", ErrParse)
		}
		inner := raw[i : k-1]
		pr := Parse(inner)
		if err := pr.Err(); err != nil {
			return nil, err
		}
		val, err := ev.evalProgramValue(pr.Program, st, locals)
		if err != nil {
			return nil, err
		}
		b.WriteString(Stringify(val))
		i = k
	}
	return b.String(), nil
}

// evalProgramValue вычисляет вложенную программу шаблона в текущем
// состоянии, возвращая значение последнего выражения.
func (ev *Evaluator) evalProgramValue(prog *Program, st *runState, locals *env) (any, error) {
	var last any
	for _, stmt := range prog.Stmts {
		v, err := ev.evalExpr(stmt.Expr, st, locals)
		if err != nil {
			return nil, err
		}
		if stmt.Target != "" {
			st.assign(stmt.Target, v)
			continue
		}
		last = v
	}
	return last, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
