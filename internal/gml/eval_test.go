package gml

import (
	"errors"
	"reflect"
	"testing"
)

func evalValue(t *testing.T, src string, ctx map[string]any) any {
	t.Helper()
	res, err := NewEvaluator().Eval(src, ctx)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return res.Output()
}

func TestEval_Arithmetic(t *testing.T) {
	got := evalValue(t, "x + 5", map[string]any{"x": int64(10)})
	if got != int64(15) {
		t.Errorf("expected 15, got %v (%T)", got, got)
	}

	// Целочисленная арифметика не уходит во float.
	if got := evalValue(t, "7 / 2", nil); got != int64(3) {
		t.Errorf("expected integer division 3, got %v (%T)", got, got)
	}
	if got := evalValue(t, "7.0 / 2", nil); got != 3.5 {
		t.Errorf("expected 3.5, got %v", got)
	}
}

func TestEval_DivisionByZero(t *testing.T) {
	_, err := NewEvaluator().Eval("1 / 0", nil)
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestEval_FloatEqualityEpsilon(t *testing.T) {
	if got := evalValue(t, "0.1 + 0.2 == 0.3", nil); got != true {
		t.Errorf("0.1 + 0.2 should equal 0.3, got %v", got)
	}
}

func TestEval_StrictEquality(t *testing.T) {
	if got := evalValue(t, "1 == 1.0", nil); got != true {
		t.Errorf("loose equality should promote int to float, got %v", got)
	}
	if got := evalValue(t, "1 === 1.0", nil); got != false {
		t.Errorf("strict equality should distinguish int and float, got %v", got)
	}
	if got := evalValue(t, "1 !== '1'", nil); got != true {
		t.Errorf("strict inequality across types should hold, got %v", got)
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	// obj отсутствует: без короткого замыкания правая часть дала бы null.
	if got := evalValue(t, "obj && obj.field", nil); got != false {
		t.Errorf("expected false for missing obj, got %v", got)
	}
	if got := evalValue(t, "missing ?? 'default'", nil); got != "default" {
		t.Errorf("expected coalesce fallback, got %v", got)
	}
	if got := evalValue(t, "'value' ?? 'default'", nil); got != "value" {
		t.Errorf("expected left value, got %v", got)
	}
	// || возвращает левый операнд, если он истинен.
	if got := evalValue(t, "'a' || 'b'", nil); got != "a" {
		t.Errorf("expected 'a', got %v", got)
	}
}

func TestEval_MemberAccessIsNullSafe(t *testing.T) {
	ctx := map[string]any{"user": map[string]any{"name": "Alice"}}

	if got := evalValue(t, "user.name", ctx); got != "Alice" {
		t.Errorf("expected Alice, got %v", got)
	}
	if got := evalValue(t, "user.missing", ctx); got != nil {
		t.Errorf("missing key should give null, got %v", got)
	}
	if got := evalValue(t, "nothing.deep.path", ctx); got != nil {
		t.Errorf("member of null should give null, got %v", got)
	}
}

func TestEval_IndexAccess(t *testing.T) {
	ctx := map[string]any{"arr": []any{int64(1), int64(2), int64(3)}}

	if got := evalValue(t, "arr[0]", ctx); got != int64(1) {
		t.Errorf("expected 1, got %v", got)
	}
	// Отрицательный индекс считается от конца.
	if got := evalValue(t, "arr[-1]", ctx); got != int64(3) {
		t.Errorf("expected 3 for arr[-1], got %v", got)
	}
	if got := evalValue(t, "arr[10]", ctx); got != nil {
		t.Errorf("out of bounds should give null, got %v", got)
	}
}

func TestEval_AssignmentsBuildObject(t *testing.T) {
	res, err := NewEvaluator().Eval("greeting = 'Hello', user = name", map[string]any{"name": "Alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasAssignments {
		t.Fatal("expected assignment mode")
	}
	if len(res.Bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(res.Bindings))
	}
	// Порядок связываний сохраняется.
	if res.Bindings[0].Name != "greeting" || res.Bindings[1].Name != "user" {
		t.Errorf("unexpected binding order: %v", res.Bindings)
	}
	out := res.Output().(map[string]any)
	if out["greeting"] != "Hello" || out["user"] != "Alice" {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestEval_TempVariablesFiltered(t *testing.T) {
	res, err := NewEvaluator().Eval("$tmp = 2\nout = $tmp * 3", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Bindings) != 1 || res.Bindings[0].Name != "out" {
		t.Fatalf("$tmp should be filtered, got %v", res.Bindings)
	}
	if res.Bindings[0].Value != int64(6) {
		t.Errorf("expected 6, got %v", res.Bindings[0].Value)
	}
}

func TestEval_AssignmentShadowsContext(t *testing.T) {
	// Присваивание перекрывает одноимённую переменную контекста.
	got := evalValue(t, "x = 1\ny = x + 1", map[string]any{"x": int64(100)})
	out := got.(map[string]any)
	if out["y"] != int64(2) {
		t.Errorf("expected y == 2, got %v", out["y"])
	}
}

func TestEval_SpreadStatementMerges(t *testing.T) {
	ctx := map[string]any{"data": map[string]any{"a": int64(1), "b": int64(2)}}
	res, err := NewEvaluator().Eval("...data\nc = 3", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := res.Output().(map[string]any)
	if out["a"] != int64(1) || out["b"] != int64(2) || out["c"] != int64(3) {
		t.Errorf("unexpected merged output: %v", out)
	}
}

func TestEval_Template(t *testing.T) {
	ctx := map[string]any{"name": "World", "n": int64(2)}

	got := evalValue(t, "`Hello ${name}! n=${n * 2}`", ctx)
	if got != "Hello World! n=4" {
		t.Errorf("unexpected template result: %v", got)
	}
}

func TestEval_TernaryAndCase(t *testing.T) {
	ctx := map[string]any{"score": int64(85)}

	if got := evalValue(t, "score >= 60 ? 'pass' : 'fail'", ctx); got != "pass" {
		t.Errorf("expected pass, got %v", got)
	}

	src := "CASE WHEN score >= 90 THEN 'A' WHEN score >= 80 THEN 'B' ELSE 'C' END"
	if got := evalValue(t, src, ctx); got != "B" {
		t.Errorf("expected B, got %v", got)
	}

	// Форма с subject сравнивает значения.
	ctx2 := map[string]any{"kind": "dog"}
	src2 := "CASE kind WHEN 'cat' THEN 'meow' WHEN 'dog' THEN 'woof' ELSE '?' END"
	if got := evalValue(t, src2, ctx2); got != "woof" {
		t.Errorf("expected woof, got %v", got)
	}
}

func TestEval_ArrayMethods(t *testing.T) {
	ctx := map[string]any{"items": []any{int64(1), int64(2), int64(3), int64(4)}}

	got := evalValue(t, "items.map(i => i * 2)", ctx)
	doubled := got.([]any)
	if len(doubled) != 4 || doubled[0] != int64(2) || doubled[3] != int64(8) {
		t.Errorf("unexpected map result: %v", doubled)
	}

	got = evalValue(t, "items.filter(i => i % 2 == 0)", ctx)
	even := got.([]any)
	if len(even) != 2 || even[0] != int64(2) || even[1] != int64(4) {
		t.Errorf("unexpected filter result: %v", even)
	}

	if got := evalValue(t, "items.some(i => i > 3)", ctx); got != true {
		t.Errorf("expected some == true, got %v", got)
	}
	if got := evalValue(t, "items.every(i => i > 0)", ctx); got != true {
		t.Errorf("expected every == true, got %v", got)
	}
	if got := evalValue(t, "items.find(i => i > 2)", ctx); got != int64(3) {
		t.Errorf("expected find == 3, got %v", got)
	}
	if got := evalValue(t, "items.findIndex(i => i > 2)", ctx); got != int64(2) {
		t.Errorf("expected findIndex == 2, got %v", got)
	}
	if got := evalValue(t, "items.sum()", ctx); got != 10.0 {
		t.Errorf("expected sum 10, got %v", got)
	}
	if got := evalValue(t, "items.join('-')", ctx); got != "1-2-3-4" {
		t.Errorf("unexpected join: %v", got)
	}
	if got := evalValue(t, "items.includes(3)", ctx); got != true {
		t.Errorf("expected includes == true, got %v", got)
	}
}

func TestEval_ArrayObjectPipelines(t *testing.T) {
	ctx := map[string]any{"orders": []any{
		map[string]any{"id": "a", "amount": int64(10), "status": "paid"},
		map[string]any{"id": "b", "amount": int64(20), "status": "new"},
		map[string]any{"id": "c", "amount": int64(30), "status": "paid"},
	}}

	got := evalValue(t, "orders.filter(o => o.status == 'paid').sum('amount')", ctx)
	if got != 40.0 {
		t.Errorf("expected 40, got %v", got)
	}

	grouped := evalValue(t, "orders.group('status')", ctx).(map[string]any)
	if len(grouped["paid"].([]any)) != 2 || len(grouped["new"].([]any)) != 1 {
		t.Errorf("unexpected grouping: %v", grouped)
	}

	plucked := evalValue(t, "orders.pluck('id')", ctx).([]any)
	if len(plucked) != 3 || plucked[0] != "a" {
		t.Errorf("unexpected pluck: %v", plucked)
	}
}

func TestEval_InAndLike(t *testing.T) {
	ctx := map[string]any{"tags": []any{"red", "green"}}

	if got := evalValue(t, "'red' IN tags", ctx); got != true {
		t.Errorf("expected IN == true, got %v", got)
	}
	if got := evalValue(t, "'blue' NOT IN tags", ctx); got != true {
		t.Errorf("expected NOT IN == true, got %v", got)
	}
	if got := evalValue(t, "'hello' LIKE 'h%'", nil); got != true {
		t.Errorf("expected LIKE == true, got %v", got)
	}
	if got := evalValue(t, "'hello' LIKE 'h_llo'", nil); got != true {
		t.Errorf("expected underscore wildcard match, got %v", got)
	}
	if got := evalValue(t, "'hello' NOT LIKE 'x%'", nil); got != true {
		t.Errorf("expected NOT LIKE == true, got %v", got)
	}
}

func TestEval_Functions(t *testing.T) {
	if got := evalValue(t, "CONCAT('a', 1, null, 'b')", nil); got != "a1b" {
		t.Errorf("unexpected CONCAT: %v", got)
	}
	if got := evalValue(t, "UPPER('hello')", nil); got != "HELLO" {
		t.Errorf("unexpected UPPER: %v", got)
	}
	if got := evalValue(t, "COALESCE(null, null, 'x')", nil); got != "x" {
		t.Errorf("unexpected COALESCE: %v", got)
	}
	if got := evalValue(t, "IF(1 > 2, 'yes', 'no')", nil); got != "no" {
		t.Errorf("unexpected IF: %v", got)
	}
	if got := evalValue(t, "ROUND(3.14159, 2)", nil); got != 3.14 {
		t.Errorf("unexpected ROUND: %v", got)
	}
	if got := evalValue(t, "INT('42')", nil); got != int64(42) {
		t.Errorf("unexpected INT: %v", got)
	}
	if got := evalValue(t, "LENGTH('abc')", nil); got != int64(3) {
		t.Errorf("unexpected LENGTH: %v", got)
	}

	_, err := NewEvaluator().Eval("NO_SUCH_FN(1)", nil)
	if !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestEval_DollarIsWholeContext(t *testing.T) {
	ctx := map[string]any{"a": int64(1)}

	got := evalValue(t, "$.a", ctx)
	if got != int64(1) {
		t.Errorf("expected $.a == 1, got %v", got)
	}
}

func TestEval_ObjectAndSpreadLiterals(t *testing.T) {
	ctx := map[string]any{"base": map[string]any{"a": int64(1)}, "name": "x"}

	got := evalValue(t, "{...base, b: 2, name}", ctx).(map[string]any)
	if got["a"] != int64(1) || got["b"] != int64(2) || got["name"] != "x" {
		t.Errorf("unexpected object: %v", got)
	}

	arr := evalValue(t, "[0, ...list, 9]", map[string]any{"list": []any{int64(1), int64(2)}}).([]any)
	if len(arr) != 4 || arr[1] != int64(1) || arr[3] != int64(9) {
		t.Errorf("unexpected array spread: %v", arr)
	}
}

func TestEval_ParseErrorWrapped(t *testing.T) {
	_, err := NewEvaluator().Eval("a = )", nil)
	if !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestEval_StringMethods(t *testing.T) {
	ctx := map[string]any{"s": "  Hello,World  "}

	if got := evalValue(t, "s.trim().split(',')", ctx).([]any); len(got) != 2 || got[0] != "Hello" {
		t.Errorf("unexpected trim/split: %v", got)
	}
	if got := evalValue(t, "'abc'.toUpperCase()", nil); got != "ABC" {
		t.Errorf("unexpected toUpperCase: %v", got)
	}
	if got := evalValue(t, "'abc'.startsWith('ab')", nil); got != true {
		t.Errorf("unexpected startsWith: %v", got)
	}
}

func TestEval_MethodOnNullIsNull(t *testing.T) {
	if got := evalValue(t, "missing.map(i => i)", nil); got != nil {
		t.Errorf("method on null should give null, got %v", got)
	}
}

func TestEval_RepeatedEvaluationIsStable(t *testing.T) {
	ctx := map[string]any{
		"items": []any{int64(1), int64(2), int64(3)},
		"n":     int64(2),
	}
	src := "scaled = items.map(i => i * n), total = items.sum(), big = total > 3"

	ev := NewEvaluator()
	first, err := ev.Eval(src, ctx)
	if err != nil {
		t.Fatalf("первый проход: %v", err)
	}
	second, err := ev.Eval(src, ctx)
	if err != nil {
		t.Fatalf("второй проход: %v", err)
	}

	// Повторное вычисление той же программы в том же контексте даёт
	// тот же результат и те же связывания.
	if !reflect.DeepEqual(first.Output(), second.Output()) {
		t.Errorf("результаты разошлись: %v и %v", first.Output(), second.Output())
	}
	if !reflect.DeepEqual(first.All, second.All) {
		t.Errorf("связывания разошлись: %v и %v", first.All, second.All)
	}

	// Контекст вызывающего не мутируется вычислением.
	if !reflect.DeepEqual(ctx["items"], []any{int64(1), int64(2), int64(3)}) {
		t.Errorf("контекст изменён: %v", ctx["items"])
	}
	if len(ctx) != 2 {
		t.Errorf("в контексте появились лишние ключи: %v", ctx)
	}
}
