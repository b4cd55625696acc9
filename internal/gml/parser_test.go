package gml

import "testing"

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	res := Parse(src)
	if !res.Success {
		t.Fatalf("parse failed: %v", res.Errors)
	}
	return res.Program
}

func TestParse_Precedence(t *testing.T) {
	prog := mustParse(t, "1 + 2 * 3")

	bin, ok := prog.Stmts[0].Expr.(Binary)
	if !ok || bin.Op != "+" {
		t.Fatalf("expected + at the top, got %#v", prog.Stmts[0].Expr)
	}
	right, ok := bin.R.(Binary)
	if !ok || right.Op != "*" {
		t.Errorf("expected * nested under +, got %#v", bin.R)
	}
}

func TestParse_Assignment(t *testing.T) {
	prog := mustParse(t, "total = price * qty")

	if len(prog.Stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(prog.Stmts))
	}
	if prog.Stmts[0].Target != "total" {
		t.Errorf("expected target total, got %q", prog.Stmts[0].Target)
	}
	if !prog.HasAssignments() {
		t.Error("program should report assignments")
	}
}

func TestParse_CommaSeparatedStatements(t *testing.T) {
	prog := mustParse(t, "a = 1, b = 2")

	if len(prog.Stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(prog.Stmts))
	}
	if prog.Stmts[0].Target != "a" || prog.Stmts[1].Target != "b" {
		t.Errorf("unexpected targets: %q, %q", prog.Stmts[0].Target, prog.Stmts[1].Target)
	}
}

func TestParse_ArrowSingleParam(t *testing.T) {
	prog := mustParse(t, "items.map(i => i * 2)")

	call, ok := prog.Stmts[0].Expr.(Call)
	if !ok {
		t.Fatalf("expected call, got %#v", prog.Stmts[0].Expr)
	}
	arrow, ok := call.Args[0].(Arrow)
	if !ok {
		t.Fatalf("expected arrow argument, got %#v", call.Args[0])
	}
	if len(arrow.Params) != 1 || arrow.Params[0] != "i" {
		t.Errorf("expected params [i], got %v", arrow.Params)
	}
}

func TestParse_ArrowParenParams(t *testing.T) {
	prog := mustParse(t, "items.map((item, index) => index)")

	call := prog.Stmts[0].Expr.(Call)
	arrow, ok := call.Args[0].(Arrow)
	if !ok {
		t.Fatalf("expected arrow argument, got %#v", call.Args[0])
	}
	if len(arrow.Params) != 2 || arrow.Params[0] != "item" || arrow.Params[1] != "index" {
		t.Errorf("expected params [item index], got %v", arrow.Params)
	}
}

func TestParse_ParenGroupIsNotArrow(t *testing.T) {
	// (a) без => остаётся сгруппированным выражением.
	prog := mustParse(t, "(a) * 2")

	bin, ok := prog.Stmts[0].Expr.(Binary)
	if !ok || bin.Op != "*" {
		t.Fatalf("expected *, got %#v", prog.Stmts[0].Expr)
	}
	if _, ok := bin.L.(Ident); !ok {
		t.Errorf("expected grouped identifier, got %#v", bin.L)
	}
}

func TestParse_Case(t *testing.T) {
	prog := mustParse(t, "CASE WHEN x >= 90 THEN 'A' WHEN x >= 80 THEN 'B' ELSE 'C' END")

	ce, ok := prog.Stmts[0].Expr.(CaseExpr)
	if !ok {
		t.Fatalf("expected case expression, got %#v", prog.Stmts[0].Expr)
	}
	if ce.Subject != nil {
		t.Error("search-form CASE should have no subject")
	}
	if len(ce.Whens) != 2 {
		t.Errorf("expected 2 when clauses, got %d", len(ce.Whens))
	}
	if ce.Else == nil {
		t.Error("expected else branch")
	}
}

func TestParse_ObjectShorthandAndSpread(t *testing.T) {
	prog := mustParse(t, "{name, age: 30, ...rest}")

	obj, ok := prog.Stmts[0].Expr.(ObjectLit)
	if !ok {
		t.Fatalf("expected object literal, got %#v", prog.Stmts[0].Expr)
	}
	if len(obj.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(obj.Entries))
	}
	// Краткая форма {name} разворачивается в {name: name}.
	if obj.Entries[0].Key != "name" {
		t.Errorf("expected shorthand key name, got %q", obj.Entries[0].Key)
	}
	if _, ok := obj.Entries[0].Value.(Ident); !ok {
		t.Errorf("shorthand value should be identifier, got %#v", obj.Entries[0].Value)
	}
	if obj.Entries[2].Spread == nil {
		t.Error("expected spread entry")
	}
}

func TestParse_NotInLike(t *testing.T) {
	prog := mustParse(t, "x NOT IN list && name LIKE 'a%'")

	top := prog.Stmts[0].Expr.(Binary)
	if top.Op != "&&" {
		t.Fatalf("expected && at the top, got %q", top.Op)
	}
	if l := top.L.(Binary); l.Op != "NOT IN" {
		t.Errorf("expected NOT IN, got %q", l.Op)
	}
	if r := top.R.(Binary); r.Op != "LIKE" {
		t.Errorf("expected LIKE, got %q", r.Op)
	}
}

func TestParse_CollectsMultipleErrors(t *testing.T) {
	res := Parse("a = )\nb = 2\nc = ]")

	if res.Success {
		t.Fatal("parse should fail")
	}
	if len(res.Errors) < 2 {
		t.Fatalf("expected at least 2 errors, got %d: %v", len(res.Errors), res.Errors)
	}
	// Ошибки несут позиции.
	if res.Errors[0].Tok.Line != 1 {
		t.Errorf("first error should be on line 1, got %d", res.Errors[0].Tok.Line)
	}
	// Корректное statement между ошибками всё же разобрано.
	found := false
	for _, s := range res.Program.Stmts {
		if s.Target == "b" {
			found = true
		}
	}
	if !found {
		t.Error("valid statement between errors should still be parsed")
	}
}

func TestParse_NewlinesInsideBrackets(t *testing.T) {
	prog := mustParse(t, "[1,\n 2,\n 3]")

	arr, ok := prog.Stmts[0].Expr.(ArrayLit)
	if !ok || len(arr.Elems) != 3 {
		t.Fatalf("expected 3-element array, got %#v", prog.Stmts[0].Expr)
	}
}

func TestParse_SpreadStatement(t *testing.T) {
	prog := mustParse(t, "...data\nx = 1")

	if _, ok := prog.Stmts[0].Expr.(SpreadExpr); !ok {
		t.Errorf("expected spread statement, got %#v", prog.Stmts[0].Expr)
	}
}
