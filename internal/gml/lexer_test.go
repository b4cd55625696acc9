package gml

import "testing"

func kinds(toks []Token) []TokenKind {
	out := make([]TokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenize_Expression(t *testing.T) {
	toks := Tokenize("price >= 100 && status == 'active'")

	want := []struct {
		kind TokenKind
		text string
	}{
		{TokenIdent, "price"},
		{TokenOperator, ">="},
		{TokenNumber, "100"},
		{TokenOperator, "&&"},
		{TokenIdent, "status"},
		{TokenOperator, "=="},
		{TokenString, "'active'"},
		{TokenEOF, ""},
	}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(toks), toks)
	}
	for i, w := range want {
		if toks[i].Kind != w.kind || toks[i].Text != w.text {
			t.Errorf("token %d: expected %s(%q), got %s(%q)", i, w.kind, w.text, toks[i].Kind, toks[i].Text)
		}
	}
}

func TestTokenize_LongestMatchFirst(t *testing.T) {
	// === должен распознаваться целиком, а не как == и =.
	toks := Tokenize("a === b !== c ... d")
	ops := []string{}
	for _, tok := range toks {
		if tok.Kind == TokenOperator {
			ops = append(ops, tok.Text)
		}
	}
	if len(ops) != 3 || ops[0] != "===" || ops[1] != "!==" || ops[2] != "..." {
		t.Errorf("expected [=== !== ...], got %v", ops)
	}
}

func TestTokenize_UnknownByteDoesNotAbort(t *testing.T) {
	toks := Tokenize("a @ b")

	if toks[0].Kind != TokenIdent || toks[0].Text != "a" {
		t.Errorf("expected ident a, got %v", toks[0])
	}
	if toks[1].Kind != TokenUnknown || toks[1].Text != "@" {
		t.Errorf("expected unknown token for '@', got %v", toks[1])
	}
	// Сканирование продолжается после мусора.
	if toks[2].Kind != TokenIdent || toks[2].Text != "b" {
		t.Errorf("expected ident b after unknown byte, got %v", toks[2])
	}
}

func TestTokenize_Positions(t *testing.T) {
	toks := Tokenize("x = 1\ny")

	x := toks[0]
	if x.Line != 1 || x.Col != 1 || x.Start != 0 || x.End != 1 {
		t.Errorf("unexpected position for x: %+v", x)
	}
	one := toks[2]
	if one.Line != 1 || one.Col != 5 {
		t.Errorf("expected 1 at 1:5, got %d:%d", one.Line, one.Col)
	}
	y := toks[4]
	if y.Kind != TokenIdent || y.Line != 2 || y.Col != 1 {
		t.Errorf("expected y at 2:1, got %v at %d:%d", y, y.Line, y.Col)
	}
}

func TestTokenize_KeywordsAndComments(t *testing.T) {
	toks := Tokenize("# comment\nCASE WHEN true THEN x END")

	if toks[0].Kind != TokenComment {
		t.Fatalf("expected comment, got %v", toks[0])
	}
	kw := 0
	for _, tok := range toks {
		if tok.Kind == TokenKeyword {
			kw++
		}
	}
	// CASE, WHEN, true, THEN, END
	if kw != 5 {
		t.Errorf("expected 5 keywords, got %d in %v", kw, kinds(toks))
	}
}

func TestTokenize_NumbersAndTemplates(t *testing.T) {
	toks := Tokenize("1.5e3 42 `hi ${name}`")

	if toks[0].Kind != TokenNumber || toks[0].Text != "1.5e3" {
		t.Errorf("expected scientific literal, got %v", toks[0])
	}
	if toks[1].Kind != TokenNumber || toks[1].Text != "42" {
		t.Errorf("expected integer literal, got %v", toks[1])
	}
	if toks[2].Kind != TokenTemplate || toks[2].Text != "`hi ${name}`" {
		t.Errorf("expected template token, got %v", toks[2])
	}
}

func TestTokenize_MemberAccessNotDecimal(t *testing.T) {
	// Точка после числа без цифры — оператор доступа, а не дробь.
	toks := Tokenize("user.name")
	if toks[0].Kind != TokenIdent || toks[1].Kind != TokenOperator || toks[1].Text != "." {
		t.Errorf("expected member access tokens, got %v %v", toks[0], toks[1])
	}
}
