package parser

import (
	"strings"
	"testing"
)

func TestLexer(t *testing.T) {
	input := `cpu.sum(['host']) * 100 >= 1.5 && tags['az'] != "x\'y" -> ;`

	expected := []struct {
		typ     TokenType
		literal string
	}{
		{IDENT, "cpu"},
		{DOT, "."},
		{IDENT, "sum"},
		{LPAREN, "("},
		{LBRACKET, "["},
		{STRING, "host"},
		{RBRACKET, "]"},
		{RPAREN, ")"},
		{ASTERISK, "*"},
		{INT, "100"},
		{GTE, ">="},
		{FLOAT, "1.5"},
		{AND, "&&"},
		{IDENT, "tags"},
		{LBRACKET, "["},
		{STRING, "az"},
		{RBRACKET, "]"},
		{NOT_EQ, "!="},
		{STRING, "x'y"},
		{ARROW, "->"},
		{SEMICOLON, ";"},
		{EOF, ""},
	}

	l := NewLexer(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ {
			t.Fatalf("token %d: expected type %s, got %s (%q)", i, want.typ, tok.Type, tok.Literal)
		}
		if tok.Literal != want.literal {
			t.Fatalf("token %d: expected literal %q, got %q", i, want.literal, tok.Literal)
		}
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"a + b * c", "a + b * c"},
		{"(a + b) * c", "(a + b) * c"},
		{"a - b - c", "a - b - c"},
		{"-a * b", "-a * b"},
		{"cpu.sum(['host'])", "cpu.sum(['host'])"},
		{"cpu.sum(['host']).max()", "cpu.sum(['host']).max()"},
		{"a.x == 1 && b.y < 2", "a.x == 1 && b.y < 2"},
		{"Layer.GENERAL", "Layer.GENERAL"},
		{"tags['k']", "tags['k']"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			exp, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if got := exp.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseStructure(t *testing.T) {
	t.Run("ProductBindsTighter", func(t *testing.T) {
		exp, err := Parse("a + b * c")
		if err != nil {
			t.Fatal(err)
		}
		sum, ok := exp.(*InfixExpression)
		if !ok || sum.Operator != "+" {
			t.Fatalf("expected + at the root, got %T %s", exp, exp)
		}
		if prod, ok := sum.Right.(*InfixExpression); !ok || prod.Operator != "*" {
			t.Errorf("expected * on the right, got %T", sum.Right)
		}
	})

	t.Run("MethodChain", func(t *testing.T) {
		exp, err := Parse("cpu.tagEqual('a', 'b').sum(['x'])")
		if err != nil {
			t.Fatal(err)
		}
		outer, ok := exp.(*MethodCallExpression)
		if !ok || outer.Method.Value != "sum" {
			t.Fatalf("expected outer sum call, got %T %s", exp, exp)
		}
		inner, ok := outer.Receiver.(*MethodCallExpression)
		if !ok || inner.Method.Value != "tagEqual" || len(inner.Arguments) != 2 {
			t.Fatalf("expected inner tagEqual call with 2 arguments, got %s", outer.Receiver)
		}
	})

	t.Run("ClosureWithParams", func(t *testing.T) {
		exp, err := Parse("{prefix, tags -> tags.k = prefix}")
		if err != nil {
			t.Fatal(err)
		}
		cl, ok := exp.(*ClosureLiteral)
		if !ok {
			t.Fatalf("expected closure, got %T", exp)
		}
		if len(cl.Params) != 2 || cl.Params[0].Value != "prefix" || cl.Params[1].Value != "tags" {
			t.Errorf("unexpected params %v", cl.Params)
		}
		if len(cl.Body.Statements) != 1 {
			t.Fatalf("expected one statement, got %d", len(cl.Body.Statements))
		}
		if _, ok := cl.Body.Statements[0].(*AssignStatement); !ok {
			t.Errorf("expected assignment, got %T", cl.Body.Statements[0])
		}
	})

	t.Run("ClosureWithoutParams", func(t *testing.T) {
		exp, err := Parse("{ tags.env == 'prod' }")
		if err != nil {
			t.Fatal(err)
		}
		cl, ok := exp.(*ClosureLiteral)
		if !ok {
			t.Fatalf("expected closure, got %T", exp)
		}
		if len(cl.Params) != 0 {
			t.Errorf("expected no params, got %d", len(cl.Params))
		}
	})

	t.Run("IfElse", func(t *testing.T) {
		exp, err := Parse("{tags -> if (tags.a == '1') { tags.b = 'x' } else if (tags.a == '2') { tags.b = 'y' } else { tags.b = 'z' }}")
		if err != nil {
			t.Fatal(err)
		}
		cl := exp.(*ClosureLiteral)
		stmt, ok := cl.Body.Statements[0].(*IfStatement)
		if !ok {
			t.Fatalf("expected if statement, got %T", cl.Body.Statements[0])
		}
		if stmt.Alternative == nil || len(stmt.Alternative.Statements) != 1 {
			t.Fatal("expected else-if chain")
		}
		if _, ok := stmt.Alternative.Statements[0].(*IfStatement); !ok {
			t.Errorf("expected nested if, got %T", stmt.Alternative.Statements[0])
		}
	})
}

func TestParseRoundTrip(t *testing.T) {
	inputs := []string{
		"{tags -> tags.put('region', 'us'); tags}",
		"{tags -> if (tags.a == 'it\\'s') { tags.b = 'x' }; tags}",
		"cpu.filter({ tags -> tags.env == 'prod' }).sum(['az'])",
	}
	for _, input := range inputs {
		first, err := Parse(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		second, err := Parse(first.String())
		if err != nil {
			t.Fatalf("reparse %q: %v", first.String(), err)
		}
		if first.String() != second.String() {
			t.Errorf("round trip changed the tree:\n  %s\n  %s", first, second)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "empty expression"},
		{"a +", "no prefix parse function"},
		{"cpu.sum(['a']", "expected next token"},
		{"a b", "unexpected"},
		{"{tags -> tags.a = 'x'", "unterminated block"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			pe, ok := err.(*ParseError)
			if !ok {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if !strings.Contains(pe.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, pe)
			}
		})
	}
}

func TestCountNodes(t *testing.T) {
	tests := []struct {
		input string
		nodes int
	}{
		{"cpu", 1},
		{"a + b", 3},
		{"cpu.sum(['host'])", 4},
		{"(a + b) * 2", 6},
	}
	for _, tt := range tests {
		exp, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.input, err)
		}
		if got := CountNodes(exp); got != tt.nodes {
			t.Errorf("%q: expected %d nodes, got %d", tt.input, tt.nodes, got)
		}
	}
}
