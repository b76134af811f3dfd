package compiler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/closure"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/ops"
	"github.com/chosenoffset/mal/pkg/mal/unit"
	"github.com/chosenoffset/mal/pkg/mal/value"
)

func TestCompileSource(t *testing.T) {
	p, err := CompileSource("m", "(a + b) * 2")
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"SAMPLE_FAMILY(a)",
		"SAMPLE_FAMILY(b)",
		"BINARY_FUNCTION(+)",
		"UNARY_FUNCTION(())",
		"SCALAR(2)",
		"BINARY_FUNCTION(*)",
	}
	got := make([]string, len(p.Instructions))
	for i, ins := range p.Instructions {
		got[i] = ins.Unit.String()
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if p.Metric != "m" || p.Source != "(a + b) * 2" {
		t.Errorf("unexpected metadata %q %q", p.Metric, p.Source)
	}
	if p.MaxDepth != 2 {
		t.Errorf("expected max depth 2, got %d", p.MaxDepth)
	}
	for i, ins := range p.Instructions {
		switch ins.Unit.Kind {
		case unit.UnaryFunction:
			if ins.Unary == nil {
				t.Errorf("instruction %d: unary not bound", i)
			}
		case unit.BinaryFunction:
			if ins.Binary == nil {
				t.Errorf("instruction %d: binary not bound", i)
			}
		}
	}
}

func TestCompileKeepsUnitOrder(t *testing.T) {
	src := "cpu.tagEqual('env', 'prod').sum(['host']) / 100"
	p, err := CompileSource("cpu", src)
	if err != nil {
		t.Fatal(err)
	}
	again, err := CompileSource("cpu", src)
	if err != nil {
		t.Fatal(err)
	}
	if p.Units().String() != again.Units().String() {
		t.Errorf("compiling twice gave different units:\n%s\n%s", p.Units(), again.Units())
	}
	if n := len(p.Units()); n != 5 {
		t.Errorf("expected 5 units, got %d", n)
	}
}

func TestDeclarations(t *testing.T) {
	src := "a.tag({tags -> tags.x = 'y'}).forEach(['k'], {key, t -> t[key] = 'v'})"
	p, err := CompileSource("m", src)
	if err != nil {
		t.Fatal(err)
	}

	want := []Declaration{
		{Closure: 0, Name: "tags", Type: closure.Tags},
		{Closure: 1, Name: "key", Type: closure.String},
		{Closure: 1, Name: "t", Type: closure.Tags},
	}
	if !reflect.DeepEqual(p.Declarations, want) {
		t.Errorf("expected %v, got %v", want, p.Declarations)
	}

	dis := p.String()
	for _, line := range []string{"program m", "decl   closure#1 key", "0000   SAMPLE_FAMILY(a)"} {
		if !strings.Contains(dis, line) {
			t.Errorf("disassembly missing %q:\n%s", line, dis)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind malerr.Kind
		op   string
	}{
		{"UnknownOperation", "cpu.summ()", malerr.Resolution, "summ"},
		{"WrongArguments", "cpu.tagEqual(1)", malerr.Resolution, "tagEqual"},
		{"ClosureShape", "cpu.filter({tags -> tags.a = 'b'})", malerr.Resolution, "filter"},
		{"ParseError", "cpu +", malerr.Resolution, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource("broken", tt.src)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("expected %s error, got %v", tt.kind, err)
			}
			var e *malerr.Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *malerr.Error, got %T", err)
			}
			if e.Metric != "broken" {
				t.Errorf("expected metric broken, got %q", e.Metric)
			}
			if e.Op != tt.op {
				t.Errorf("expected op %q, got %q", tt.op, e.Op)
			}
		})
	}
}

func TestCompileWithRegistry(t *testing.T) {
	reg := ops.NewRegistry()
	reg.RegisterBinary("+", func(l, r value.Value) (value.Value, error) { return l, nil })

	c := New(reg)
	if _, err := c.CompileSource("m", "a + b"); err != nil {
		t.Fatalf("custom registry: %v", err)
	}
	if _, err := c.CompileSource("m", "a.sum()"); !errors.Is(err, malerr.Resolution) {
		t.Errorf("expected resolution error for op missing from registry, got %v", err)
	}
}

func BenchmarkCompileSource(b *testing.B) {
	src := "http_requests_total.tagMatch('code', '5..').sum(['path']) / http_requests_total.sum(['path']) * 100"
	for i := 0; i < b.N; i++ {
		if _, err := CompileSource("ratio", src); err != nil {
			b.Fatal(err)
		}
	}
}
