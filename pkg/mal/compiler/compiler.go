// Package compiler binds a unit sequence to operation implementations,
// producing an immutable Program the vm can run any number of times.
package compiler

import (
	"fmt"
	"strings"

	"github.com/chosenoffset/mal/pkg/mal/closure"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/ops"
	"github.com/chosenoffset/mal/pkg/mal/parser"
	"github.com/chosenoffset/mal/pkg/mal/unit"
)

// Instruction is one unit with its operation resolved. Unary is set for
// unary function units and Binary for binary ones.
type Instruction struct {
	Unit   unit.Unit
	Unary  ops.UnaryFunc
	Binary ops.BinaryFunc
}

// Declaration is a typed local binding of one closure in the program.
// Closure numbers closures in the order they appear.
type Declaration struct {
	Closure int
	Name    string
	Type    closure.Type
}

// Program is a compiled expression. It is never modified after Compile
// returns and may be executed concurrently.
type Program struct {
	Metric       string
	Source       string
	Declarations []Declaration
	Instructions []Instruction
	MaxDepth     int
}

// Compiler resolves units against a registry.
type Compiler struct {
	registry *ops.Registry
}

func New(registry *ops.Registry) *Compiler {
	if registry == nil {
		registry = ops.Standard()
	}
	return &Compiler{registry: registry}
}

// Compile binds seq for metric using the standard registry.
func Compile(metric string, seq unit.Sequence) (*Program, error) {
	return New(nil).Compile(metric, seq)
}

// CompileSource parses, translates and compiles src for metric.
func CompileSource(metric, src string) (*Program, error) {
	return New(nil).CompileSource(metric, src)
}

// CompileSource parses, translates and compiles src for metric.
func (c *Compiler) CompileSource(metric, src string) (*Program, error) {
	expr, err := parser.Parse(src)
	if err != nil {
		return nil, malerr.WithMetric(malerr.Wrap(malerr.Resolution, err, "cannot parse expression"), metric)
	}
	seq, err := unit.Translate(expr)
	if err != nil {
		return nil, malerr.WithMetric(err, metric)
	}
	p, err := c.Compile(metric, seq)
	if err != nil {
		return nil, err
	}
	p.Source = src
	return p, nil
}

// Compile resolves every function unit of seq, keeping unit order. It fails
// on the first unit whose name or static argument kinds match no
// registered operation.
func (c *Compiler) Compile(metric string, seq unit.Sequence) (*Program, error) {
	p := &Program{Metric: metric, Instructions: make([]Instruction, 0, len(seq))}

	depth := 0
	for _, u := range seq {
		ins := Instruction{Unit: u}
		switch u.Kind {
		case unit.SampleFamily, unit.Scalar:
			depth++

		case unit.UnaryFunction:
			kinds := make([]unit.ParamKind, len(u.Args))
			for i, a := range u.Args {
				kinds[i] = a.Kind()
				if a.Kind() == unit.ClosureParam {
					p.declare(a.Closure())
				}
			}
			o, err := c.registry.Resolve(u.Name, 1, kinds)
			if err != nil {
				return nil, malerr.WithMetric(malerr.WithOp(err, u.Name), metric)
			}
			fn, err := o.Bind(u.Args)
			if err != nil {
				return nil, malerr.WithMetric(malerr.WithOp(err, u.Name), metric)
			}
			ins.Unary = fn

		case unit.BinaryFunction:
			o, err := c.registry.Resolve(u.Name, 2, nil)
			if err != nil {
				return nil, malerr.WithMetric(malerr.WithOp(err, u.Name), metric)
			}
			ins.Binary = o.Call
			depth--

		default:
			return nil, malerr.WithMetric(malerr.New(malerr.Invariant, "unit %s has no kind", u), metric)
		}
		if depth > p.MaxDepth {
			p.MaxDepth = depth
		}
		p.Instructions = append(p.Instructions, ins)
	}
	return p, nil
}

func (p *Program) declare(d *closure.Descriptor) {
	index := 0
	if n := len(p.Declarations); n > 0 {
		index = p.Declarations[n-1].Closure + 1
	}
	for _, param := range d.Params {
		p.Declarations = append(p.Declarations, Declaration{Closure: index, Name: param.Name, Type: param.Type})
	}
}

// Units returns the unit sequence the program was compiled from.
func (p *Program) Units() unit.Sequence {
	seq := make(unit.Sequence, len(p.Instructions))
	for i, ins := range p.Instructions {
		seq[i] = ins.Unit
	}
	return seq
}

// String disassembles the program, one instruction per line.
func (p *Program) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "program %s\n", p.Metric)
	for _, d := range p.Declarations {
		fmt.Fprintf(&b, "  decl   closure#%d %s %s\n", d.Closure, d.Name, d.Type)
	}
	for i, ins := range p.Instructions {
		fmt.Fprintf(&b, "  %04d   %s\n", i, ins.Unit)
	}
	return b.String()
}
