// Package unit translates a parsed MAL expression into a postfix sequence of
// units, the instruction form the compiler binds and the vm executes.
package unit

import (
	"strconv"
	"strings"
)

// Kind is the instruction class of a Unit.
type Kind int

const (
	SampleFamily Kind = iota + 1
	Scalar
	UnaryFunction
	BinaryFunction
)

func (k Kind) String() string {
	switch k {
	case SampleFamily:
		return "SAMPLE_FAMILY"
	case Scalar:
		return "SCALAR"
	case UnaryFunction:
		return "UNARY_FUNCTION"
	case BinaryFunction:
		return "BINARY_FUNCTION"
	default:
		return "UNKNOWN"
	}
}

// GroupName is the unary unit emitted for a parenthesized sub-expression.
const GroupName = "()"

// Unit is one postfix instruction. Name is the sample family name, the
// literal text of a scalar, the operator symbol or the method name. Number
// is set only for Scalar units and Args only for function units.
type Unit struct {
	Kind   Kind
	Name   string
	Number float64
	Args   []Parameter
}

func (u Unit) String() string {
	var b strings.Builder
	b.WriteString(u.Kind.String())
	b.WriteString("(")
	b.WriteString(u.Name)
	for _, a := range u.Args {
		b.WriteString(", ")
		b.WriteString(a.String())
	}
	b.WriteString(")")
	return b.String()
}

// Sequence is a complete postfix translation of one expression.
type Sequence []Unit

func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, u := range s {
		parts[i] = u.String()
	}
	return strings.Join(parts, " ")
}

// Depth returns the operand stack depth the sequence leaves behind, and the
// lowest depth reached before an instruction pops. A well formed sequence
// has depth 1 and never pops an empty stack.
func (s Sequence) Depth() (final int, underflow bool) {
	depth := 0
	for _, u := range s {
		switch u.Kind {
		case SampleFamily, Scalar:
			depth++
		case UnaryFunction:
			if depth < 1 {
				underflow = true
			}
		case BinaryFunction:
			if depth < 2 {
				underflow = true
			}
			depth--
		}
	}
	return depth, underflow
}

func sampleFamilyUnit(name string) Unit {
	return Unit{Kind: SampleFamily, Name: name}
}

func scalarUnit(text string, v float64) Unit {
	if text == "" {
		text = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return Unit{Kind: Scalar, Name: text, Number: v}
}
