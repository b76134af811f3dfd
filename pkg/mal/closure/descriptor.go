// Package closure analyzes the inline closures passed to tag, filter and
// forEach, and compiles them into programs that run against a sample's
// label set.
//
// A closure binds zero or more string variables followed by the tags
// mapping:
//
//	{ tags -> tags.region = 'us' }
//	{ prefix, tags -> tags[prefix + '_total'] = tags.total }
//
// A closure without parameters binds tags implicitly.
package closure

import (
	"fmt"

	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/parser"
)

// Type is the declared type of a closure binding.
type Type int

const (
	String Type = iota + 1
	Tags
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Tags:
		return "map[string]string"
	default:
		return "unknown"
	}
}

// Param is one declared binding.
type Param struct {
	Name string
	Type Type
}

// Yield is what a closure produces when its body finishes.
type Yield int

const (
	// YieldTags returns the, possibly mutated, tags mapping.
	YieldTags Yield = iota + 1
	// YieldCondition returns the boolean value of the final expression.
	YieldCondition
)

func (y Yield) String() string {
	if y == YieldCondition {
		return "condition"
	}
	return "tags"
}

// ImplicitTags is the binding a parameterless closure receives.
const ImplicitTags = "tags"

// Descriptor is the analyzed form of one closure literal. It is built once
// at compile time and never modified afterwards.
type Descriptor struct {
	Params []Param
	Body   []parser.Statement
	Yield  Yield
	source string
}

// TagsName is the name the tags mapping is bound to.
func (d *Descriptor) TagsName() string {
	return d.Params[len(d.Params)-1].Name
}

func (d *Descriptor) String() string {
	return d.source
}

var tagsMethods = map[string]int{
	"put":         2,
	"remove":      1,
	"get":         1,
	"containsKey": 1,
}

var stringMethods = map[string]int{
	"startsWith":  1,
	"endsWith":    1,
	"contains":    1,
	"equals":      1,
	"toLowerCase": 0,
	"toUpperCase": 0,
	"trim":        0,
	"replace":     2,
}

var conditionMethods = map[string]bool{
	"containsKey": true,
	"startsWith":  true,
	"endsWith":    true,
	"contains":    true,
	"equals":      true,
}

var closureOperators = map[string]bool{
	"+": true, "==": true, "!=": true, "<": true, ">": true,
	"<=": true, ">=": true, "&&": true, "||": true,
}

// Analyze extracts the typed bindings and the body of a closure literal.
// When the closure does not end in a condition, a final `tags` statement is
// appended so the body always yields the tags mapping.
func Analyze(lit *parser.ClosureLiteral) (*Descriptor, error) {
	d := &Descriptor{source: lit.String()}

	if len(lit.Params) == 0 {
		d.Params = []Param{{Name: ImplicitTags, Type: Tags}}
	}
	seen := make(map[string]bool, len(lit.Params))
	for i, p := range lit.Params {
		if seen[p.Value] {
			return nil, malerr.New(malerr.Resolution, "duplicate closure parameter %q in %s", p.Value, d.source)
		}
		seen[p.Value] = true
		typ := String
		if i == len(lit.Params)-1 {
			typ = Tags
		}
		d.Params = append(d.Params, Param{Name: p.Value, Type: typ})
	}

	a := &analyzer{desc: d, bound: make(map[string]Type, len(d.Params))}
	for _, p := range d.Params {
		a.bound[p.Name] = p.Type
	}
	for _, stmt := range lit.Body.Statements {
		if err := a.statement(stmt); err != nil {
			return nil, err
		}
	}

	d.Body = append(d.Body, lit.Body.Statements...)
	d.Yield = YieldTags
	if n := len(d.Body); n > 0 {
		if es, ok := d.Body[n-1].(*parser.ExpressionStatement); ok && isCondition(es.Expression) {
			d.Yield = YieldCondition
		}
	}
	if d.Yield == YieldTags {
		d.Body = append(d.Body, &parser.ExpressionStatement{
			Expression: &parser.Identifier{Value: d.TagsName()},
		})
	}
	return d, nil
}

type analyzer struct {
	desc  *Descriptor
	bound map[string]Type
}

func (a *analyzer) errorf(format string, args ...interface{}) error {
	return &malerr.Error{
		Kind:    malerr.Resolution,
		Op:      "closure " + a.desc.source,
		Message: fmt.Sprintf(format, args...),
	}
}

func (a *analyzer) statement(stmt parser.Statement) error {
	switch s := stmt.(type) {
	case *parser.ExpressionStatement:
		return a.expression(s.Expression)
	case *parser.AssignStatement:
		if err := a.assignTarget(s.Target); err != nil {
			return err
		}
		return a.expression(s.Value)
	case *parser.IfStatement:
		if err := a.expression(s.Condition); err != nil {
			return err
		}
		for _, inner := range s.Consequence.Statements {
			if err := a.statement(inner); err != nil {
				return err
			}
		}
		if s.Alternative != nil {
			for _, inner := range s.Alternative.Statements {
				if err := a.statement(inner); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return malerr.New(malerr.Invariant, "unrecognized closure statement %T", stmt)
}

func (a *analyzer) assignTarget(target parser.Expression) error {
	switch t := target.(type) {
	case *parser.Identifier:
		typ, ok := a.bound[t.Value]
		if !ok {
			return a.errorf("assignment to unbound variable %q", t.Value)
		}
		if typ == Tags {
			return a.errorf("cannot reassign the tags binding %q", t.Value)
		}
		return nil
	case *parser.DotExpression, *parser.IndexExpression:
		return a.expression(target)
	}
	return a.errorf("cannot assign to %s", target.String())
}

func (a *analyzer) isTags(e parser.Expression) bool {
	id, ok := e.(*parser.Identifier)
	return ok && a.bound[id.Value] == Tags
}

func (a *analyzer) expression(e parser.Expression) error {
	switch n := e.(type) {
	case *parser.StringLiteral, *parser.NumberLiteral, *parser.BooleanLiteral:
		return nil
	case *parser.Identifier:
		if _, ok := a.bound[n.Value]; !ok {
			return a.errorf("unbound variable %q", n.Value)
		}
		return nil
	case *parser.GroupedExpression:
		return a.expression(n.Inner)
	case *parser.PrefixExpression:
		return a.expression(n.Right)
	case *parser.InfixExpression:
		if !closureOperators[n.Operator] {
			return a.errorf("operator %s is not supported in closures", n.Operator)
		}
		if err := a.expression(n.Left); err != nil {
			return err
		}
		return a.expression(n.Right)
	case *parser.DotExpression:
		if !a.isTags(n.Left) {
			return a.errorf("property access %s on a value that is not the tags mapping", n.String())
		}
		return nil
	case *parser.IndexExpression:
		if !a.isTags(n.Left) {
			return a.errorf("index %s on a value that is not the tags mapping", n.String())
		}
		return a.expression(n.Index)
	case *parser.MethodCallExpression:
		methods := stringMethods
		if a.isTags(n.Receiver) {
			methods = tagsMethods
		} else if err := a.expression(n.Receiver); err != nil {
			return err
		}
		arity, ok := methods[n.Method.Value]
		if !ok {
			return a.errorf("unknown method %s", n.Method.Value)
		}
		if arity != len(n.Arguments) {
			return a.errorf("%s takes %d arguments, got %d", n.Method.Value, arity, len(n.Arguments))
		}
		for _, arg := range n.Arguments {
			if err := a.expression(arg); err != nil {
				return err
			}
		}
		return nil
	}
	if e == nil {
		return malerr.New(malerr.Invariant, "missing closure expression")
	}
	return a.errorf("unsupported expression %s", e.String())
}

// isCondition reports whether an expression has a boolean result by shape.
func isCondition(e parser.Expression) bool {
	switch n := e.(type) {
	case *parser.BooleanLiteral:
		return true
	case *parser.GroupedExpression:
		return isCondition(n.Inner)
	case *parser.PrefixExpression:
		return n.Operator == "!"
	case *parser.InfixExpression:
		return n.Operator != "+"
	case *parser.MethodCallExpression:
		return conditionMethods[n.Method.Value]
	}
	return false
}
