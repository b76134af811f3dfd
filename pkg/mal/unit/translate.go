package unit

import (
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/parser"
)

var binaryOperators = map[string]bool{
	"+": true,
	"-": true,
	"*": true,
	"/": true,
}

// Translate walks an expression tree and returns its units in postfix
// order: operands first, then the operator or method consuming them.
// Method arguments are resolved here, once.
func Translate(node parser.Expression) (Sequence, error) {
	var t translator
	if err := t.translate(node); err != nil {
		return nil, err
	}
	return t.units, nil
}

type translator struct {
	units Sequence
}

func (t *translator) emit(u Unit) {
	t.units = append(t.units, u)
}

func (t *translator) translate(node parser.Expression) error {
	switch n := node.(type) {
	case *parser.Identifier:
		t.emit(sampleFamilyUnit(n.Value))
		return nil

	case *parser.NumberLiteral:
		t.emit(scalarUnit(n.Token.Literal, n.Value))
		return nil

	case *parser.PrefixExpression:
		// A negated literal is still a numeric leaf.
		if num, ok := n.Right.(*parser.NumberLiteral); ok && n.Operator == "-" {
			t.emit(scalarUnit("-"+num.Token.Literal, -num.Value))
			return nil
		}

	case *parser.GroupedExpression:
		if err := t.translate(n.Inner); err != nil {
			return err
		}
		t.emit(Unit{Kind: UnaryFunction, Name: GroupName})
		return nil

	case *parser.InfixExpression:
		if !binaryOperators[n.Operator] {
			break
		}
		if err := t.translate(n.Left); err != nil {
			return err
		}
		if err := t.translate(n.Right); err != nil {
			return err
		}
		t.emit(Unit{Kind: BinaryFunction, Name: n.Operator})
		return nil

	case *parser.MethodCallExpression:
		if err := t.translate(n.Receiver); err != nil {
			return err
		}
		call, err := translateCall(n)
		if err != nil {
			return err
		}
		t.emit(call)
		return nil
	}

	return malerr.New(malerr.Invariant, "malformed expression: %s", describe(node))
}

// translateCall produces the single unary unit for a method call.
func translateCall(n *parser.MethodCallExpression) (Unit, error) {
	args := make([]Parameter, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		p, err := ResolveParameter(a)
		if err != nil {
			return Unit{}, malerr.WithOp(err, n.Method.Value)
		}
		args = append(args, p)
	}
	return Unit{Kind: UnaryFunction, Name: n.Method.Value, Args: args}, nil
}
