// Package vm runs compiled MAL programs as a stack machine over one sample
// family snapshot.
package vm

import (
	"github.com/chosenoffset/mal/pkg/mal/closure"
	"github.com/chosenoffset/mal/pkg/mal/compiler"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/sample"
	"github.com/chosenoffset/mal/pkg/mal/unit"
	"github.com/chosenoffset/mal/pkg/mal/value"
)

// Execute runs p against snapshot. Every call gets its own operand stack,
// so a program may be executed concurrently. The snapshot is only read.
//
// A series missing from the snapshot pushes the empty family. An operation
// failing returns an evaluation error naming the metric and the operation;
// a stack that underflows or does not end with exactly one value returns a
// stack invariant error.
func Execute(p *compiler.Program, snapshot sample.Snapshot) (value.Value, error) {
	stack := make([]value.Value, 0, p.MaxDepth)

	for _, ins := range p.Instructions {
		u := ins.Unit
		switch u.Kind {
		case unit.SampleFamily:
			sf, ok := snapshot[u.Name]
			if !ok || sf == nil {
				stack = append(stack, value.Empty())
				continue
			}
			stack = append(stack, value.Family(sf))

		case unit.Scalar:
			stack = append(stack, value.Scalar(u.Number))

		case unit.UnaryFunction:
			if len(stack) < 1 || ins.Unary == nil {
				return value.Value{}, stackError(p, u, len(stack))
			}
			top := len(stack) - 1
			out, err := ins.Unary(stack[top])
			if err != nil {
				return value.Value{}, evalError(p, u, err)
			}
			stack[top] = out

		case unit.BinaryFunction:
			if len(stack) < 2 || ins.Binary == nil {
				return value.Value{}, stackError(p, u, len(stack))
			}
			right := stack[len(stack)-1]
			left := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			out, err := ins.Binary(left, right)
			if err != nil {
				return value.Value{}, evalError(p, u, err)
			}
			stack = append(stack, out)

		default:
			return value.Value{}, malerr.WithMetric(malerr.New(malerr.Invariant, "unit %s has no kind", u), p.Metric)
		}
	}

	if len(stack) != 1 {
		return value.Value{}, malerr.WithMetric(
			malerr.New(malerr.Stack, "program ended with %d values on the stack, want 1", len(stack)), p.Metric)
	}
	return stack[0], nil
}

// ExecuteClosure runs a single compiled closure against tags and wraps its
// outcome as a value: the resulting tags, or a scalar 1 or 0 for a
// condition.
func ExecuteClosure(p *closure.Program, tags map[string]string) (value.Value, error) {
	res, err := p.Call(nil, tags)
	if err != nil {
		return value.Value{}, err
	}
	if p.Yield == closure.YieldCondition {
		if res.Condition {
			return value.Scalar(1), nil
		}
		return value.Scalar(0), nil
	}
	return value.Tags(res.Tags), nil
}

func stackError(p *compiler.Program, u unit.Unit, depth int) error {
	err := malerr.New(malerr.Stack, "%s needs more operands than the %d on the stack", u, depth)
	return malerr.WithMetric(malerr.WithOp(err, u.Name), p.Metric)
}

func evalError(p *compiler.Program, u unit.Unit, err error) error {
	if malerr.KindOf(err) == 0 {
		err = malerr.Wrap(malerr.Evaluation, err, "operation failed")
	}
	return malerr.WithMetric(malerr.WithOp(err, u.Name), p.Metric)
}
