package closure

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/parser"
)

// frame holds the locals of one closure run. Slots follow Program.Decls.
type frame struct {
	locals []interface{}
	tags   map[string]string
}

type (
	exprFn func(f *frame) (interface{}, error)
	stmtFn func(f *frame) error
)

// Program is a compiled closure. It is immutable and safe for concurrent
// use; every Run gets its own frame.
type Program struct {
	// Decls are the typed local bindings, materialized from the run input
	// before the body executes.
	Decls    []Param
	Yield    Yield
	tagsSlot int
	body     []stmtFn
	result   exprFn
	source   string
}

// Result is the value a closure run yields.
type Result struct {
	Tags      map[string]string
	Condition bool
}

func (p *Program) String() string { return p.source }

// Compile turns an analyzed closure into a chain of Go functions. Variable
// references are resolved to frame slots here, not while running.
func Compile(d *Descriptor) (*Program, error) {
	c := &compiler{slots: make(map[string]int, len(d.Params))}
	p := &Program{Decls: d.Params, Yield: d.Yield, source: d.source}
	for i, param := range d.Params {
		c.slots[param.Name] = i
		if param.Type == Tags {
			p.tagsSlot = i
		}
	}
	c.tagsSlot = p.tagsSlot

	if len(d.Body) == 0 {
		return nil, malerr.New(malerr.Invariant, "closure %s has no body", d.source)
	}
	last, ok := d.Body[len(d.Body)-1].(*parser.ExpressionStatement)
	if !ok {
		return nil, malerr.New(malerr.Invariant, "closure %s does not end in an expression", d.source)
	}
	for _, stmt := range d.Body[:len(d.Body)-1] {
		fn, err := c.statement(stmt)
		if err != nil {
			return nil, err
		}
		p.body = append(p.body, fn)
	}
	result, err := c.expression(last.Expression)
	if err != nil {
		return nil, err
	}
	p.result = result
	return p, nil
}

// Run binds every declaration from input, executes the body and returns the
// final value. The tags mapping in input is copied, never modified.
func (p *Program) Run(input map[string]interface{}) (Result, error) {
	f := &frame{locals: make([]interface{}, len(p.Decls))}
	for i, d := range p.Decls {
		v, ok := input[d.Name]
		if !ok {
			return Result{}, p.errorf("missing binding %q", d.Name)
		}
		switch d.Type {
		case Tags:
			tags, ok := v.(map[string]string)
			if !ok {
				return Result{}, p.errorf("binding %q is %T, want %s", d.Name, v, d.Type)
			}
			f.tags = make(map[string]string, len(tags)+1)
			for k, val := range tags {
				f.tags[k] = val
			}
			f.locals[i] = f.tags
		case String:
			s, ok := v.(string)
			if !ok {
				return Result{}, p.errorf("binding %q is %T, want %s", d.Name, v, d.Type)
			}
			f.locals[i] = s
		}
	}

	for _, stmt := range p.body {
		if err := stmt(f); err != nil {
			return Result{}, err
		}
	}
	v, err := p.result(f)
	if err != nil {
		return Result{}, err
	}

	if p.Yield == YieldCondition {
		return Result{Condition: truthy(v), Tags: f.tags}, nil
	}
	tags, ok := v.(map[string]string)
	if !ok {
		return Result{}, p.errorf("closure yielded %T, want tags", v)
	}
	return Result{Tags: tags}, nil
}

// Call runs the closure with positional string arguments followed by the
// tags mapping, matching the declaration order.
func (p *Program) Call(args []string, tags map[string]string) (Result, error) {
	if len(args) != len(p.Decls)-1 {
		return Result{}, p.errorf("closure takes %d arguments before tags, got %d", len(p.Decls)-1, len(args))
	}
	input := make(map[string]interface{}, len(p.Decls))
	for i, a := range args {
		input[p.Decls[i].Name] = a
	}
	input[p.Decls[len(p.Decls)-1].Name] = tags
	return p.Run(input)
}

func (p *Program) errorf(format string, args ...interface{}) error {
	return &malerr.Error{
		Kind:    malerr.Evaluation,
		Op:      "closure " + p.source,
		Message: fmt.Sprintf(format, args...),
	}
}

type compiler struct {
	slots    map[string]int
	tagsSlot int
}

func (c *compiler) statement(stmt parser.Statement) (stmtFn, error) {
	switch s := stmt.(type) {
	case *parser.ExpressionStatement:
		fn, err := c.expression(s.Expression)
		if err != nil {
			return nil, err
		}
		return func(f *frame) error {
			_, err := fn(f)
			return err
		}, nil

	case *parser.AssignStatement:
		return c.assign(s)

	case *parser.IfStatement:
		cond, err := c.expression(s.Condition)
		if err != nil {
			return nil, err
		}
		then, err := c.block(s.Consequence)
		if err != nil {
			return nil, err
		}
		var otherwise []stmtFn
		if s.Alternative != nil {
			if otherwise, err = c.block(s.Alternative); err != nil {
				return nil, err
			}
		}
		return func(f *frame) error {
			v, err := cond(f)
			if err != nil {
				return err
			}
			branch := otherwise
			if truthy(v) {
				branch = then
			}
			for _, fn := range branch {
				if err := fn(f); err != nil {
					return err
				}
			}
			return nil
		}, nil
	}
	return nil, malerr.New(malerr.Invariant, "unrecognized closure statement %T", stmt)
}

func (c *compiler) block(b *parser.BlockStatement) ([]stmtFn, error) {
	fns := make([]stmtFn, 0, len(b.Statements))
	for _, stmt := range b.Statements {
		fn, err := c.statement(stmt)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func (c *compiler) assign(s *parser.AssignStatement) (stmtFn, error) {
	value, err := c.expression(s.Value)
	if err != nil {
		return nil, err
	}
	switch t := s.Target.(type) {
	case *parser.Identifier:
		slot, ok := c.slots[t.Value]
		if !ok {
			return nil, malerr.New(malerr.Resolution, "assignment to unbound variable %q", t.Value)
		}
		return func(f *frame) error {
			v, err := value(f)
			if err != nil {
				return err
			}
			f.locals[slot] = toString(v)
			return nil
		}, nil

	case *parser.DotExpression:
		key := t.Name.Value
		return func(f *frame) error {
			v, err := value(f)
			if err != nil {
				return err
			}
			f.tags[key] = toString(v)
			return nil
		}, nil

	case *parser.IndexExpression:
		index, err := c.expression(t.Index)
		if err != nil {
			return nil, err
		}
		return func(f *frame) error {
			k, err := index(f)
			if err != nil {
				return err
			}
			v, err := value(f)
			if err != nil {
				return err
			}
			f.tags[toString(k)] = toString(v)
			return nil
		}, nil
	}
	return nil, malerr.New(malerr.Resolution, "cannot assign to %s", s.Target.String())
}

func (c *compiler) expression(e parser.Expression) (exprFn, error) {
	switch n := e.(type) {
	case *parser.StringLiteral:
		v := n.Value
		return func(*frame) (interface{}, error) { return v, nil }, nil

	case *parser.NumberLiteral:
		v := n.Value
		return func(*frame) (interface{}, error) { return v, nil }, nil

	case *parser.BooleanLiteral:
		v := n.Value
		return func(*frame) (interface{}, error) { return v, nil }, nil

	case *parser.Identifier:
		slot, ok := c.slots[n.Value]
		if !ok {
			return nil, malerr.New(malerr.Resolution, "unbound variable %q", n.Value)
		}
		if slot == c.tagsSlot {
			return func(f *frame) (interface{}, error) { return f.tags, nil }, nil
		}
		return func(f *frame) (interface{}, error) { return f.locals[slot], nil }, nil

	case *parser.GroupedExpression:
		return c.expression(n.Inner)

	case *parser.PrefixExpression:
		return c.prefix(n)

	case *parser.InfixExpression:
		return c.infix(n)

	case *parser.DotExpression:
		key := n.Name.Value
		return func(f *frame) (interface{}, error) { return f.tags[key], nil }, nil

	case *parser.IndexExpression:
		index, err := c.expression(n.Index)
		if err != nil {
			return nil, err
		}
		return func(f *frame) (interface{}, error) {
			k, err := index(f)
			if err != nil {
				return nil, err
			}
			return f.tags[toString(k)], nil
		}, nil

	case *parser.MethodCallExpression:
		return c.method(n)
	}
	return nil, malerr.New(malerr.Invariant, "unrecognized closure expression %T", e)
}

func (c *compiler) prefix(n *parser.PrefixExpression) (exprFn, error) {
	right, err := c.expression(n.Right)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "!":
		return func(f *frame) (interface{}, error) {
			v, err := right(f)
			if err != nil {
				return nil, err
			}
			return !truthy(v), nil
		}, nil
	case "-":
		return func(f *frame) (interface{}, error) {
			v, err := right(f)
			if err != nil {
				return nil, err
			}
			num, ok := toNumber(v)
			if !ok {
				return nil, malerr.New(malerr.Evaluation, "cannot negate %q", toString(v))
			}
			return -num, nil
		}, nil
	}
	return nil, malerr.New(malerr.Resolution, "prefix operator %s is not supported in closures", n.Operator)
}

func (c *compiler) infix(n *parser.InfixExpression) (exprFn, error) {
	left, err := c.expression(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.expression(n.Right)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "&&":
		return func(f *frame) (interface{}, error) {
			l, err := left(f)
			if err != nil || !truthy(l) {
				return false, err
			}
			r, err := right(f)
			return truthy(r), err
		}, nil
	case "||":
		return func(f *frame) (interface{}, error) {
			l, err := left(f)
			if err != nil {
				return false, err
			}
			if truthy(l) {
				return true, nil
			}
			r, err := right(f)
			return truthy(r), err
		}, nil
	}

	var op func(l, r interface{}) interface{}
	switch n.Operator {
	case "+":
		op = func(l, r interface{}) interface{} {
			ln, lok := l.(float64)
			rn, rok := r.(float64)
			if lok && rok {
				return ln + rn
			}
			return toString(l) + toString(r)
		}
	case "==":
		op = func(l, r interface{}) interface{} { return compare(l, r) == 0 }
	case "!=":
		op = func(l, r interface{}) interface{} { return compare(l, r) != 0 }
	case "<":
		op = func(l, r interface{}) interface{} { return compare(l, r) < 0 }
	case ">":
		op = func(l, r interface{}) interface{} { return compare(l, r) > 0 }
	case "<=":
		op = func(l, r interface{}) interface{} { return compare(l, r) <= 0 }
	case ">=":
		op = func(l, r interface{}) interface{} { return compare(l, r) >= 0 }
	default:
		return nil, malerr.New(malerr.Resolution, "operator %s is not supported in closures", n.Operator)
	}
	return func(f *frame) (interface{}, error) {
		l, err := left(f)
		if err != nil {
			return nil, err
		}
		r, err := right(f)
		if err != nil {
			return nil, err
		}
		return op(l, r), nil
	}, nil
}

func (c *compiler) method(n *parser.MethodCallExpression) (exprFn, error) {
	args := make([]exprFn, len(n.Arguments))
	for i, a := range n.Arguments {
		fn, err := c.expression(a)
		if err != nil {
			return nil, err
		}
		args[i] = fn
	}
	eval := func(f *frame) ([]string, error) {
		out := make([]string, len(args))
		for i, fn := range args {
			v, err := fn(f)
			if err != nil {
				return nil, err
			}
			out[i] = toString(v)
		}
		return out, nil
	}

	name := n.Method.Value
	if id, ok := n.Receiver.(*parser.Identifier); ok {
		if slot, bound := c.slots[id.Value]; bound && slot == c.tagsSlot {
			return c.tagsMethod(name, eval)
		}
	}

	recv, err := c.expression(n.Receiver)
	if err != nil {
		return nil, err
	}
	var fn func(s string, a []string) interface{}
	switch name {
	case "startsWith":
		fn = func(s string, a []string) interface{} { return strings.HasPrefix(s, a[0]) }
	case "endsWith":
		fn = func(s string, a []string) interface{} { return strings.HasSuffix(s, a[0]) }
	case "contains":
		fn = func(s string, a []string) interface{} { return strings.Contains(s, a[0]) }
	case "equals":
		fn = func(s string, a []string) interface{} { return s == a[0] }
	case "toLowerCase":
		fn = func(s string, _ []string) interface{} { return strings.ToLower(s) }
	case "toUpperCase":
		fn = func(s string, _ []string) interface{} { return strings.ToUpper(s) }
	case "trim":
		fn = func(s string, _ []string) interface{} { return strings.TrimSpace(s) }
	case "replace":
		fn = func(s string, a []string) interface{} { return strings.ReplaceAll(s, a[0], a[1]) }
	default:
		return nil, malerr.New(malerr.Resolution, "unknown string method %s", name)
	}
	return func(f *frame) (interface{}, error) {
		r, err := recv(f)
		if err != nil {
			return nil, err
		}
		a, err := eval(f)
		if err != nil {
			return nil, err
		}
		return fn(toString(r), a), nil
	}, nil
}

func (c *compiler) tagsMethod(name string, eval func(*frame) ([]string, error)) (exprFn, error) {
	var fn func(tags map[string]string, a []string) interface{}
	switch name {
	case "put":
		fn = func(tags map[string]string, a []string) interface{} {
			prev := tags[a[0]]
			tags[a[0]] = a[1]
			return prev
		}
	case "remove":
		fn = func(tags map[string]string, a []string) interface{} {
			prev := tags[a[0]]
			delete(tags, a[0])
			return prev
		}
	case "get":
		fn = func(tags map[string]string, a []string) interface{} { return tags[a[0]] }
	case "containsKey":
		fn = func(tags map[string]string, a []string) interface{} {
			_, ok := tags[a[0]]
			return ok
		}
	default:
		return nil, malerr.New(malerr.Resolution, "unknown tags method %s", name)
	}
	return func(f *frame) (interface{}, error) {
		a, err := eval(f)
		if err != nil {
			return nil, err
		}
		return fn(f.tags, a), nil
	}, nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case map[string]string:
		return len(t) > 0
	}
	return false
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	}
	return 0, false
}

// compare orders two values. Two strings compare exactly, so tag values
// such as "1.10" and "1.1" stay distinct. Numbers compare numerically, and a
// string compared against a number is read as a number when it parses as one.
func compare(l, r interface{}) int {
	ls, lstr := l.(string)
	rs, rstr := r.(string)
	if lstr && rstr {
		return strings.Compare(ls, rs)
	}
	_, lnum := l.(float64)
	_, rnum := r.(float64)
	if lnum || rnum {
		if ln, ok := toNumber(l); ok {
			if rn, ok := toNumber(r); ok {
				switch {
				case ln < rn:
					return -1
				case ln > rn:
					return 1
				}
				return 0
			}
		}
	}
	return strings.Compare(toString(l), toString(r))
}
