// Package ops is the table of operations MAL programs can call. Each entry
// is keyed by name, arity and static parameter kinds, and is resolved once
// while compiling so execution makes direct calls only.
package ops

import (
	"sort"
	"strings"
	"sync"

	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/sample"
	"github.com/chosenoffset/mal/pkg/mal/unit"
	"github.com/chosenoffset/mal/pkg/mal/value"
)

// UnaryFunc is a unary operation with its static arguments already bound.
type UnaryFunc func(operand value.Value) (value.Value, error)

// BinaryFunc is a binary operation. Left is the operand pushed first.
type BinaryFunc func(left, right value.Value) (value.Value, error)

// Binder prepares a unary operation for one call site. It runs at compile
// time, so argument problems it finds are resolution errors.
type Binder func(args []unit.Parameter) (UnaryFunc, error)

// Overload is one registered implementation.
type Overload struct {
	Name   string
	Arity  int
	Params []unit.ParamKind
	Bind   Binder     // set when Arity is 1
	Call   BinaryFunc // set when Arity is 2
}

// Signature renders the overload as name(KIND, ...).
func (o *Overload) Signature() string {
	if o.Arity == 2 {
		return "left " + o.Name + " right"
	}
	kinds := make([]string, len(o.Params))
	for i, k := range o.Params {
		kinds[i] = k.String()
	}
	return o.Name + "(" + strings.Join(kinds, ", ") + ")"
}

func (o *Overload) accepts(arity int, kinds []unit.ParamKind) bool {
	if o.Arity != arity || len(o.Params) != len(kinds) {
		return false
	}
	for i, k := range kinds {
		if o.Params[i] != k {
			return false
		}
	}
	return true
}

// Registry maps operation names to their overloads. It is filled before
// first use and read-only afterwards, so lookups need no locking.
type Registry struct {
	overloads map[string][]*Overload
	pods      sample.PodResolver
}

type Option func(*Registry)

// WithPodResolver sets the resolver retagByK8sMeta consults.
func WithPodResolver(r sample.PodResolver) Option {
	return func(reg *Registry) {
		if r != nil {
			reg.pods = r
		}
	}
}

// NewRegistry returns a registry with no operations.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		overloads: make(map[string][]*Overload),
		pods:      sample.StaticPods{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterUnary adds a unary overload taking params as static arguments.
func (r *Registry) RegisterUnary(name string, params []unit.ParamKind, bind Binder) {
	r.overloads[name] = append(r.overloads[name], &Overload{Name: name, Arity: 1, Params: params, Bind: bind})
}

// RegisterBinary adds a binary overload.
func (r *Registry) RegisterBinary(name string, fn BinaryFunc) {
	r.overloads[name] = append(r.overloads[name], &Overload{Name: name, Arity: 2, Call: fn})
}

// Names returns every registered operation name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.overloads))
	for name := range r.overloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Overloads returns the implementations registered under name.
func (r *Registry) Overloads(name string) []*Overload {
	return r.overloads[name]
}

// Resolve finds the overload of name matching arity and the kinds of the
// static arguments at a call site.
func (r *Registry) Resolve(name string, arity int, kinds []unit.ParamKind) (*Overload, error) {
	candidates, ok := r.overloads[name]
	if !ok {
		msg := "unknown operation " + name
		if hint := malerr.Suggest(name, r.Names()); hint != "" {
			msg += ", did you mean " + hint + "?"
		}
		return nil, &malerr.Error{Kind: malerr.Resolution, Op: name, Message: msg}
	}
	for _, o := range candidates {
		if o.accepts(arity, kinds) {
			return o, nil
		}
	}

	got := make([]string, len(kinds))
	for i, k := range kinds {
		got[i] = k.String()
	}
	sigs := make([]string, len(candidates))
	for i, o := range candidates {
		sigs[i] = o.Signature()
	}
	return nil, malerr.New(malerr.Resolution, "no overload of %s accepts (%s); candidates: %s",
		name, strings.Join(got, ", "), strings.Join(sigs, ", "))
}

var standard = sync.OnceValue(func() *Registry { return Default() })

// Standard returns the shared registry holding the default operations.
func Standard() *Registry {
	return standard()
}
