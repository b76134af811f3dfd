package unit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chosenoffset/mal/pkg/mal/closure"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/parser"
)

// ParamKind is the variant tag of a Parameter.
type ParamKind int

const (
	LayerParam ParamKind = iota + 1
	NumberParam
	ClosureParam
	StringListParam
	K8sRetagTypeParam
	PercentilesParam
	StringParam
	DownsamplingTypeParam
)

func (k ParamKind) String() string {
	switch k {
	case LayerParam:
		return "LAYER"
	case NumberParam:
		return "NUMBER"
	case ClosureParam:
		return "CLOSURE"
	case StringListParam:
		return "STRING_LIST"
	case K8sRetagTypeParam:
		return "K8S_RETAG_TYPE"
	case PercentilesParam:
		return "PERCENTILES"
	case StringParam:
		return "STRING"
	case DownsamplingTypeParam:
		return "DOWNSAMPLING_TYPE"
	default:
		return "UNKNOWN"
	}
}

// DownsamplingType selects how a derived metric is rolled up over time.
type DownsamplingType int

const (
	DownsamplingAvg DownsamplingType = iota
	DownsamplingSum
	DownsamplingLatest
	DownsamplingSumPerMin
	DownsamplingMax
	DownsamplingMin
)

var downsamplingNames = []string{"AVG", "SUM", "LATEST", "SUM_PER_MIN", "MAX", "MIN"}

func (d DownsamplingType) String() string {
	if int(d) >= 0 && int(d) < len(downsamplingNames) {
		return downsamplingNames[d]
	}
	return "AVG"
}

func lookupDownsampling(name string) (DownsamplingType, bool) {
	for i, n := range downsamplingNames {
		if n == name {
			return DownsamplingType(i), true
		}
	}
	return 0, false
}

// RetagType selects which Kubernetes metadata retagByK8sMeta consults.
type RetagType int

const (
	Pod2Service RetagType = iota + 1
)

func (r RetagType) String() string {
	if r == Pod2Service {
		return "Pod2Service"
	}
	return "UNKNOWN"
}

func lookupRetag(name string) (RetagType, bool) {
	if name == "Pod2Service" {
		return Pod2Service, true
	}
	return 0, false
}

const (
	layerNamespace        = "Layer"
	retagNamespace        = "K8sRetagType"
	downsamplingNamespace = "DownsamplingType"
)

// Parameter is a static argument of a function unit. Exactly one payload is
// populated, selected by Kind; the accessor for any other variant panics.
type Parameter struct {
	kind         ParamKind
	layer        Layer
	number       float64
	closure      *closure.Descriptor
	strings      []string
	retag        RetagType
	percentiles  []int
	str          string
	downsampling DownsamplingType
}

func NewLayer(l Layer) Parameter          { return Parameter{kind: LayerParam, layer: l} }
func NewNumber(n float64) Parameter       { return Parameter{kind: NumberParam, number: n} }
func NewString(s string) Parameter        { return Parameter{kind: StringParam, str: s} }
func NewRetagType(r RetagType) Parameter  { return Parameter{kind: K8sRetagTypeParam, retag: r} }
func NewPercentiles(p []int) Parameter    { return Parameter{kind: PercentilesParam, percentiles: p} }
func NewStringList(s []string) Parameter  { return Parameter{kind: StringListParam, strings: s} }
func NewClosure(d *closure.Descriptor) Parameter {
	return Parameter{kind: ClosureParam, closure: d}
}
func NewDownsampling(d DownsamplingType) Parameter {
	return Parameter{kind: DownsamplingTypeParam, downsampling: d}
}

func (p Parameter) Kind() ParamKind { return p.kind }

func (p Parameter) must(k ParamKind) {
	if p.kind != k {
		panic(fmt.Sprintf("unit: parameter is %s, not %s", p.kind, k))
	}
}

func (p Parameter) Layer() Layer                   { p.must(LayerParam); return p.layer }
func (p Parameter) Number() float64                { p.must(NumberParam); return p.number }
func (p Parameter) Closure() *closure.Descriptor   { p.must(ClosureParam); return p.closure }
func (p Parameter) StringList() []string           { p.must(StringListParam); return p.strings }
func (p Parameter) RetagType() RetagType           { p.must(K8sRetagTypeParam); return p.retag }
func (p Parameter) Percentiles() []int             { p.must(PercentilesParam); return p.percentiles }
func (p Parameter) Str() string                    { p.must(StringParam); return p.str }
func (p Parameter) Downsampling() DownsamplingType { p.must(DownsamplingTypeParam); return p.downsampling }

func (p Parameter) String() string {
	switch p.kind {
	case LayerParam:
		return layerNamespace + "." + p.layer.String()
	case NumberParam:
		return strconv.FormatFloat(p.number, 'g', -1, 64)
	case ClosureParam:
		return p.closure.String()
	case StringListParam:
		quoted := make([]string, len(p.strings))
		for i, s := range p.strings {
			quoted[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	case K8sRetagTypeParam:
		return retagNamespace + "." + p.retag.String()
	case PercentilesParam:
		nums := make([]string, len(p.percentiles))
		for i, n := range p.percentiles {
			nums[i] = strconv.Itoa(n)
		}
		return "[" + strings.Join(nums, ", ") + "]"
	case StringParam:
		return strconv.Quote(p.str)
	case DownsamplingTypeParam:
		return downsamplingNamespace + "." + p.downsampling.String()
	default:
		return "<invalid>"
	}
}

// ResolveParameter turns one argument node of a method call into a tagged
// Parameter. An unknown layer is a resolution error; a node shape that no
// variant accepts is an invariant violation.
func ResolveParameter(node parser.Expression) (Parameter, error) {
	switch n := node.(type) {
	case *parser.NumberLiteral:
		return NewNumber(n.Value), nil

	case *parser.PrefixExpression:
		if num, ok := n.Right.(*parser.NumberLiteral); ok && n.Operator == "-" {
			return NewNumber(-num.Value), nil
		}

	case *parser.StringLiteral:
		return NewString(n.Value), nil

	case *parser.ListLiteral:
		return resolveList(n)

	case *parser.ClosureLiteral:
		desc, err := closure.Analyze(n)
		if err != nil {
			return Parameter{}, err
		}
		return NewClosure(desc), nil

	case *parser.DotExpression:
		if ns, ok := n.Left.(*parser.Identifier); ok {
			return resolveQualified(ns.Value + "." + n.Name.Value)
		}

	case *parser.Identifier:
		if d, ok := lookupDownsampling(n.Value); ok {
			return NewDownsampling(d), nil
		}
		if r, ok := lookupRetag(n.Value); ok {
			return NewRetagType(r), nil
		}
	}

	return Parameter{}, malerr.New(malerr.Invariant, "unrecognized parameter syntax %s", describe(node))
}

// resolveQualified handles Namespace.NAME references. The namespace is
// stripped up to the first separator and the remainder looked up in the
// namespace's closed registry.
func resolveQualified(text string) (Parameter, error) {
	ns, name, _ := strings.Cut(text, ".")
	switch ns {
	case layerNamespace:
		l, ok := LookupLayer(name)
		if !ok {
			return Parameter{}, &malerr.Error{
				Kind:    malerr.Resolution,
				Op:      text,
				Message: fmt.Sprintf("unknown layer %q", name),
			}
		}
		return NewLayer(l), nil
	case retagNamespace:
		r, ok := lookupRetag(name)
		if !ok {
			return Parameter{}, malerr.New(malerr.Resolution, "unknown retag type %q", name)
		}
		return NewRetagType(r), nil
	case downsamplingNamespace:
		d, ok := lookupDownsampling(name)
		if !ok {
			return Parameter{}, malerr.New(malerr.Resolution, "unknown downsampling type %q", name)
		}
		return NewDownsampling(d), nil
	}
	return Parameter{}, malerr.New(malerr.Invariant, "unrecognized parameter syntax %s", text)
}

// resolveList decides between STRING_LIST and PERCENTILES by element type.
// An empty list is a string list.
func resolveList(list *parser.ListLiteral) (Parameter, error) {
	if len(list.Elements) == 0 {
		return NewStringList([]string{}), nil
	}
	switch list.Elements[0].(type) {
	case *parser.StringLiteral:
		out := make([]string, len(list.Elements))
		for i, e := range list.Elements {
			s, ok := e.(*parser.StringLiteral)
			if !ok {
				return Parameter{}, malerr.New(malerr.Invariant, "mixed list element %s", describe(e))
			}
			out[i] = s.Value
		}
		return NewStringList(out), nil
	case *parser.NumberLiteral:
		out := make([]int, len(list.Elements))
		for i, e := range list.Elements {
			n, ok := e.(*parser.NumberLiteral)
			if !ok || !n.Integer {
				return Parameter{}, malerr.New(malerr.Invariant, "percentile list element %s is not an integer", describe(e))
			}
			out[i] = int(n.Value)
		}
		return NewPercentiles(out), nil
	}
	return Parameter{}, malerr.New(malerr.Invariant, "unrecognized list element %s", describe(list.Elements[0]))
}

func describe(node parser.Node) string {
	if node == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T %q", node, node.String())
}
