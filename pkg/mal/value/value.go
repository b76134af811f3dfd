// Package value defines the entries of the executor's operand stack.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chosenoffset/mal/pkg/mal/sample"
)

type Kind int

const (
	SampleFamilyKind Kind = iota + 1
	ScalarKind
	TagsKind
)

func (k Kind) String() string {
	switch k {
	case SampleFamilyKind:
		return "SAMPLE_FAMILY"
	case ScalarKind:
		return "SCALAR"
	case TagsKind:
		return "TAGS"
	default:
		return "INVALID"
	}
}

// Value wraps exactly one of a sample family, a scalar or a tag mapping.
// The zero Value is invalid.
type Value struct {
	kind   Kind
	family *sample.SampleFamily
	number float64
	tags   map[string]string
}

func Family(sf *sample.SampleFamily) Value {
	if sf == nil {
		sf = sample.Empty
	}
	return Value{kind: SampleFamilyKind, family: sf}
}

func Scalar(n float64) Value { return Value{kind: ScalarKind, number: n} }

func Tags(t map[string]string) Value { return Value{kind: TagsKind, tags: t} }

// Empty is the value pushed for a series absent from the snapshot.
func Empty() Value { return Family(sample.Empty) }

func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is a sample family without samples.
func (v Value) IsEmpty() bool {
	return v.kind == SampleFamilyKind && v.family.IsEmpty()
}

// Family returns the wrapped sample family and false for other kinds.
func (v Value) Family() (*sample.SampleFamily, bool) {
	return v.family, v.kind == SampleFamilyKind
}

func (v Value) Number() (float64, bool) {
	return v.number, v.kind == ScalarKind
}

func (v Value) Tags() (map[string]string, bool) {
	return v.tags, v.kind == TagsKind
}

func (v Value) String() string {
	switch v.kind {
	case SampleFamilyKind:
		return v.family.String()
	case ScalarKind:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	case TagsKind:
		keys := make([]string, 0, len(v.tags))
		for k := range v.tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %q", k, v.tags[k])
		}
		return "{" + strings.Join(pairs, ", ") + "}"
	default:
		return "<invalid>"
	}
}
