package sample

import (
	"fmt"
	"sort"
)

// Op is an arithmetic operator.
type Op byte

const (
	Add Op = '+'
	Sub Op = '-'
	Mul Op = '*'
	Div Op = '/'
)

// ParseOp maps an operator symbol to an Op.
func ParseOp(symbol string) (Op, error) {
	if len(symbol) == 1 {
		switch op := Op(symbol[0]); op {
		case Add, Sub, Mul, Div:
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown arithmetic operator %q", symbol)
}

func (o Op) String() string { return string(o) }

// Apply computes l op r. It reports false for a division by zero.
func (o Op) Apply(l, r float64) (float64, bool) {
	switch o {
	case Add:
		return l + r, true
	case Sub:
		return l - r, true
	case Mul:
		return l * r, true
	case Div:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	}
	return 0, false
}

// Binary combines two families sample by sample. Samples are paired by
// identical label sets; a sample without a partner is dropped, as is a
// pair whose division has a zero divisor. Two samples with the same label
// set on one side make the pairing ambiguous and are reported as an error.
//
// An empty side is the identity for addition. For subtraction an empty
// left side yields the negated right side. Multiplication and division
// with an empty side yield Empty.
func Binary(op Op, l, r *SampleFamily) (*SampleFamily, error) {
	switch {
	case l.IsEmpty() && r.IsEmpty():
		return Empty, nil
	case r.IsEmpty():
		if op == Add || op == Sub {
			return l, nil
		}
		return Empty, nil
	case l.IsEmpty():
		switch op {
		case Add:
			return r, nil
		case Sub:
			return ScalarLeft(Sub, 0, r), nil
		}
		return Empty, nil
	}

	if key, dup := duplicateKey(l); dup {
		return nil, fmt.Errorf("left operand of %s has more than one sample with labels %s", op, key)
	}
	right := make(map[string]Sample, len(r.Samples))
	for _, s := range r.Samples {
		key := LabelKey(s.Labels)
		if _, dup := right[key]; dup {
			return nil, fmt.Errorf("right operand of %s has more than one sample with labels %s", op, key)
		}
		right[key] = s
	}

	out := make([]Sample, 0, len(l.Samples))
	for _, ls := range l.Samples {
		rs, ok := right[LabelKey(ls.Labels)]
		if !ok {
			continue
		}
		v, ok := op.Apply(ls.Value, rs.Value)
		if !ok {
			continue
		}
		ts := ls.Timestamp
		if rs.Timestamp > ts {
			ts = rs.Timestamp
		}
		out = append(out, Sample{Name: ls.Name, Labels: copyLabels(ls.Labels), Value: v, Timestamp: ts})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return LabelKey(out[i].Labels) < LabelKey(out[j].Labels)
	})
	return l.derive(out), nil
}

func duplicateKey(sf *SampleFamily) (string, bool) {
	seen := make(map[string]struct{}, len(sf.Samples))
	for _, s := range sf.Samples {
		key := LabelKey(s.Labels)
		if _, ok := seen[key]; ok {
			return key, true
		}
		seen[key] = struct{}{}
	}
	return "", false
}

// ScalarRight computes sample op n for every sample.
func ScalarRight(op Op, sf *SampleFamily, n float64) *SampleFamily {
	return mapValues(sf, func(v float64) (float64, bool) { return op.Apply(v, n) })
}

// ScalarLeft computes n op sample for every sample.
func ScalarLeft(op Op, n float64, sf *SampleFamily) *SampleFamily {
	return mapValues(sf, func(v float64) (float64, bool) { return op.Apply(n, v) })
}

func mapValues(sf *SampleFamily, fn func(float64) (float64, bool)) *SampleFamily {
	if sf.IsEmpty() {
		return Empty
	}
	out := make([]Sample, 0, len(sf.Samples))
	for _, s := range sf.Samples {
		v, ok := fn(s.Value)
		if !ok {
			continue
		}
		out = append(out, Sample{Name: s.Name, Labels: copyLabels(s.Labels), Value: v, Timestamp: s.Timestamp})
	}
	return sf.derive(out)
}
