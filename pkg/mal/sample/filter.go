package sample

import (
	"regexp"
)

// Compare is a value predicate against a fixed operand.
type Compare int

const (
	Equal Compare = iota + 1
	NotEqual
	Greater
	GreaterEqual
	Less
	LessEqual
)

func (c Compare) test(v, n float64) bool {
	switch c {
	case Equal:
		return v == n
	case NotEqual:
		return v != n
	case Greater:
		return v > n
	case GreaterEqual:
		return v >= n
	case Less:
		return v < n
	case LessEqual:
		return v <= n
	}
	return false
}

// FilterValue keeps samples whose value satisfies cmp against n.
func FilterValue(sf *SampleFamily, cmp Compare, n float64) *SampleFamily {
	return keep(sf, func(s Sample) bool { return cmp.test(s.Value, n) })
}

// TagEqual keeps samples whose label key equals value. With negate set it
// keeps the others. A missing label reads as "".
func TagEqual(sf *SampleFamily, key, value string, negate bool) *SampleFamily {
	return keep(sf, func(s Sample) bool { return (s.Labels[key] == value) != negate })
}

// TagMatch keeps samples whose label key fully matches re. With negate set
// it keeps the others.
func TagMatch(sf *SampleFamily, key string, re *regexp.Regexp, negate bool) *SampleFamily {
	return keep(sf, func(s Sample) bool { return re.MatchString(s.Labels[key]) != negate })
}

func keep(sf *SampleFamily, pred func(Sample) bool) *SampleFamily {
	if sf.IsEmpty() {
		return Empty
	}
	out := make([]Sample, 0, len(sf.Samples))
	for _, s := range sf.Samples {
		if pred(s) {
			out = append(out, s)
		}
	}
	return sf.derive(out)
}

// Predicate decides, from a copy of its labels, whether a sample stays.
type Predicate func(labels map[string]string) (bool, error)

// Filter keeps samples accepted by pred. The first predicate error aborts
// the operation.
func Filter(sf *SampleFamily, pred Predicate) (*SampleFamily, error) {
	if sf.IsEmpty() {
		return Empty, nil
	}
	out := make([]Sample, 0, len(sf.Samples))
	for _, s := range sf.Samples {
		ok, err := pred(copyLabels(s.Labels))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return sf.derive(out), nil
}

// Relabeler returns the new label set for a sample.
type Relabeler func(labels map[string]string) (map[string]string, error)

// Relabel replaces the labels of every sample with the output of fn. Fn
// receives a copy and may modify it.
func Relabel(sf *SampleFamily, fn Relabeler) (*SampleFamily, error) {
	if sf.IsEmpty() {
		return Empty, nil
	}
	out := make([]Sample, len(sf.Samples))
	for i, s := range sf.Samples {
		labels, err := fn(copyLabels(s.Labels))
		if err != nil {
			return nil, err
		}
		out[i] = Sample{Name: s.Name, Labels: labels, Value: s.Value, Timestamp: s.Timestamp}
	}
	return sf.derive(out), nil
}

// ForEach runs fn once per element for every sample, threading the labels
// through each call in element order.
func ForEach(sf *SampleFamily, elements []string, fn func(element string, labels map[string]string) (map[string]string, error)) (*SampleFamily, error) {
	return Relabel(sf, func(labels map[string]string) (map[string]string, error) {
		for _, e := range elements {
			next, err := fn(e, labels)
			if err != nil {
				return nil, err
			}
			labels = next
		}
		return labels, nil
	})
}
