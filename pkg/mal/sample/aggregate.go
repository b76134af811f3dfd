package sample

import (
	"math"
	"sort"
)

// Aggregation folds the values of one group into a single value.
type Aggregation int

const (
	Sum Aggregation = iota + 1
	Avg
	Max
	Min
	Count
)

var aggregationNames = map[Aggregation]string{
	Sum:   "sum",
	Avg:   "avg",
	Max:   "max",
	Min:   "min",
	Count: "count",
}

func (a Aggregation) String() string { return aggregationNames[a] }

func (a Aggregation) fold(values []float64) float64 {
	switch a {
	case Sum, Avg:
		total := 0.0
		for _, v := range values {
			total += v
		}
		if a == Avg {
			return total / float64(len(values))
		}
		return total
	case Max:
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m
	case Min:
		m := math.Inf(1)
		for _, v := range values {
			m = math.Min(m, v)
		}
		return m
	case Count:
		return float64(len(values))
	}
	return math.NaN()
}

type group struct {
	labels    map[string]string
	values    []float64
	timestamp int64
	name      string
}

// Aggregate groups samples by the labels named in by and folds each group.
// The resulting samples carry only the grouping labels. With no by labels
// the whole family collapses into one sample.
func Aggregate(agg Aggregation, sf *SampleFamily, by []string) *SampleFamily {
	if sf.IsEmpty() {
		return Empty
	}

	groups := make(map[string]*group)
	var order []string
	for _, s := range sf.Samples {
		labels := pick(s.Labels, by)
		key := LabelKey(labels)
		g, ok := groups[key]
		if !ok {
			g = &group{labels: labels, name: s.Name}
			groups[key] = g
			order = append(order, key)
		}
		g.values = append(g.values, s.Value)
		if s.Timestamp > g.timestamp {
			g.timestamp = s.Timestamp
		}
	}
	sort.Strings(order)

	out := make([]Sample, 0, len(order))
	for _, key := range order {
		g := groups[key]
		out = append(out, Sample{Name: g.name, Labels: g.labels, Value: agg.fold(g.values), Timestamp: g.timestamp})
	}
	return sf.derive(out)
}
