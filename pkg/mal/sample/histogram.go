package sample

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// DefaultBucketLabel is the label holding a bucket's upper bound.
const DefaultBucketLabel = "le"

// PercentileLabel carries the percentile rank on histogram_percentile
// output.
const PercentileLabel = "p"

type bucket struct {
	bound  float64
	sample Sample
}

type series struct {
	labels  map[string]string
	buckets []bucket
}

// buckets groups histogram samples into series keyed by every label but
// the bucket label. Buckets within a series are sorted by bound.
func buckets(sf *SampleFamily, label string) ([]*series, error) {
	index := make(map[string]*series)
	var order []string
	for _, s := range sf.Samples {
		raw, ok := s.Labels[label]
		if !ok {
			return nil, fmt.Errorf("sample %s has no %q label", s, label)
		}
		bound, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("sample %s: bucket bound %q is not a number", s, raw)
		}
		labels := copyLabels(s.Labels)
		delete(labels, label)
		key := LabelKey(labels)
		sr, ok := index[key]
		if !ok {
			sr = &series{labels: labels}
			index[key] = sr
			order = append(order, key)
		}
		sr.buckets = append(sr.buckets, bucket{bound: bound, sample: s})
	}
	sort.Strings(order)

	out := make([]*series, len(order))
	for i, key := range order {
		sr := index[key]
		sort.Slice(sr.buckets, func(a, b int) bool { return sr.buckets[a].bound < sr.buckets[b].bound })
		out[i] = sr
	}
	return out, nil
}

// Histogram converts cumulative buckets into per-bucket counts. Each bucket
// keeps its label but holds only the samples that fell inside it.
func Histogram(sf *SampleFamily, label string) (*SampleFamily, error) {
	if sf.IsEmpty() {
		return Empty, nil
	}
	all, err := buckets(sf, label)
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, sr := range all {
		prev := 0.0
		for _, b := range sr.buckets {
			s := b.sample
			v := s.Value - prev
			prev = s.Value
			out = append(out, Sample{Name: s.Name, Labels: copyLabels(s.Labels), Value: v, Timestamp: s.Timestamp})
		}
	}
	return sf.derive(out), nil
}

// HistogramPercentile estimates each requested percentile from per-bucket
// counts, as produced by Histogram. The estimate is the upper bound of the
// bucket where the cumulative count reaches the rank; an infinite bound
// falls back to the largest finite one.
func HistogramPercentile(sf *SampleFamily, label string, percentiles []int) (*SampleFamily, error) {
	if sf.IsEmpty() {
		return Empty, nil
	}
	for _, p := range percentiles {
		if p <= 0 || p > 100 {
			return nil, fmt.Errorf("percentile %d out of range (0, 100]", p)
		}
	}
	all, err := buckets(sf, label)
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, sr := range all {
		total := 0.0
		var ts int64
		for _, b := range sr.buckets {
			total += b.sample.Value
			if b.sample.Timestamp > ts {
				ts = b.sample.Timestamp
			}
		}
		if total == 0 {
			continue
		}
		name := sr.buckets[0].sample.Name
		for _, p := range percentiles {
			rank := total * float64(p) / 100
			out = append(out, Sample{
				Name:      name,
				Labels:    withLabel(sr.labels, PercentileLabel, strconv.Itoa(p)),
				Value:     estimate(sr.buckets, rank),
				Timestamp: ts,
			})
		}
	}
	return sf.derive(out), nil
}

func estimate(bs []bucket, rank float64) float64 {
	cumulative := 0.0
	finite := 0.0
	for _, b := range bs {
		if !math.IsInf(b.bound, 1) {
			finite = b.bound
		}
		cumulative += b.sample.Value
		if cumulative >= rank {
			if math.IsInf(b.bound, 1) {
				return finite
			}
			return b.bound
		}
	}
	return finite
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := copyLabels(labels)
	out[k] = v
	return out
}
