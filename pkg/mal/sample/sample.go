// Package sample holds the sample family data model and the operations MAL
// expressions apply to it. Every operation returns a new family; inputs,
// including the shared Empty sentinel, are never modified.
package sample

import (
	"sort"
	"strconv"
	"strings"
)

// Sample is one data point of a labelled series.
type Sample struct {
	Name      string
	Labels    map[string]string
	Value     float64
	Timestamp int64 // unix milliseconds
}

// SampleFamily is the set of samples sharing one series name, plus the
// metadata that later stages attach to it.
type SampleFamily struct {
	Samples      []Sample
	Downsampling string
	Entity       *Entity
}

// Empty stands for "no data for this series this cycle". Operations accept
// it and return it unless documented otherwise.
var Empty = &SampleFamily{}

// Snapshot maps series names to the families collected for one cycle.
type Snapshot map[string]*SampleFamily

// New builds a family from samples. A family without samples is Empty.
func New(samples ...Sample) *SampleFamily {
	if len(samples) == 0 {
		return Empty
	}
	return &SampleFamily{Samples: samples}
}

// Single is a family holding one unlabelled sample.
func Single(name string, v float64) *SampleFamily {
	return New(Sample{Name: name, Labels: map[string]string{}, Value: v})
}

// IsEmpty reports whether the family carries no samples.
func (sf *SampleFamily) IsEmpty() bool {
	return sf == nil || len(sf.Samples) == 0
}

// derive returns a family carrying samples and the metadata of sf.
func (sf *SampleFamily) derive(samples []Sample) *SampleFamily {
	if len(samples) == 0 {
		return Empty
	}
	return &SampleFamily{Samples: samples, Downsampling: sf.Downsampling, Entity: sf.Entity}
}

// Values returns the sample values in order.
func (sf *SampleFamily) Values() []float64 {
	if sf.IsEmpty() {
		return nil
	}
	out := make([]float64, len(sf.Samples))
	for i, s := range sf.Samples {
		out[i] = s.Value
	}
	return out
}

func (sf *SampleFamily) String() string {
	if sf.IsEmpty() {
		return "<empty>"
	}
	parts := make([]string, len(sf.Samples))
	for i, s := range sf.Samples {
		parts[i] = s.String()
	}
	return strings.Join(parts, "\n")
}

func (s Sample) String() string {
	return s.Name + LabelKey(s.Labels) + " " + strconv.FormatFloat(s.Value, 'g', -1, 64)
}

// LabelKey renders labels in a canonical, sorted form such as
// {code="200",path="/"}. Equal label sets produce equal keys.
func LabelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(labels[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// pick returns the subset of labels named by keys. Missing keys are
// skipped.
func pick(labels map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := labels[k]; ok {
			out[k] = v
		}
	}
	return out
}
