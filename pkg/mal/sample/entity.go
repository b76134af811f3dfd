package sample

import (
	"fmt"
	"strings"
)

// Scope is the kind of entity a derived metric is attributed to.
type Scope int

const (
	ServiceScope Scope = iota + 1
	InstanceScope
	EndpointScope
)

func (s Scope) String() string {
	switch s {
	case ServiceScope:
		return "service"
	case InstanceScope:
		return "instance"
	case EndpointScope:
		return "endpoint"
	}
	return "unknown"
}

// Entity tells which labels name the service, instance or endpoint each
// sample belongs to.
type Entity struct {
	Scope        Scope
	Layer        string
	ServiceKeys  []string
	InstanceKeys []string
	EndpointKeys []string
}

// EntityID is the resolved identity of one sample.
type EntityID struct {
	Scope    Scope
	Layer    string
	Service  string
	Instance string
	Endpoint string
}

func (id EntityID) String() string {
	parts := []string{id.Layer, id.Service}
	if id.Instance != "" {
		parts = append(parts, id.Instance)
	}
	if id.Endpoint != "" {
		parts = append(parts, id.Endpoint)
	}
	return id.Scope.String() + ":" + strings.Join(parts, "/")
}

// entityDelimiter joins the values of multi-label names.
const entityDelimiter = "|"

// WithEntity attributes the family to e. Every sample must carry every
// label e names.
func WithEntity(sf *SampleFamily, e Entity) (*SampleFamily, error) {
	if sf.IsEmpty() {
		return Empty, nil
	}
	for _, s := range sf.Samples {
		for _, keys := range [][]string{e.ServiceKeys, e.InstanceKeys, e.EndpointKeys} {
			for _, k := range keys {
				if _, ok := s.Labels[k]; !ok {
					return nil, fmt.Errorf("sample %s has no %q label for %s entity", s, k, e.Scope)
				}
			}
		}
	}
	return &SampleFamily{Samples: sf.Samples, Downsampling: sf.Downsampling, Entity: &e}, nil
}

// EntityOf resolves the entity of s. It reports false when the family has
// no entity attached.
func (sf *SampleFamily) EntityOf(s Sample) (EntityID, bool) {
	if sf.Entity == nil {
		return EntityID{}, false
	}
	e := sf.Entity
	join := func(keys []string) string {
		vals := make([]string, len(keys))
		for i, k := range keys {
			vals[i] = s.Labels[k]
		}
		return strings.Join(vals, entityDelimiter)
	}
	return EntityID{
		Scope:    e.Scope,
		Layer:    e.Layer,
		Service:  join(e.ServiceKeys),
		Instance: join(e.InstanceKeys),
		Endpoint: join(e.EndpointKeys),
	}, true
}

// WithDownsampling records how the family is rolled up over time.
func WithDownsampling(sf *SampleFamily, kind string) *SampleFamily {
	if sf.IsEmpty() {
		return Empty
	}
	return &SampleFamily{Samples: sf.Samples, Downsampling: kind, Entity: sf.Entity}
}

// PodResolver maps a pod to the service that owns it.
type PodResolver interface {
	ServiceOf(namespace, pod string) (string, bool)
}

// StaticPods is a PodResolver backed by a fixed table keyed "namespace/pod".
type StaticPods map[string]string

func (p StaticPods) ServiceOf(namespace, pod string) (string, bool) {
	svc, ok := p[namespace+"/"+pod]
	return svc, ok
}

// RetagPod2Service sets newLabel on each sample to the service owning the
// pod named by the podLabel and nsLabel labels, formatted "service.namespace".
// Samples whose pod cannot be resolved keep their labels.
func RetagPod2Service(sf *SampleFamily, r PodResolver, newLabel, podLabel, nsLabel string) *SampleFamily {
	if sf.IsEmpty() {
		return Empty
	}
	out := make([]Sample, len(sf.Samples))
	for i, s := range sf.Samples {
		labels := copyLabels(s.Labels)
		ns := labels[nsLabel]
		if svc, ok := r.ServiceOf(ns, labels[podLabel]); ok {
			labels[newLabel] = svc + "." + ns
		}
		out[i] = Sample{Name: s.Name, Labels: labels, Value: s.Value, Timestamp: s.Timestamp}
	}
	return sf.derive(out)
}
