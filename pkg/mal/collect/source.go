// Package collect produces the sample family snapshots MAL programs run
// against.
package collect

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/sample"
)

// Source yields the current families of one collector. The returned
// snapshot belongs to the caller.
type Source interface {
	Collect() sample.Snapshot
}

// SourceFunc adapts a function to Source.
type SourceFunc func() sample.Snapshot

func (f SourceFunc) Collect() sample.Snapshot { return f() }

// Static always yields the same families.
type Static sample.Snapshot

func (s Static) Collect() sample.Snapshot {
	out := make(sample.Snapshot, len(s))
	for name, sf := range s {
		out[name] = sf
	}
	return out
}

// Merge collects every source into one snapshot. Families with the same
// name from different sources are concatenated.
func Merge(sources ...Source) sample.Snapshot {
	out := make(sample.Snapshot)
	for _, src := range sources {
		for name, sf := range src.Collect() {
			if sf.IsEmpty() {
				continue
			}
			prev, ok := out[name]
			if !ok {
				out[name] = sf
				continue
			}
			samples := make([]sample.Sample, 0, len(prev.Samples)+len(sf.Samples))
			samples = append(samples, prev.Samples...)
			samples = append(samples, sf.Samples...)
			out[name] = sample.New(samples...)
		}
	}
	return out
}

// Names returns the family names of a snapshot, sorted.
func Names(s sample.Snapshot) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type jsonSample struct {
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

// ReadSnapshot decodes a JSON object mapping family names to sample lists:
//
//	{"cpu": [{"labels": {"host": "a"}, "value": 5}]}
func ReadSnapshot(r io.Reader) (sample.Snapshot, error) {
	var raw map[string][]jsonSample
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	now := time.Now().UnixMilli()
	out := make(sample.Snapshot, len(raw))
	for name, list := range raw {
		samples := make([]sample.Sample, len(list))
		for i, js := range list {
			labels := js.Labels
			if labels == nil {
				labels = map[string]string{}
			}
			ts := js.Timestamp
			if ts == 0 {
				ts = now
			}
			samples[i] = sample.Sample{Name: name, Labels: labels, Value: js.Value, Timestamp: ts}
		}
		out[name] = sample.New(samples...)
	}
	return out, nil
}

// FileSource reads a JSON snapshot from disk on every Collect. Read errors
// yield an empty snapshot and are reported through OnError when set.
type FileSource struct {
	Path    string
	OnError func(error)
}

func (f *FileSource) Collect() sample.Snapshot {
	fh, err := os.Open(f.Path)
	if err != nil {
		f.report(errors.Wrapf(err, "open snapshot %s", f.Path))
		return sample.Snapshot{}
	}
	defer fh.Close()

	snap, err := ReadSnapshot(fh)
	if err != nil {
		f.report(errors.WithMessage(err, f.Path))
		return sample.Snapshot{}
	}
	return snap
}

func (f *FileSource) report(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}
