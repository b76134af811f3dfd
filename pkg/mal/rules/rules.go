// Package rules loads MAL rule files. A rule file groups metric
// expressions that share a name prefix, a common suffix and a sample
// filter:
//
//	metricPrefix: meter_vm
//	expSuffix: service(['host'], Layer.OS_LINUX)
//	filter: "{ tags -> tags.job == 'vm' }"
//	metricsRules:
//	  - name: cpu_total
//	    exp: cpu_seconds.sum(['host'])
package rules

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chosenoffset/mal/pkg/mal/cache"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/parser"
)

// Rule is one named expression of a file.
type Rule struct {
	Name string `yaml:"name"`
	Exp  string `yaml:"exp"`
}

// File is the decoded form of one rule file.
type File struct {
	Path         string `yaml:"-"`
	MetricPrefix string `yaml:"metricPrefix"`
	ExpSuffix    string `yaml:"expSuffix"`
	Filter       string `yaml:"filter"`
	MetricsRules []Rule `yaml:"metricsRules"`
}

// Decode reads one rule file from r.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, malerr.Wrap(malerr.Configuration, err, "invalid rule file")
	}
	for i, rule := range f.MetricsRules {
		if strings.TrimSpace(rule.Name) == "" || strings.TrimSpace(rule.Exp) == "" {
			return nil, malerr.New(malerr.Configuration, "rule %d needs both name and exp", i)
		}
	}
	return &f, nil
}

// LoadFile reads and decodes the rule file at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open rule file %s", path)
	}
	defer fh.Close()

	f, err := Decode(fh)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	f.Path = path
	return f, nil
}

// LoadDir loads every *.yaml and *.yml file directly inside dir, in name
// order.
func LoadDir(dir string) ([]*File, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", dir)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// ID is the metric identifier of rule within f.
func (f *File) ID(rule Rule) string {
	if f.MetricPrefix == "" {
		return rule.Name
	}
	return f.MetricPrefix + "_" + rule.Name
}

// Expression is the full expression of rule. The file filter is applied
// to every series the rule reads, before anything else, and the shared
// suffix is called on the result.
func (f *File) Expression(rule Rule) (string, error) {
	exp := rule.Exp
	if f.Filter != "" {
		node, err := parser.Parse(exp)
		if err != nil {
			return "", malerr.WithMetric(malerr.Wrap(malerr.Resolution, err, "cannot parse rule expression"), f.ID(rule))
		}
		exp = filterSeries(node, f.Filter)
	}
	if f.ExpSuffix != "" {
		exp = fmt.Sprintf("(%s).%s", exp, f.ExpSuffix)
	}
	return exp, nil
}

// filterSeries renders node with every sample family reference followed by
// a filter call.
func filterSeries(node parser.Expression, filter string) string {
	switch n := node.(type) {
	case *parser.Identifier:
		return n.Value + ".filter(" + filter + ")"
	case *parser.GroupedExpression:
		return "(" + filterSeries(n.Inner, filter) + ")"
	case *parser.InfixExpression:
		return filterSeries(n.Left, filter) + " " + n.Operator + " " + filterSeries(n.Right, filter)
	case *parser.MethodCallExpression:
		args := make([]string, len(n.Arguments))
		for i, a := range n.Arguments {
			args[i] = a.String()
		}
		return filterSeries(n.Receiver, filter) + "." + n.Method.Value + "(" + strings.Join(args, ", ") + ")"
	}
	return node.String()
}

// Entries expands every rule of f into a manifest entry.
func (f *File) Entries() ([]cache.Entry, error) {
	out := make([]cache.Entry, len(f.MetricsRules))
	for i, rule := range f.MetricsRules {
		exp, err := f.Expression(rule)
		if err != nil {
			return nil, err
		}
		out[i] = cache.Entry{ID: f.ID(rule), Expression: exp, Line: i + 1}
	}
	return out, nil
}
