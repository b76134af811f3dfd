package ops

import (
	"regexp"

	"github.com/chosenoffset/mal/pkg/mal/closure"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/sample"
	"github.com/chosenoffset/mal/pkg/mal/unit"
	"github.com/chosenoffset/mal/pkg/mal/value"
)

// Default returns a registry holding every built-in operation.
func Default(opts ...Option) *Registry {
	r := NewRegistry(opts...)

	r.RegisterUnary(unit.GroupName, nil, func([]unit.Parameter) (UnaryFunc, error) {
		return func(v value.Value) (value.Value, error) { return v, nil }, nil
	})

	for _, symbol := range []string{"+", "-", "*", "/"} {
		op, err := sample.ParseOp(symbol)
		if err != nil {
			panic(err)
		}
		r.RegisterBinary(symbol, arithmetic(op))
	}

	for _, agg := range []sample.Aggregation{sample.Sum, sample.Avg, sample.Max, sample.Min, sample.Count} {
		agg := agg
		r.RegisterUnary(agg.String(), nil, func([]unit.Parameter) (UnaryFunc, error) {
			return familyFunc(agg.String(), func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.Aggregate(agg, sf, nil), nil
			}), nil
		})
		r.RegisterUnary(agg.String(), []unit.ParamKind{unit.StringListParam}, func(args []unit.Parameter) (UnaryFunc, error) {
			by := args[0].StringList()
			return familyFunc(agg.String(), func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.Aggregate(agg, sf, by), nil
			}), nil
		})
	}

	registerFilters(r)
	registerClosures(r)
	registerHistograms(r)
	registerMetadata(r)
	return r
}

// familyFunc adapts a sample family operation to a UnaryFunc that rejects
// other operand kinds.
func familyFunc(name string, fn func(*sample.SampleFamily) (*sample.SampleFamily, error)) UnaryFunc {
	return func(v value.Value) (value.Value, error) {
		sf, ok := v.Family()
		if !ok {
			return value.Value{}, malerr.New(malerr.Evaluation, "%s expects a sample family, got %s", name, v.Kind())
		}
		out, err := fn(sf)
		if err != nil {
			if malerr.KindOf(err) != 0 {
				return value.Value{}, err
			}
			return value.Value{}, malerr.Wrap(malerr.Evaluation, err, "%s failed", name)
		}
		return value.Family(out), nil
	}
}

func arithmetic(op sample.Op) BinaryFunc {
	return func(l, r value.Value) (value.Value, error) {
		lf, lFamily := l.Family()
		rf, rFamily := r.Family()
		ln, lScalar := l.Number()
		rn, rScalar := r.Number()

		switch {
		case lFamily && rFamily:
			out, err := sample.Binary(op, lf, rf)
			if err != nil {
				return value.Value{}, malerr.Wrap(malerr.Evaluation, err, "cannot join operands of %s", op)
			}
			return value.Family(out), nil
		case lFamily && rScalar:
			return value.Family(sample.ScalarRight(op, lf, rn)), nil
		case lScalar && rFamily:
			return value.Family(sample.ScalarLeft(op, ln, rf)), nil
		case lScalar && rScalar:
			n, ok := op.Apply(ln, rn)
			if !ok {
				return value.Value{}, malerr.New(malerr.Evaluation, "division by zero: %g / %g", ln, rn)
			}
			return value.Scalar(n), nil
		}
		return value.Value{}, malerr.New(malerr.Evaluation, "cannot apply %s to %s and %s", op, l.Kind(), r.Kind())
	}
}

func registerFilters(r *Registry) {
	twoStrings := []unit.ParamKind{unit.StringParam, unit.StringParam}

	tagEqual := func(name string, negate bool) Binder {
		return func(args []unit.Parameter) (UnaryFunc, error) {
			key, want := args[0].Str(), args[1].Str()
			return familyFunc(name, func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.TagEqual(sf, key, want, negate), nil
			}), nil
		}
	}
	r.RegisterUnary("tagEqual", twoStrings, tagEqual("tagEqual", false))
	r.RegisterUnary("tagNotEqual", twoStrings, tagEqual("tagNotEqual", true))

	tagMatch := func(name string, negate bool) Binder {
		return func(args []unit.Parameter) (UnaryFunc, error) {
			key := args[0].Str()
			re, err := regexp.Compile("^(?:" + args[1].Str() + ")$")
			if err != nil {
				return nil, malerr.Wrap(malerr.Resolution, err, "%s: bad pattern %q", name, args[1].Str())
			}
			return familyFunc(name, func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.TagMatch(sf, key, re, negate), nil
			}), nil
		}
	}
	r.RegisterUnary("tagMatch", twoStrings, tagMatch("tagMatch", false))
	r.RegisterUnary("tagNotMatch", twoStrings, tagMatch("tagNotMatch", true))

	valueFilters := map[string]sample.Compare{
		"valueEqual":        sample.Equal,
		"valueNotEqual":     sample.NotEqual,
		"valueGreater":      sample.Greater,
		"valueGreaterEqual": sample.GreaterEqual,
		"valueLess":         sample.Less,
		"valueLessEqual":    sample.LessEqual,
	}
	for name, cmp := range valueFilters {
		name, cmp := name, cmp
		r.RegisterUnary(name, []unit.ParamKind{unit.NumberParam}, func(args []unit.Parameter) (UnaryFunc, error) {
			n := args[0].Number()
			return familyFunc(name, func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.FilterValue(sf, cmp, n), nil
			}), nil
		})
	}
}

// compileClosure checks the shape a closure operation needs and compiles
// the closure body.
func compileClosure(op string, d *closure.Descriptor, params int, yield closure.Yield) (*closure.Program, error) {
	if len(d.Params) != params {
		return nil, malerr.New(malerr.Resolution, "%s closure must take %d parameters, %s takes %d", op, params, d, len(d.Params))
	}
	if d.Yield != yield {
		return nil, malerr.New(malerr.Resolution, "%s closure must yield %s, %s yields %s", op, yield, d, d.Yield)
	}
	return closure.Compile(d)
}

func registerClosures(r *Registry) {
	r.RegisterUnary("tag", []unit.ParamKind{unit.ClosureParam}, func(args []unit.Parameter) (UnaryFunc, error) {
		prog, err := compileClosure("tag", args[0].Closure(), 1, closure.YieldTags)
		if err != nil {
			return nil, err
		}
		return familyFunc("tag", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
			return sample.Relabel(sf, func(labels map[string]string) (map[string]string, error) {
				res, err := prog.Call(nil, labels)
				return res.Tags, err
			})
		}), nil
	})

	r.RegisterUnary("filter", []unit.ParamKind{unit.ClosureParam}, func(args []unit.Parameter) (UnaryFunc, error) {
		prog, err := compileClosure("filter", args[0].Closure(), 1, closure.YieldCondition)
		if err != nil {
			return nil, err
		}
		return familyFunc("filter", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
			return sample.Filter(sf, func(labels map[string]string) (bool, error) {
				res, err := prog.Call(nil, labels)
				return res.Condition, err
			})
		}), nil
	})

	r.RegisterUnary("forEach", []unit.ParamKind{unit.StringListParam, unit.ClosureParam}, func(args []unit.Parameter) (UnaryFunc, error) {
		elements := args[0].StringList()
		prog, err := compileClosure("forEach", args[1].Closure(), 2, closure.YieldTags)
		if err != nil {
			return nil, err
		}
		return familyFunc("forEach", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
			return sample.ForEach(sf, elements, func(element string, labels map[string]string) (map[string]string, error) {
				res, err := prog.Call([]string{element}, labels)
				return res.Tags, err
			})
		}), nil
	})
}

func registerHistograms(r *Registry) {
	histogram := func(label string) UnaryFunc {
		return familyFunc("histogram", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
			return sample.Histogram(sf, label)
		})
	}
	r.RegisterUnary("histogram", nil, func([]unit.Parameter) (UnaryFunc, error) {
		return histogram(sample.DefaultBucketLabel), nil
	})
	r.RegisterUnary("histogram", []unit.ParamKind{unit.StringParam}, func(args []unit.Parameter) (UnaryFunc, error) {
		return histogram(args[0].Str()), nil
	})

	r.RegisterUnary("histogram_percentile", []unit.ParamKind{unit.PercentilesParam}, func(args []unit.Parameter) (UnaryFunc, error) {
		ranks := args[0].Percentiles()
		for _, p := range ranks {
			if p <= 0 || p > 100 {
				return nil, malerr.New(malerr.Resolution, "percentile %d out of range (0, 100]", p)
			}
		}
		return familyFunc("histogram_percentile", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
			return sample.HistogramPercentile(sf, sample.DefaultBucketLabel, ranks)
		}), nil
	})
}

func registerMetadata(r *Registry) {
	r.RegisterUnary("downsampling", []unit.ParamKind{unit.DownsamplingTypeParam}, func(args []unit.Parameter) (UnaryFunc, error) {
		kind := args[0].Downsampling().String()
		return familyFunc("downsampling", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
			return sample.WithDownsampling(sf, kind), nil
		}), nil
	})

	entity := func(name string, build func(args []unit.Parameter) sample.Entity) Binder {
		return func(args []unit.Parameter) (UnaryFunc, error) {
			e := build(args)
			return familyFunc(name, func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.WithEntity(sf, e)
			}), nil
		}
	}
	r.RegisterUnary("service", []unit.ParamKind{unit.StringListParam, unit.LayerParam},
		entity("service", func(args []unit.Parameter) sample.Entity {
			return sample.Entity{
				Scope:       sample.ServiceScope,
				ServiceKeys: args[0].StringList(),
				Layer:       args[1].Layer().String(),
			}
		}))
	r.RegisterUnary("instance", []unit.ParamKind{unit.StringListParam, unit.StringListParam, unit.LayerParam},
		entity("instance", func(args []unit.Parameter) sample.Entity {
			return sample.Entity{
				Scope:        sample.InstanceScope,
				ServiceKeys:  args[0].StringList(),
				InstanceKeys: args[1].StringList(),
				Layer:        args[2].Layer().String(),
			}
		}))
	r.RegisterUnary("endpoint", []unit.ParamKind{unit.StringListParam, unit.StringListParam, unit.LayerParam},
		entity("endpoint", func(args []unit.Parameter) sample.Entity {
			return sample.Entity{
				Scope:        sample.EndpointScope,
				ServiceKeys:  args[0].StringList(),
				EndpointKeys: args[1].StringList(),
				Layer:        args[2].Layer().String(),
			}
		}))

	pods := r.pods
	r.RegisterUnary("retagByK8sMeta",
		[]unit.ParamKind{unit.StringParam, unit.K8sRetagTypeParam, unit.StringParam, unit.StringParam},
		func(args []unit.Parameter) (UnaryFunc, error) {
			if t := args[1].RetagType(); t != unit.Pod2Service {
				return nil, malerr.New(malerr.Resolution, "unsupported retag type %s", t)
			}
			newLabel, podLabel, nsLabel := args[0].Str(), args[2].Str(), args[3].Str()
			return familyFunc("retagByK8sMeta", func(sf *sample.SampleFamily) (*sample.SampleFamily, error) {
				return sample.RetagPod2Service(sf, pods, newLabel, podLabel, nsLabel), nil
			}), nil
		})
}
