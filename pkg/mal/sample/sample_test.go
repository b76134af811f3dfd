package sample

import (
	"math"
	"reflect"
	"regexp"
	"strings"
	"testing"
)

func s(name string, v float64, kv ...string) Sample {
	labels := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		labels[kv[i]] = kv[i+1]
	}
	return Sample{Name: name, Labels: labels, Value: v, Timestamp: 1000}
}

func values(sf *SampleFamily) []float64 {
	return sf.Values()
}

func TestNewAndEmpty(t *testing.T) {
	if New() != Empty {
		t.Error("New() without samples should be Empty")
	}
	var nilFamily *SampleFamily
	if !nilFamily.IsEmpty() {
		t.Error("nil family should be empty")
	}
	if Single("x", 3).IsEmpty() {
		t.Error("Single should not be empty")
	}
	if Empty.String() != "<empty>" {
		t.Errorf("unexpected Empty rendering %q", Empty.String())
	}
}

func TestLabelKey(t *testing.T) {
	a := LabelKey(map[string]string{"path": "/", "code": "200"})
	b := LabelKey(map[string]string{"code": "200", "path": "/"})
	if a != b {
		t.Errorf("label order changed the key: %s vs %s", a, b)
	}
	if a != `{code="200",path="/"}` {
		t.Errorf("unexpected key %s", a)
	}
	if LabelKey(nil) != "{}" {
		t.Errorf("expected {} for no labels")
	}
}

func TestBinary(t *testing.T) {
	cpu := New(s("cpu", 5))
	mem := New(s("mem", 3))

	tests := []struct {
		name string
		op   Op
		l, r *SampleFamily
		want []float64
	}{
		{"Add", Add, cpu, mem, []float64{8}},
		{"Sub", Sub, cpu, mem, []float64{2}},
		{"Mul", Mul, cpu, mem, []float64{15}},
		{"Div", Div, cpu, mem, []float64{5.0 / 3}},
		{"DivByZeroDrops", Div, cpu, New(s("z", 0)), nil},
		{"AddEmptyRight", Add, cpu, Empty, []float64{5}},
		{"AddEmptyLeft", Add, Empty, mem, []float64{3}},
		{"SubEmptyRight", Sub, cpu, Empty, []float64{5}},
		{"SubEmptyLeft", Sub, Empty, mem, []float64{-3}},
		{"MulEmpty", Mul, cpu, Empty, nil},
		{"DivEmpty", Div, Empty, mem, nil},
		{"BothEmpty", Add, Empty, Empty, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Binary(tt.op, tt.l, tt.r)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(values(got), tt.want) {
				t.Errorf("expected %v, got %v", tt.want, values(got))
			}
		})
	}
}

func TestBinaryJoinsOnLabels(t *testing.T) {
	l := New(s("req", 10, "svc", "a"), s("req", 20, "svc", "b"), s("req", 30, "svc", "c"))
	r := New(s("err", 1, "svc", "b"), s("err", 2, "svc", "a"))

	got, err := Binary(Div, r, l)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Samples) != 2 {
		t.Fatalf("expected unmatched sample to be dropped, got %v", got)
	}
	want := map[string]float64{"a": 0.2, "b": 0.05}
	for _, smp := range got.Samples {
		if smp.Value != want[smp.Labels["svc"]] {
			t.Errorf("svc %s: expected %v, got %v", smp.Labels["svc"], want[smp.Labels["svc"]], smp.Value)
		}
	}
	if got.Samples[0].Labels["svc"] != "a" {
		t.Errorf("expected output sorted by labels, got %v", got)
	}
}

func TestBinaryDoesNotModifyInputs(t *testing.T) {
	l := New(s("x", 1, "k", "v"))
	r := New(s("y", 2, "k", "v"))
	out, err := Binary(Add, l, r)
	if err != nil {
		t.Fatal(err)
	}
	out.Samples[0].Labels["k"] = "changed"
	if l.Samples[0].Labels["k"] != "v" {
		t.Error("output shares label maps with the input")
	}
	if len(Empty.Samples) != 0 {
		t.Error("Empty was modified")
	}
}

func TestBinaryRejectsDuplicateLabelSets(t *testing.T) {
	single := New(s("cpu", 5, "host", "a"))
	dup := New(s("mem", 1, "host", "a"), s("mem", 2, "host", "a"))

	if _, err := Binary(Add, single, dup); err == nil || !strings.Contains(err.Error(), "right operand") {
		t.Errorf("expected right operand error, got %v", err)
	}
	if _, err := Binary(Div, dup, single); err == nil || !strings.Contains(err.Error(), "left operand") {
		t.Errorf("expected left operand error, got %v", err)
	}
	if _, err := Binary(Add, dup, Empty); err != nil {
		t.Errorf("an empty side does not join, got %v", err)
	}
}

func TestScalar(t *testing.T) {
	sf := New(s("x", 4, "k", "a"), s("x", 0, "k", "b"))

	if got := values(ScalarRight(Mul, sf, 2)); !reflect.DeepEqual(got, []float64{8, 0}) {
		t.Errorf("x * 2: %v", got)
	}
	if got := values(ScalarLeft(Sub, 10, sf)); !reflect.DeepEqual(got, []float64{6, 10}) {
		t.Errorf("10 - x: %v", got)
	}
	if got := values(ScalarLeft(Div, 8, sf)); !reflect.DeepEqual(got, []float64{2}) {
		t.Errorf("8 / x should drop the zero divisor: %v", got)
	}
	if ScalarRight(Add, Empty, 1) != Empty {
		t.Error("scalar on Empty should stay Empty")
	}
}

func TestParseOp(t *testing.T) {
	for _, sym := range []string{"+", "-", "*", "/"} {
		op, err := ParseOp(sym)
		if err != nil || op.String() != sym {
			t.Errorf("ParseOp(%q) = %v, %v", sym, op, err)
		}
	}
	if _, err := ParseOp("%"); err == nil {
		t.Error("expected error for %")
	}
}

func TestAggregate(t *testing.T) {
	sf := New(
		s("cpu", 1, "az", "east", "host", "h1"),
		s("cpu", 2, "az", "east", "host", "h2"),
		s("cpu", 3, "az", "west", "host", "h3"),
	)

	tests := []struct {
		agg    Aggregation
		by     []string
		want   []float64
		labels []map[string]string
	}{
		{Sum, nil, []float64{6}, []map[string]string{{}}},
		{Sum, []string{"az"}, []float64{3, 3}, []map[string]string{{"az": "east"}, {"az": "west"}}},
		{Avg, []string{"az"}, []float64{1.5, 3}, nil},
		{Max, nil, []float64{3}, nil},
		{Min, nil, []float64{1}, nil},
		{Count, []string{"az"}, []float64{2, 1}, nil},
		{Sum, []string{"missing"}, []float64{6}, []map[string]string{{}}},
	}

	for _, tt := range tests {
		t.Run(tt.agg.String(), func(t *testing.T) {
			got := Aggregate(tt.agg, sf, tt.by)
			if !reflect.DeepEqual(values(got), tt.want) {
				t.Errorf("expected %v, got %v", tt.want, values(got))
			}
			if tt.labels != nil {
				for i, smp := range got.Samples {
					if !reflect.DeepEqual(smp.Labels, tt.labels[i]) {
						t.Errorf("sample %d: expected labels %v, got %v", i, tt.labels[i], smp.Labels)
					}
				}
			}
		})
	}

	if Aggregate(Sum, Empty, nil) != Empty {
		t.Error("aggregating Empty should give Empty")
	}
}

func TestFilters(t *testing.T) {
	sf := New(
		s("http", 5, "code", "200"),
		s("http", 2, "code", "503"),
		s("http", 1, "code", "504"),
		s("http", 9),
	)

	t.Run("TagEqual", func(t *testing.T) {
		if got := values(TagEqual(sf, "code", "200", false)); !reflect.DeepEqual(got, []float64{5}) {
			t.Errorf("got %v", got)
		}
		if got := values(TagEqual(sf, "code", "200", true)); !reflect.DeepEqual(got, []float64{2, 1, 9}) {
			t.Errorf("negated: got %v", got)
		}
		if got := values(TagEqual(sf, "code", "", false)); !reflect.DeepEqual(got, []float64{9}) {
			t.Errorf("missing label reads as empty: got %v", got)
		}
	})

	t.Run("TagMatch", func(t *testing.T) {
		re := regexp.MustCompile(`^(?:5..)$`)
		if got := values(TagMatch(sf, "code", re, false)); !reflect.DeepEqual(got, []float64{2, 1}) {
			t.Errorf("got %v", got)
		}
		if got := values(TagMatch(sf, "code", re, true)); !reflect.DeepEqual(got, []float64{5, 9}) {
			t.Errorf("negated: got %v", got)
		}
	})

	t.Run("FilterValue", func(t *testing.T) {
		cases := []struct {
			cmp  Compare
			want []float64
		}{
			{Equal, []float64{2}},
			{NotEqual, []float64{5, 1, 9}},
			{Greater, []float64{5, 9}},
			{GreaterEqual, []float64{5, 2, 9}},
			{Less, []float64{1}},
			{LessEqual, []float64{2, 1}},
		}
		for _, c := range cases {
			if got := values(FilterValue(sf, c.cmp, 2)); !reflect.DeepEqual(got, c.want) {
				t.Errorf("compare %d: expected %v, got %v", c.cmp, c.want, got)
			}
		}
	})

	t.Run("NoMatchIsEmpty", func(t *testing.T) {
		if !TagEqual(sf, "code", "404", false).IsEmpty() {
			t.Error("expected Empty")
		}
	})
}

func TestFilterAndRelabel(t *testing.T) {
	sf := New(s("x", 1, "env", "prod"), s("x", 2, "env", "dev"))

	kept, err := Filter(sf, func(labels map[string]string) (bool, error) {
		labels["env"] = "mutated"
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if kept.Samples[0].Labels["env"] != "prod" {
		t.Error("predicate must receive a copy of the labels")
	}

	relabeled, err := Relabel(sf, func(labels map[string]string) (map[string]string, error) {
		labels["region"] = "us"
		return labels, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, smp := range relabeled.Samples {
		if smp.Labels["region"] != "us" {
			t.Errorf("relabel missing region: %v", smp.Labels)
		}
	}
	if _, ok := sf.Samples[0].Labels["region"]; ok {
		t.Error("relabel modified the input")
	}

	each, err := ForEach(sf, []string{"a", "b"}, func(e string, labels map[string]string) (map[string]string, error) {
		labels["seen"] += e
		return labels, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if each.Samples[0].Labels["seen"] != "ab" {
		t.Errorf("expected elements applied in order, got %q", each.Samples[0].Labels["seen"])
	}
}

func TestHistogram(t *testing.T) {
	cumulative := New(
		s("lat", 10, "le", "50"),
		s("lat", 4, "le", "10"),
		s("lat", 10, "le", "+Inf"),
		s("lat", 8, "le", "25"),
	)

	hist, err := Histogram(cumulative, DefaultBucketLabel)
	if err != nil {
		t.Fatal(err)
	}
	if got := values(hist); !reflect.DeepEqual(got, []float64{4, 4, 2, 0}) {
		t.Fatalf("expected per-bucket counts [4 4 2 0], got %v", got)
	}

	pct, err := HistogramPercentile(hist, DefaultBucketLabel, []int{50, 90, 100})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"50": 25, "90": 50, "100": 50}
	if len(pct.Samples) != 3 {
		t.Fatalf("expected 3 percentiles, got %v", pct)
	}
	for _, smp := range pct.Samples {
		if smp.Value != want[smp.Labels[PercentileLabel]] {
			t.Errorf("p%s: expected %v, got %v", smp.Labels[PercentileLabel], want[smp.Labels[PercentileLabel]], smp.Value)
		}
		if _, ok := smp.Labels[DefaultBucketLabel]; ok {
			t.Errorf("percentile output should drop the bucket label: %v", smp.Labels)
		}
	}
}

func TestHistogramErrors(t *testing.T) {
	if _, err := Histogram(New(s("lat", 1)), "le"); err == nil {
		t.Error("expected error for missing bucket label")
	}
	if _, err := Histogram(New(s("lat", 1, "le", "abc")), "le"); err == nil {
		t.Error("expected error for non-numeric bound")
	}
	if _, err := HistogramPercentile(New(s("lat", 1, "le", "1")), "le", []int{0}); err == nil {
		t.Error("expected error for percentile 0")
	}
	if _, err := HistogramPercentile(New(s("lat", 1, "le", "1")), "le", []int{101}); err == nil {
		t.Error("expected error for percentile 101")
	}
}

func TestHistogramPercentileInfBucket(t *testing.T) {
	hist := New(s("lat", 0, "le", "10"), s("lat", 5, "le", "+Inf"))
	pct, err := HistogramPercentile(hist, "le", []int{99})
	if err != nil {
		t.Fatal(err)
	}
	if v := pct.Samples[0].Value; math.IsInf(v, 0) || v != 10 {
		t.Errorf("expected largest finite bound 10, got %v", v)
	}
}

func TestEntity(t *testing.T) {
	sf := New(s("cpu", 1, "svc", "api", "cluster", "c1", "host", "h1"))
	e := Entity{Scope: InstanceScope, Layer: "GENERAL", ServiceKeys: []string{"svc", "cluster"}, InstanceKeys: []string{"host"}}

	out, err := WithEntity(sf, e)
	if err != nil {
		t.Fatal(err)
	}
	id, ok := out.EntityOf(out.Samples[0])
	if !ok {
		t.Fatal("expected entity")
	}
	if id.Service != "api|c1" || id.Instance != "h1" {
		t.Errorf("unexpected entity %+v", id)
	}
	if id.String() != "instance:GENERAL/api|c1/h1" {
		t.Errorf("unexpected rendering %s", id)
	}
	if _, ok := sf.EntityOf(sf.Samples[0]); ok {
		t.Error("input family should not gain an entity")
	}

	if _, err := WithEntity(sf, Entity{Scope: ServiceScope, ServiceKeys: []string{"nope"}}); err == nil {
		t.Error("expected error for missing entity label")
	}
}

func TestDownsampling(t *testing.T) {
	sf := New(s("x", 1))
	out := WithDownsampling(sf, "SUM")
	if out.Downsampling != "SUM" || sf.Downsampling != "" {
		t.Errorf("unexpected downsampling %q / %q", out.Downsampling, sf.Downsampling)
	}
	derived := ScalarRight(Mul, out, 2)
	if derived.Downsampling != "SUM" {
		t.Error("derived families should keep their metadata")
	}
}

func TestRetagPod2Service(t *testing.T) {
	sf := New(
		s("mem", 1, "pod", "api-7d9", "namespace", "prod"),
		s("mem", 2, "pod", "unknown", "namespace", "prod"),
	)
	pods := StaticPods{"prod/api-7d9": "api"}

	out := RetagPod2Service(sf, pods, "service", "pod", "namespace")
	if got := out.Samples[0].Labels["service"]; got != "api.prod" {
		t.Errorf("expected api.prod, got %q", got)
	}
	if _, ok := out.Samples[1].Labels["service"]; ok {
		t.Error("unresolved pod should keep its labels")
	}
}
