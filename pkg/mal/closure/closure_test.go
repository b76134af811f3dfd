package closure

import (
	"reflect"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/parser"
)

func analyze(t *testing.T, src string) *Descriptor {
	t.Helper()
	node, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	lit, ok := node.(*parser.ClosureLiteral)
	if !ok {
		t.Fatalf("%q is not a closure", src)
	}
	d, err := Analyze(lit)
	if err != nil {
		t.Fatalf("analyze %q: %v", src, err)
	}
	return d
}

func compile(t *testing.T, src string) *Program {
	t.Helper()
	p, err := Compile(analyze(t, src))
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return p
}

func TestAnalyzeDeclarations(t *testing.T) {
	tests := []struct {
		src    string
		params []Param
		yield  Yield
	}{
		{"{tags -> tags.a = 'b'}", []Param{{"tags", Tags}}, YieldTags},
		{"{ tags.env == 'prod' }", []Param{{"tags", Tags}}, YieldCondition},
		{"{prefix, t -> t[prefix] = 'x'}", []Param{{"prefix", String}, {"t", Tags}}, YieldTags},
		{"{tags -> tags.containsKey('az')}", []Param{{"tags", Tags}}, YieldCondition},
		{"{tags -> tags.a = 'b'; tags}", []Param{{"tags", Tags}}, YieldTags},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			d := analyze(t, tt.src)
			if !reflect.DeepEqual(d.Params, tt.params) {
				t.Errorf("expected params %v, got %v", tt.params, d.Params)
			}
			if d.Yield != tt.yield {
				t.Errorf("expected yield %s, got %s", tt.yield, d.Yield)
			}
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []string{
		"{tags -> other.a = 'b'}",
		"{tags -> tags = 'b'}",
		"{tags -> tags.a = x}",
		"{tags -> tags.a = 'b' * 2}",
		"{tags -> tags.frobnicate('a')}",
		"{tags -> tags.put('a')}",
		"{a, a -> a}",
		"{p, tags -> p.x = '1'}",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			node, err := parser.Parse(src)
			if err != nil {
				t.Fatal(err)
			}
			_, err = Analyze(node.(*parser.ClosureLiteral))
			if !errors.Is(err, malerr.Resolution) {
				t.Errorf("expected resolution error, got %v", err)
			}
		})
	}
}

func TestRunTags(t *testing.T) {
	tests := []struct {
		src   string
		input map[string]string
		want  map[string]string
	}{
		{
			"{tags -> tags.put('region', 'us')}",
			map[string]string{"az": "east"},
			map[string]string{"az": "east", "region": "us"},
		},
		{
			"{tags -> tags.remove('az')}",
			map[string]string{"az": "east", "host": "h1"},
			map[string]string{"host": "h1"},
		},
		{
			"{tags -> tags['svc'] = tags.app + '.' + tags.ns}",
			map[string]string{"app": "api", "ns": "prod"},
			map[string]string{"app": "api", "ns": "prod", "svc": "api.prod"},
		},
		{
			"{tags -> if (tags.code.startsWith('5')) { tags.class = 'error' } else { tags.class = 'ok' }}",
			map[string]string{"code": "503"},
			map[string]string{"code": "503", "class": "error"},
		},
		{
			"{tags -> if (tags.code.startsWith('5')) { tags.class = 'error' } else { tags.class = 'ok' }}",
			map[string]string{"code": "200"},
			map[string]string{"code": "200", "class": "ok"},
		},
		{
			"{tags -> tags.host = tags.host.toUpperCase().replace('-', '_')}",
			map[string]string{"host": "web-1"},
			map[string]string{"host": "WEB_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p := compile(t, tt.src)
			res, err := p.Call(nil, tt.input)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !reflect.DeepEqual(res.Tags, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, res.Tags)
			}
		})
	}
}

func TestRunDoesNotMutateInput(t *testing.T) {
	p := compile(t, "{tags -> tags.a = 'changed'; tags.remove('b')}")
	input := map[string]string{"a": "orig", "b": "x"}
	if _, err := p.Call(nil, input); err != nil {
		t.Fatal(err)
	}
	if input["a"] != "orig" || input["b"] != "x" {
		t.Errorf("input was modified: %v", input)
	}
}

func TestRunCondition(t *testing.T) {
	tests := []struct {
		src  string
		tags map[string]string
		want bool
	}{
		{"{ tags.env == 'prod' }", map[string]string{"env": "prod"}, true},
		{"{ tags.env == 'prod' }", map[string]string{"env": "dev"}, false},
		{"{ tags.env == 'prod' }", map[string]string{}, false},
		{"{tags -> tags.code >= 500 && tags.code < 600}", map[string]string{"code": "503"}, true},
		{"{tags -> tags.code >= 500 && tags.code < 600}", map[string]string{"code": "404"}, false},
		{"{tags -> tags.a == 'x' || tags.b == 'y'}", map[string]string{"b": "y"}, true},
		{"{tags -> !tags.containsKey('az')}", map[string]string{"az": "1"}, false},
		{"{tags -> tags.v > 10}", map[string]string{"v": "9"}, false},
		{"{tags -> tags.name > 'b'}", map[string]string{"name": "c"}, true},
		{"{tags -> tags.version == '1.1'}", map[string]string{"version": "1.10"}, false},
		{"{tags -> tags.version == '1.1'}", map[string]string{"version": "1.1"}, true},
		{"{tags -> tags.shard == '1'}", map[string]string{"shard": "01"}, false},
		{"{tags -> tags.shard != '1'}", map[string]string{"shard": "01"}, true},
		{"{tags -> tags.shard == 1}", map[string]string{"shard": "01"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p := compile(t, tt.src)
			if p.Yield != YieldCondition {
				t.Fatalf("expected condition yield, got %s", p.Yield)
			}
			res, err := p.Call(nil, tt.tags)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if res.Condition != tt.want {
				t.Errorf("expected %v, got %v for %v", tt.want, res.Condition, tt.tags)
			}
		})
	}
}

func TestRunWithStringBinding(t *testing.T) {
	p := compile(t, "{key, tags -> tags[key + '_seen'] = 'true'; key = key.toUpperCase(); tags.last = key}")
	res, err := p.Call([]string{"cpu"}, map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"cpu_seen": "true", "last": "CPU"}
	if !reflect.DeepEqual(res.Tags, want) {
		t.Errorf("expected %v, got %v", want, res.Tags)
	}
}

func TestRunErrors(t *testing.T) {
	t.Run("ArgumentCount", func(t *testing.T) {
		p := compile(t, "{key, tags -> tags[key] = '1'}")
		_, err := p.Call(nil, map[string]string{})
		if !errors.Is(err, malerr.Evaluation) {
			t.Errorf("expected evaluation error, got %v", err)
		}
	})

	t.Run("MissingBinding", func(t *testing.T) {
		p := compile(t, "{tags -> tags.a = '1'}")
		_, err := p.Run(map[string]interface{}{})
		if !errors.Is(err, malerr.Evaluation) {
			t.Errorf("expected evaluation error, got %v", err)
		}
	})

	t.Run("WrongBindingType", func(t *testing.T) {
		p := compile(t, "{tags -> tags.a = '1'}")
		_, err := p.Run(map[string]interface{}{"tags": "not a map"})
		if !errors.Is(err, malerr.Evaluation) {
			t.Errorf("expected evaluation error, got %v", err)
		}
	})

	t.Run("NegateNonNumber", func(t *testing.T) {
		p := compile(t, "{tags -> tags.a = -tags.b}")
		_, err := p.Call(nil, map[string]string{"b": "abc"})
		if !errors.Is(err, malerr.Evaluation) {
			t.Errorf("expected evaluation error, got %v", err)
		}
	})
}

func TestProgramConcurrentUse(t *testing.T) {
	p := compile(t, "{tags -> tags.n = tags.i + '!'}")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := map[string]string{"i": string(rune('a' + i%26))}
			res, err := p.Call(nil, in)
			if err != nil {
				errs <- err
				return
			}
			if res.Tags["n"] != in["i"]+"!" {
				errs <- errors.Errorf("got %q for %q", res.Tags["n"], in["i"])
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
