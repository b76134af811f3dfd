package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/compiler"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
)

const vmRules = `
metricPrefix: meter_vm
expSuffix: service(['host'], Layer.OS_LINUX)
filter: "{ tags -> tags.job == 'vm' }"
metricsRules:
  - name: cpu_total
    exp: cpu_seconds.sum(['host'])
  - name: mem_used
    exp: mem_total - mem_free
`

func TestDecode(t *testing.T) {
	f, err := Decode(strings.NewReader(vmRules))
	if err != nil {
		t.Fatal(err)
	}
	if f.MetricPrefix != "meter_vm" || len(f.MetricsRules) != 2 {
		t.Fatalf("unexpected file %+v", f)
	}
	if id := f.ID(f.MetricsRules[0]); id != "meter_vm_cpu_total" {
		t.Errorf("expected meter_vm_cpu_total, got %s", id)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"UnknownField", "metricPrefix: a\nexpPrefix: b\n"},
		{"MissingExp", "metricsRules:\n  - name: x\n"},
		{"NotYAML", "metricsRules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			if !errors.Is(err, malerr.Configuration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestExpression(t *testing.T) {
	f, err := Decode(strings.NewReader(vmRules))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		rule Rule
		want string
	}{
		{
			f.MetricsRules[0],
			"(cpu_seconds.filter({ tags -> tags.job == 'vm' }).sum(['host'])).service(['host'], Layer.OS_LINUX)",
		},
		{
			f.MetricsRules[1],
			"(mem_total.filter({ tags -> tags.job == 'vm' }) - mem_free.filter({ tags -> tags.job == 'vm' })).service(['host'], Layer.OS_LINUX)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.rule.Name, func(t *testing.T) {
			got, err := f.Expression(tt.rule)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected\n  %s\ngot\n  %s", tt.want, got)
			}
			if _, err := compiler.CompileSource(f.ID(tt.rule), got); err != nil {
				t.Errorf("expanded expression does not compile: %v", err)
			}
		})
	}
}

func TestExpressionWithoutExtras(t *testing.T) {
	f := &File{}
	got, err := f.Expression(Rule{Name: "x", Exp: "a + b"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "a + b" {
		t.Errorf("expected unchanged expression, got %s", got)
	}
	if id := f.ID(Rule{Name: "x"}); id != "x" {
		t.Errorf("expected bare id, got %s", id)
	}
}

func TestEntries(t *testing.T) {
	f, err := Decode(strings.NewReader(vmRules))
	if err != nil {
		t.Fatal(err)
	}
	entries, err := f.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].ID != "meter_vm_mem_used" || entries[1].Line != 2 {
		t.Errorf("unexpected entries %+v", entries)
	}

	bad := &File{Filter: "{ tags -> tags.a == 'b' }", MetricsRules: []Rule{{Name: "x", Exp: "a +"}}}
	if _, err := bad.Entries(); !errors.Is(err, malerr.Resolution) {
		t.Errorf("expected resolution error, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.yml", "metricsRules:\n  - name: two\n    exp: b\n")
	write("a.yaml", "metricsRules:\n  - name: one\n    exp: a\n")
	write("notes.txt", "ignored")

	files, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if filepath.Base(files[0].Path) != "a.yaml" || files[0].MetricsRules[0].Name != "one" {
		t.Errorf("unexpected first file %+v", files[0])
	}

	write("c.yaml", "bogus: true\n")
	_, err = LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "c.yaml") {
		t.Errorf("expected error naming c.yaml, got %v", err)
	}
}
