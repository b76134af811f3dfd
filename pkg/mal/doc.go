// Package mal compiles meter analysis expressions into stack-machine
// programs and evaluates them against snapshots of sample families.
//
// # Overview
//
// A metric is a named expression such as
//
//	(cpu_seconds.sum(['service']) / cpu_cores.sum(['service'])) * 100
//
// Expressions are translated into a postfix sequence of units, bound to
// operation implementations once, and cached. Every evaluation then runs
// the cached program against the families collected for one cycle.
//
// # Quick Start
//
//	engine := mal.NewEngine(mal.WithInterval(10 * time.Second))
//
//	engine.AddRule("service_cpu", `cpu_seconds.sum(['service'])`)
//	engine.AddRule("error_ratio", `http_requests_total.tagMatch('code', '5..').sum(['path'])`)
//
//	if err := engine.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Stop()
//
// Rules can also come from YAML rule files (see package rules) or from a
// text manifest of id=expression lines:
//
//	engine.LoadManifest(strings.NewReader("heap=go_heap_alloc_bytes\n"))
//
// # HTTP Integration
//
// The engine collects request counts and latency histograms from its
// middleware:
//
//	http.Handle("/api/", engine.HTTPMiddleware()(apiHandler))
//
// which makes expressions like this one available:
//
//	http_request_duration_ms_bucket.sum(['path', 'le']).histogram().histogram_percentile([50, 99])
//
// # Architecture
//
//   - parser: tokens and AST of the expression language
//   - unit: postfix translation and parameter resolution
//   - closure: analysis and compilation of inline closures
//   - ops: operation registry and the standard operation set
//   - compiler: binds units to operations, producing a Program
//   - cache: published id to Program mapping and the manifest format
//   - vm: the stack machine that executes a Program
//   - collect, emit, stream: inputs and outputs of the evaluation loop
//
// # Results
//
// Every cycle carries a ULID. Each metric yields one event, successful or
// failed, which is dispatched to the handlers registered with OnResult and
// to the stream server when WithStream is set.
package mal
