package mal

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/chosenoffset/mal/pkg/mal/cache"
	"github.com/chosenoffset/mal/pkg/mal/collect"
	"github.com/chosenoffset/mal/pkg/mal/compiler"
	"github.com/chosenoffset/mal/pkg/mal/emit"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
	"github.com/chosenoffset/mal/pkg/mal/ops"
	"github.com/chosenoffset/mal/pkg/mal/parser"
	"github.com/chosenoffset/mal/pkg/mal/rules"
	"github.com/chosenoffset/mal/pkg/mal/sample"
	"github.com/chosenoffset/mal/pkg/mal/stream"
	"github.com/chosenoffset/mal/pkg/mal/value"
	"github.com/chosenoffset/mal/pkg/mal/vm"
)

// ErrWarm is returned when rules are added after Warm.
var ErrWarm = errors.New("engine is already warm; rules are frozen")

// Rule is one registered metric expression.
type Rule struct {
	Name       string
	Source     string
	Complexity int
}

// Result is the outcome of evaluating one metric.
type Result struct {
	Metric   string
	Value    value.Value
	Err      error
	Duration time.Duration
}

// ResourceLimits bounds what an engine accepts and how much work a cycle
// may do.
type ResourceLimits struct {
	MaxRules          int           // Maximum number of registered rules
	MaxRuleComplexity int           // Maximum AST nodes per rule
	MaxCycleTime      time.Duration // Evaluations not started within this budget fail
	ErrorLogInterval  time.Duration // Minimum spacing of error logs per metric
	ErrorLogBurst     int
	RuntimeHistory    int // Readings kept by the runtime collector
}

func DefaultResourceLimits() *ResourceLimits {
	return &ResourceLimits{
		MaxRules:          1000,
		MaxRuleComplexity: 1000,
		MaxCycleTime:      5 * time.Second,
		ErrorLogInterval:  time.Minute,
		ErrorLogBurst:     3,
		RuntimeHistory:    600,
	}
}

// CompileErrors collects the failures of Warm. Metrics that compiled are
// still published.
type CompileErrors []error

func (e CompileErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d metric(s) failed to compile: %s", len(e), strings.Join(msgs, "; "))
}

func (e CompileErrors) Unwrap() []error { return e }

// Engine compiles metric expressions once and evaluates them against
// snapshots collected on every tick.
type Engine struct {
	rules     []*Rule
	ruleIndex map[string]*Rule
	mutex     sync.RWMutex
	warm      bool

	registry *ops.Registry
	compiler *compiler.Compiler
	cache    *cache.Cache
	emitter  *emit.Registry

	sources          []collect.Source
	runtimeCollector *collect.RuntimeCollector
	httpMetrics      *collect.HTTPMetrics
	stream           *stream.Server
	streamPort       int

	limits   *ResourceLimits
	interval time.Duration
	logger   *log.Logger

	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter
	suppressed map[string]int

	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the evaluation period of Start.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithLimits(l *ResourceLimits) Option {
	return func(e *Engine) {
		if l != nil {
			e.limits = l
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSource adds a collector whose families every cycle evaluates against.
func WithSource(src collect.Source) Option {
	return func(e *Engine) { e.sources = append(e.sources, src) }
}

// WithRegistry replaces the standard operation registry.
func WithRegistry(r *ops.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithStream serves results on port. Zero disables the stream server.
func WithStream(port int) Option {
	return func(e *Engine) { e.streamPort = port }
}

// NewEngine builds an engine with the runtime and HTTP collectors attached
// as sources.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ruleIndex:   make(map[string]*Rule),
		cache:       cache.New(),
		emitter:     emit.NewRegistry(),
		httpMetrics: collect.NewHTTPMetrics(nil),
		limits:      DefaultResourceLimits(),
		interval:    time.Second,
		logger:      log.Default(),
		limiters:    make(map[string]*rate.Limiter),
		suppressed:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = ops.Standard()
	}
	e.compiler = compiler.New(e.registry)
	e.runtimeCollector = collect.NewRuntimeCollector(e.limits.RuntimeHistory, e.interval, nil)
	e.sources = append([]collect.Source{e.runtimeCollector, e.httpMetrics}, e.sources...)

	if e.streamPort > 0 {
		e.stream = stream.NewServer(e.streamPort, e.logger)
		e.stream.SetProgramsProvider(e.Programs)
		e.emitter.RegisterHandler(emit.Success, e.stream)
		e.emitter.RegisterHandler(emit.Failure, e.stream)
	}
	return e
}

// AddRule registers the expression src under name. The expression is
// parsed to enforce the complexity limit; it is compiled by Warm.
func (e *Engine) AddRule(name, src string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.warm {
		return ErrWarm
	}
	if e.limits.MaxRules > 0 && len(e.rules) >= e.limits.MaxRules {
		return &malerr.Error{Kind: malerr.Configuration, Metric: name,
			Message: fmt.Sprintf("maximum number of rules exceeded (%d)", e.limits.MaxRules)}
	}
	if _, dup := e.ruleIndex[name]; dup {
		return &malerr.Error{Kind: malerr.Configuration, Metric: name, Message: "rule already exists"}
	}

	tree, err := parser.Parse(src)
	if err != nil {
		return malerr.WithMetric(malerr.Wrap(malerr.Resolution, err, "cannot parse expression"), name)
	}
	complexity := parser.CountNodes(tree)
	if e.limits.MaxRuleComplexity > 0 && complexity > e.limits.MaxRuleComplexity {
		return &malerr.Error{Kind: malerr.Configuration, Metric: name,
			Message: fmt.Sprintf("rule complexity (%d nodes) exceeds limit (%d)", complexity, e.limits.MaxRuleComplexity)}
	}

	r := &Rule{Name: name, Source: src, Complexity: complexity}
	e.rules = append(e.rules, r)
	e.ruleIndex[name] = r
	return nil
}

// LoadRules registers every rule of the given files. It stops at the first
// rule that cannot be added.
func (e *Engine) LoadRules(files ...*rules.File) error {
	for _, f := range files {
		entries, err := f.Entries()
		if err != nil {
			return errors.WithMessage(err, f.Path)
		}
		for _, entry := range entries {
			if err := e.AddRule(entry.ID, entry.Expression); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadManifest registers every entry of a manifest.
func (e *Engine) LoadManifest(r io.Reader) error {
	entries, err := cache.ParseManifest(r)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := e.AddRule(entry.ID, entry.Expression); err != nil {
			return errors.WithMessagef(err, "manifest line %d", entry.Line)
		}
	}
	return nil
}

// Warm compiles every rule and publishes the program cache. A rule that
// fails to compile is logged and left out; the error returned is a
// CompileErrors listing all of them.
func (e *Engine) Warm() error {
	e.mutex.Lock()
	if e.warm {
		e.mutex.Unlock()
		return cache.ErrAlreadyPublished
	}
	e.warm = true
	pending := make([]*Rule, len(e.rules))
	copy(pending, e.rules)
	e.mutex.Unlock()

	b := cache.NewBuilder(e.compiler)
	for _, r := range pending {
		if err := b.Add(r.Name, r.Source); err != nil {
			e.logger.Printf("ERROR [%s] compile: %v", r.Name, err)
		}
	}
	if err := b.Publish(e.cache); err != nil {
		return err
	}
	e.logger.Printf("Compiled %d of %d rules", b.Len(), len(pending))

	if errs := b.Errors(); len(errs) > 0 {
		return CompileErrors(errs)
	}
	return nil
}

// Cache returns the program cache. It is empty until Warm.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Evaluate runs the program of id against snapshot.
func (e *Engine) Evaluate(id string, snapshot sample.Snapshot) (v value.Value, err error) {
	p, err := e.cache.Lookup(id)
	if err != nil {
		return value.Value{}, err
	}
	return execute(p, snapshot)
}

func execute(p *compiler.Program, snapshot sample.Snapshot) (v value.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &malerr.Error{
				Kind:    malerr.Evaluation,
				Metric:  p.Metric,
				Message: fmt.Sprintf("panic during evaluation: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	return vm.Execute(p, snapshot)
}

// EvaluateAll runs every published program against snapshot. Each metric
// gets its own result; one failing metric does not affect the others.
func (e *Engine) EvaluateAll(snapshot sample.Snapshot) []Result {
	ids := e.cache.IDs()
	results := make([]Result, 0, len(ids))
	limits := e.GetResourceLimits()

	start := time.Now()
	for _, id := range ids {
		if budget := limits.MaxCycleTime; budget > 0 && time.Since(start) > budget {
			results = append(results, Result{
				Metric: id,
				Err: &malerr.Error{Kind: malerr.Evaluation, Metric: id,
					Message: fmt.Sprintf("cycle time budget exceeded (%v)", budget)},
			})
			continue
		}
		t := time.Now()
		v, err := e.Evaluate(id, snapshot)
		results = append(results, Result{Metric: id, Value: v, Err: err, Duration: time.Since(t)})
	}
	return results
}

// RunCycle collects one snapshot from every source, evaluates all metrics
// and dispatches the results.
func (e *Engine) RunCycle() []Result {
	snapshot := collect.Merge(e.sources...)
	cycle := ulid.Make()
	results := e.EvaluateAll(snapshot)

	now := time.Now()
	for _, r := range results {
		if r.Err != nil {
			e.logError(r.Metric, r.Err)
		}
		if err := e.emitter.Dispatch(emit.NewEvent(cycle, r.Metric, r.Value, r.Err, now)); err != nil {
			e.logger.Printf("ERROR [%s] dispatch: %v", r.Metric, err)
		}
	}
	return results
}

// logError logs err unless the metric has logged too often lately. The
// number of skipped lines is reported with the next one.
func (e *Engine) logError(metric string, err error) {
	limits := e.GetResourceLimits()

	e.limiterMu.Lock()
	lim, ok := e.limiters[metric]
	if !ok {
		lim = rate.NewLimiter(rate.Every(limits.ErrorLogInterval), limits.ErrorLogBurst)
		e.limiters[metric] = lim
	}
	if !lim.Allow() {
		e.suppressed[metric]++
		e.limiterMu.Unlock()
		return
	}
	skipped := e.suppressed[metric]
	delete(e.suppressed, metric)
	e.limiterMu.Unlock()

	if skipped > 0 {
		e.logger.Printf("ERROR [%s] %v (%d similar errors suppressed)", metric, err, skipped)
		return
	}
	e.logger.Printf("ERROR [%s] %v", metric, err)
}

// OnResult registers h for results of the given kind.
func (e *Engine) OnResult(kind emit.Kind, h emit.Handler) {
	e.emitter.RegisterHandler(kind, h)
}

// Start warms the engine if needed and evaluates every interval until
// Stop.
func (e *Engine) Start() error {
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return nil
	}
	warm := e.warm
	e.mutex.Unlock()

	if !warm {
		if err := e.Warm(); err != nil {
			var ce CompileErrors
			if !errors.As(err, &ce) {
				return err
			}
		}
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.running {
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})

	e.runtimeCollector.Start()
	if e.stream != nil {
		if err := e.stream.Start(); err != nil {
			e.logger.Printf("Stream server error: %v", err)
		}
	}
	go e.evaluationLoop(e.stopCh, e.done)
	return nil
}

func (e *Engine) Stop() {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.done
	e.mutex.Unlock()

	<-done
	e.runtimeCollector.Stop()
	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			e.logger.Printf("Stream server shutdown error: %v", err)
		}
	}
}

func (e *Engine) IsRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

func (e *Engine) evaluationLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.RunCycle()
		case <-stop:
			return
		}
	}
}

// HTTPMiddleware records requests into the http_* families.
func (e *Engine) HTTPMiddleware() func(http.Handler) http.Handler {
	return e.httpMetrics.Middleware
}

// Rules returns a copy of the registered rules in registration order.
func (e *Engine) Rules() []Rule {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = *r
	}
	return out
}

// Programs describes every published program, sorted by metric.
func (e *Engine) Programs() []stream.Program {
	ids := e.cache.IDs()
	out := make([]stream.Program, 0, len(ids))
	for _, id := range ids {
		p, err := e.cache.Lookup(id)
		if err != nil {
			continue
		}
		out = append(out, stream.Program{Metric: id, Source: p.Source, Disassembly: p.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

func (e *Engine) SetResourceLimits(limits *ResourceLimits) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if limits != nil {
		e.limits = limits
	}
}

func (e *Engine) GetResourceLimits() *ResourceLimits {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	l := *e.limits
	return &l
}
