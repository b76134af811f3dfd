// Package emit delivers evaluation results to registered handlers.
package emit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chosenoffset/mal/pkg/mal/value"
)

// Kind separates successful evaluations from failed ones.
type Kind string

const (
	Success Kind = "success"
	Failure Kind = "error"
)

// Event is the outcome of evaluating one metric in one cycle.
type Event struct {
	ID        ulid.ULID
	Cycle     ulid.ULID
	Kind      Kind
	Metric    string
	Value     value.Value
	Err       error
	Timestamp time.Time
}

// NewEvent builds the event for one evaluation. A non-nil err makes it a
// Failure.
func NewEvent(cycle ulid.ULID, metric string, v value.Value, err error, at time.Time) Event {
	kind := Success
	if err != nil {
		kind = Failure
	}
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()),
		Cycle:     cycle,
		Kind:      kind,
		Metric:    metric,
		Value:     v,
		Err:       err,
		Timestamp: at,
	}
}

type Handler interface {
	Handle(ev Event) error
}

// FuncHandler adapts a function to Handler.
type FuncHandler func(ev Event) error

func (f FuncHandler) Handle(ev Event) error { return f(ev) }

// LogHandler writes one line per event.
type LogHandler struct {
	logger *log.Logger
}

func NewLogHandler(logger *log.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(ev Event) error {
	var line string
	if ev.Kind == Failure {
		line = fmt.Sprintf("ERROR [%s]: %v", ev.Metric, ev.Err)
	} else {
		line = fmt.Sprintf("RESULT [%s]: %s", ev.Metric, ev.Value)
	}
	if h.logger == nil {
		log.Print(line)
	} else {
		h.logger.Print(line)
	}
	return nil
}

// Registry fans events out to the handlers registered for their kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Kind][]Handler),
	}
}

func (r *Registry) RegisterHandler(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

// Dispatch hands ev to every handler of its kind. An event nobody handles
// is dropped. The first handler error is returned after all handlers ran.
func (r *Registry) Dispatch(ev Event) error {
	r.mu.RLock()
	handlers := make([]Handler, len(r.handlers[ev.Kind]))
	copy(handlers, r.handlers[ev.Kind])
	r.mu.RUnlock()

	var first error
	for _, h := range handlers {
		if err := h.Handle(ev); err != nil && first == nil {
			first = fmt.Errorf("handler error for %s: %w", ev.Kind, err)
		}
	}
	return first
}
