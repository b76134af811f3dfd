// Package malerr defines the error kinds raised while compiling and running
// MAL expressions. Every stage returns *Error so callers can tell a broken
// grammar apart from a bad rule, a missing configuration entry, or a failure
// against one data snapshot.
package malerr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an Error. Kinds are comparable with errors.Is:
//
//	if errors.Is(err, malerr.Resolution) { ... }
type Kind int

const (
	// Invariant is an unrecognized parse-tree shape or parameter syntax. It
	// means the grammar and the translator disagree.
	Invariant Kind = iota + 1
	// Resolution is an unknown layer, unknown operation, or static type
	// mismatch found while compiling one expression.
	Resolution
	// Configuration is a lookup of a metric identifier nobody registered.
	Configuration
	// Evaluation is an operation failing against one data snapshot.
	Evaluation
	// Stack is a final operand stack depth other than one.
	Stack
)

func (k Kind) String() string {
	switch k {
	case Invariant:
		return "invariant violation"
	case Resolution:
		return "resolution error"
	case Configuration:
		return "configuration error"
	case Evaluation:
		return "evaluation error"
	case Stack:
		return "stack invariant violation"
	default:
		return "unknown error"
	}
}

func (k Kind) Error() string { return k.String() }

// Fatal reports whether errors of this kind point at a defect in the engine
// itself rather than at a rule or its data.
func (k Kind) Fatal() bool {
	return k == Invariant || k == Stack
}

// Error is the error value returned by every MAL stage.
type Error struct {
	Kind    Kind
	Metric  string // metric identifier, empty when not known yet
	Op      string // operation or node involved
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Metric != "" {
		fmt.Fprintf(&b, " [%s]", e.Metric)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind so errors.Is(err, malerr.Stack) works through
// any amount of wrapping.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New builds an Error of the given kind. Fatal kinds carry a stack trace.
func New(kind Kind, format string, args ...interface{}) error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if kind.Fatal() {
		return errors.WithStack(e)
	}
	return e
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
	if kind.Fatal() {
		return errors.WithStack(e)
	}
	return e
}

// WithMetric attaches a metric identifier to err when it is an *Error that
// does not have one yet. Other errors are wrapped as evaluation errors.
func WithMetric(err error, metric string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Metric == "" {
			e.Metric = metric
		}
		return err
	}
	return &Error{Kind: Evaluation, Metric: metric, Message: "operation failed", Err: err}
}

// WithOp attaches an operation name the same way WithMetric does.
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		return err
	}
	return &Error{Kind: Evaluation, Op: op, Message: "operation failed", Err: err}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
