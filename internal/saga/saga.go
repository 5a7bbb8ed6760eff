// Package saga runs multi-step writes against a store that offers no
// multi-statement atomicity. Each forward step that succeeds pushes its
// compensation; on the first failure the pushed compensations run in reverse.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

var (
	// ErrAborted marks a saga that failed and was fully compensated: the
	// operation had no lasting effect.
	ErrAborted = errors.New("saga aborted, no effect")

	// ErrCompensationFailed marks a saga whose rollback itself failed. State may
	// be inconsistent and needs manual reconciliation.
	ErrCompensationFailed = errors.New("saga compensation failed")
)

// Step is one forward write with an optional compensating write.
type Step struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// Saga is an ordered list of steps plus the identifiers needed to reconcile
// by hand if compensation fails.
type Saga struct {
	name  string
	steps []Step
	refs  map[string]string
}

// New creates an empty saga.
func New(name string) *Saga {
	return &Saga{name: name, refs: make(map[string]string)}
}

// Name returns the saga name.
func (s *Saga) Name() string { return s.name }

// Add appends a step.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Ref records an identifier involved in the saga, e.g. "wallet_id".
func (s *Saga) Ref(key, value string) {
	s.refs[key] = value
}

// Refs returns a copy of the recorded identifiers.
func (s *Saga) Refs() map[string]string {
	out := make(map[string]string, len(s.refs))
	for k, v := range s.refs {
		out[k] = v
	}
	return out
}

// Run executes the steps in order. A nil error means every step succeeded.
// Otherwise the result is an *AbortedError when all compensations succeeded,
// or a *CompensationError when at least one did not.
//
// Compensations run on a context detached from ctx's cancellation.
func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		if err := step.Do(ctx); err != nil {
			return s.compensate(ctx, step.Name, err, done)
		}
		done = append(done, step)
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, failedStep string, cause error, done []Step) error {
	undoCtx := context.WithoutCancel(ctx)
	var failures []CompensationFailure
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Undo == nil {
			continue
		}
		if err := step.Undo(undoCtx); err != nil {
			failures = append(failures, CompensationFailure{Step: step.Name, Err: err})
		}
	}
	if len(failures) == 0 {
		return &AbortedError{Saga: s.name, Step: failedStep, Err: cause}
	}
	return &CompensationError{Saga: s.name, Step: failedStep, Err: cause, Failures: failures, Refs: s.Refs()}
}

// AbortedError reports a failed forward step whose predecessors were all undone.
type AbortedError struct {
	Saga string
	Step string
	Err  error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("%s: step %s failed: %v", e.Saga, e.Step, e.Err)
}

// Unwrap exposes both ErrAborted and the step's own error.
func (e *AbortedError) Unwrap() []error {
	return []error{ErrAborted, e.Err}
}

// CompensationFailure is one undo that did not succeed.
type CompensationFailure struct {
	Step string
	Err  error
}

// CompensationError is fatal: a forward step failed and rolling back the
// earlier steps failed too.
type CompensationError struct {
	Saga     string
	Step     string
	Err      error
	Failures []CompensationFailure
	Refs     map[string]string
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Step, f.Err))
	}
	keys := make([]string, 0, len(e.Refs))
	for k := range e.Refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	refs := make([]string, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, k+"="+e.Refs[k])
	}
	return fmt.Sprintf("%s: step %s failed (%v); compensation failed [%s]; refs [%s]",
		e.Saga, e.Step, e.Err, strings.Join(parts, "; "), strings.Join(refs, " "))
}

// Unwrap exposes ErrCompensationFailed and the original step error.
func (e *CompensationError) Unwrap() []error {
	return []error{ErrCompensationFailed, e.Err}
}

// FailedSteps lists the names of the compensations that did not run cleanly.
func (e *CompensationError) FailedSteps() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Step
	}
	return out
}

// LogFailure records a saga error at the level its outcome deserves. Aborted
// sagas left no trace and are logged as warnings; compensation failures need
// someone to reconcile by hand and carry the step names and ids.
func LogFailure(logger *slog.Logger, err error) {
	if logger == nil || err == nil {
		return
	}
	var comp *CompensationError
	if errors.As(err, &comp) {
		attrs := []any{
			slog.String("saga", comp.Saga),
			slog.String("step", comp.Step),
			slog.Any("failed_compensations", comp.FailedSteps()),
			slog.Any("error", comp.Err),
		}
		for k, v := range comp.Refs {
			attrs = append(attrs, slog.String(k, v))
		}
		logger.Error("saga compensation failed, manual reconciliation required", attrs...)
		return
	}
	var aborted *AbortedError
	if errors.As(err, &aborted) {
		logger.Warn("saga aborted",
			slog.String("saga", aborted.Saga),
			slog.String("step", aborted.Step),
			slog.Any("error", aborted.Err),
		)
	}
}
