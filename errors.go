package runner

import (
	"fmt"
	"runtime/debug"

	"github.com/bluelibs/runner-go/internal/schema"
)

// Kind identifies which kind of component a definition is: one of the four
// primitives, the two derived kinds (hook, tag), an error, or an async
// context.
type Kind string

const (
	KindTask         Kind = "task"
	KindResource     Kind = "resource"
	KindEvent        Kind = "event"
	KindHook         Kind = "hook"
	KindMiddleware   Kind = "middleware"
	KindTag          Kind = "tag"
	KindError        Kind = "error"
	KindAsyncContext Kind = "asyncContext"
)

// frameworkError is embedded by every error kind below; it captures a stack
// trace at construction time the way the teacher's CreateResolveError does.
type frameworkError struct {
	stack []byte
}

func newFrameworkError() frameworkError {
	return frameworkError{stack: debug.Stack()}
}

// Stack returns the stack trace captured when the error was created.
func (e frameworkError) Stack() []byte { return e.stack }

// ValidationError reports a schema failure on task input, resource config,
// event payload, or middleware config.
type ValidationError struct {
	frameworkError
	ComponentKind Kind
	ID            string
	Cause         error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s %q: %v", e.ComponentKind, e.ID, e.Cause)
}
func (e *ValidationError) Unwrap() error { return e.Cause }
func (e *ValidationError) Is(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

func newValidationError(kind Kind, id string, cause error) *ValidationError {
	return &ValidationError{frameworkError: newFrameworkError(), ComponentKind: kind, ID: id, Cause: cause}
}

// validateWith runs s.Parse(input) and wraps any failure as *ValidationError.
func validateWith(s schema.Schema, kind Kind, id string, input any) (any, error) {
	if s == nil {
		return input, nil
	}
	out, err := s.Parse(input)
	if err != nil {
		return nil, newValidationError(kind, id, err)
	}
	return out, nil
}

// CircularDependencyError is raised at boot when the dependency graph
// contains a cycle; Path lists the cycle in traversal order, first==last.
type CircularDependencyError struct {
	frameworkError
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %v", e.Path)
}
func (e *CircularDependencyError) Is(err error) bool {
	_, ok := err.(*CircularDependencyError)
	return ok
}

// UnknownDependencyError is raised when a definition references an id that
// was never registered.
type UnknownDependencyError struct {
	frameworkError
	From string
	To   string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%q depends on unregistered id %q", e.From, e.To)
}
func (e *UnknownDependencyError) Is(err error) bool {
	_, ok := err.(*UnknownDependencyError)
	return ok
}

// OverrideTargetMissingError is raised when an override targets an id that
// was never registered.
type OverrideTargetMissingError struct {
	frameworkError
	Target string
}

func (e *OverrideTargetMissingError) Error() string {
	return fmt.Sprintf("override target %q was never registered", e.Target)
}
func (e *OverrideTargetMissingError) Is(err error) bool {
	_, ok := err.(*OverrideTargetMissingError)
	return ok
}

// LockdownViolationError is raised when the store gets a new registration or
// the event manager a new listener after `ready`. Interceptor registration on
// the event manager and on the middleware manager is not checked against
// lockdown.
type LockdownViolationError struct {
	frameworkError
	Operation string
}

func (e *LockdownViolationError) Error() string {
	return fmt.Sprintf("cannot %s: store is locked after boot", e.Operation)
}
func (e *LockdownViolationError) Is(err error) bool {
	_, ok := err.(*LockdownViolationError)
	return ok
}

// EventCycleError is raised when an emission re-enters an event id already
// in flight on the same causal chain.
type EventCycleError struct {
	frameworkError
	EventID string
	Chain   []string
}

func (e *EventCycleError) Error() string {
	return fmt.Sprintf("event %q re-entered its own causal chain: %v", e.EventID, e.Chain)
}
func (e *EventCycleError) Is(err error) bool {
	_, ok := err.(*EventCycleError)
	return ok
}

// DeadlockError is raised when a Queue's task synchronously re-enqueues onto
// the same queue it is running inside.
type DeadlockError struct {
	frameworkError
}

func (e *DeadlockError) Error() string { return "deadlock: nested run() on the same queue" }
func (e *DeadlockError) Is(err error) bool {
	_, ok := err.(*DeadlockError)
	return ok
}

// TimeoutError is raised by semaphore acquisition, queue tasks, or
// middleware-imposed timeouts.
type TimeoutError struct {
	frameworkError
	Operation string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout waiting for %s", e.Operation) }
func (e *TimeoutError) Is(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}

// DisposedError is raised when a disposed Semaphore or Queue is used again.
type DisposedError struct {
	frameworkError
	Component string
}

func (e *DisposedError) Error() string { return fmt.Sprintf("%s is disposed", e.Component) }
func (e *DisposedError) Is(err error) bool {
	_, ok := err.(*DisposedError)
	return ok
}

// MissingContextError is raised when AsyncContext.Use is called outside any
// Provide scope.
type MissingContextError struct {
	frameworkError
	ContextID string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("async context %q has no value: use() without provide()", e.ContextID)
}
func (e *MissingContextError) Is(err error) bool {
	_, ok := err.(*MissingContextError)
	return ok
}

// ContractViolationError describes a tag output-contract mismatch. No code
// path in this module constructs it: a resource whose init result fails its
// resultSchema gets a *ValidationError instead (see ResourceManager.Init).
type ContractViolationError struct {
	frameworkError
	TagID string
	Cause error
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("tag %q output contract violated: %v", e.TagID, e.Cause)
}
func (e *ContractViolationError) Unwrap() error { return e.Cause }
func (e *ContractViolationError) Is(err error) bool {
	_, ok := err.(*ContractViolationError)
	return ok
}

// UserError wraps any error returned by user-provided run/init/dispose code,
// preserving the original via Unwrap.
type UserError struct {
	frameworkError
	ComponentKind Kind
	ID            string
	Cause         error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s %q failed: %v", e.ComponentKind, e.ID, e.Cause)
}
func (e *UserError) Unwrap() error { return e.Cause }
func (e *UserError) Is(err error) bool {
	_, ok := err.(*UserError)
	return ok
}
