package runner

import "context"

// DependencyValueResolver turns a declared Dependencies map into the
// resolved Deps values a task/hook/middleware body receives. Implemented by
// the boot controller (run.go), which is the only component that knows
// every resource's live value and every task's callable wrapper.
type DependencyValueResolver func(deps Dependencies) (Deps, error)

// TaskRunner executes a task through its compiled middleware chain,
// handling input validation and the beforeRun/afterRun/onError lifecycle
// events. Adapted from the teacher's flow.go Flow.Run, which threaded a
// single ExecutionCtx through extension Wrap calls; here the chain is
// compiled ahead of time by MiddlewareManager and TaskRunner only drives it.
type TaskRunner struct {
	middleware   *MiddlewareManager
	events       *EventManager
	logger       *Logger
	resolveDeps  DependencyValueResolver
}

func NewTaskRunner(middleware *MiddlewareManager, events *EventManager, logger *Logger) *TaskRunner {
	return &TaskRunner{middleware: middleware, events: events, logger: logger}
}

// SetDependencyResolver wires the boot controller's value resolver in after
// construction, since resource values only exist once boot reaches the
// task-wiring step.
func (tr *TaskRunner) SetDependencyResolver(f DependencyValueResolver) {
	tr.resolveDeps = f
}

// Run executes task with input, driving its compiled middleware chain and
// lifecycle events. A returned error that an onError listener suppressed
// resolves to (nil, nil), matching the spec's "suppression returns
// undefined" rule.
func (tr *TaskRunner) Run(ctx context.Context, task *TaskDefinition, input any) (any, error) {
	deps, err := tr.resolveDeps(task.resolveDependencies())
	if err != nil {
		return nil, err
	}

	chain := tr.middleware.CompileTaskChain(task)
	mwInput := MiddlewareInput{TaskDefinition: task}

	result, runErr := tr.middleware.RunChain(ctx, MiddlewareKindTask, task.id, chain, mwInput, deps, input,
		func(ctx context.Context, in any) (any, error) {
			return tr.runBody(ctx, task, in, deps)
		})

	if runErr == nil {
		return result, nil
	}
	return tr.handleError(ctx, task, runErr)
}

func (tr *TaskRunner) runBody(ctx context.Context, task *TaskDefinition, input any, deps Deps) (any, error) {
	validated := input
	if task.inputSchema != nil {
		v, err := validateWith(task.inputSchema, KindTask, task.id, input)
		if err != nil {
			return nil, err
		}
		validated = v
	}

	if err := tr.events.Emit(ctx, task.beforeRun.id, validated, task.id); err != nil {
		return nil, err
	}

	out, err := task.run(ctx, validated, deps)
	if err != nil {
		return nil, &UserError{frameworkError: newFrameworkError(), ComponentKind: KindTask, ID: task.id, Cause: err}
	}

	if err := tr.events.Emit(ctx, task.afterRun.id, out, task.id); err != nil {
		return nil, err
	}
	return out, nil
}

func (tr *TaskRunner) handleError(ctx context.Context, task *TaskDefinition, taskErr error) (any, error) {
	rec, emitErr := tr.events.EmitRecord(ctx, task.onError.id, taskErr, task.id)
	if emitErr != nil {
		tr.logger.Error("onError listener failed", emitErr, map[string]any{"task": task.id})
		return nil, taskErr
	}
	if rec != nil && rec.suppressed() {
		return nil, nil
	}
	return nil, taskErr
}

// RunTask is the type-erased call surface exposed as RunResult.runTask for a
// task whose generic type parameters are not known at the call site.
func (tr *TaskRunner) RunTask(ctx context.Context, task *TaskDefinition, input any) (any, error) {
	return tr.Run(ctx, task, input)
}
