package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("bad input")
	err := newValidationError(KindTask, "app.tasks.a", cause)
	assert.ErrorIs(t, err, cause)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "app.tasks.a")
}

func TestUserErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := &UserError{ComponentKind: KindResource, ID: "app.resources.db", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "app.resources.db")
}

func TestContractViolationErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("shape mismatch")
	err := &ContractViolationError{TagID: "app.tags.http", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestErrorIsMatchersDistinguishKinds(t *testing.T) {
	var timeoutErr error = &TimeoutError{Operation: "semaphore"}
	var deadlockErr error = &DeadlockError{}

	assert.True(t, errors.Is(timeoutErr, &TimeoutError{}))
	assert.False(t, errors.Is(timeoutErr, &DeadlockError{}))
	assert.True(t, errors.Is(deadlockErr, &DeadlockError{}))
}

func TestDisposedErrorMessageNamesComponent(t *testing.T) {
	err := &DisposedError{Component: "queue"}
	assert.Equal(t, "queue is disposed", err.Error())
}

func TestMissingContextErrorMessageNamesContext(t *testing.T) {
	err := &MissingContextError{ContextID: "app.context.requestID"}
	assert.Contains(t, err.Error(), "app.context.requestID")
}
