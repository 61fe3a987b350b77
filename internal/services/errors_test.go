package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsSurviveWrapping(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	wrapped := fmt.Errorf("create request: %w", NewDependencyError("blob store", cause))

	dep, ok := IsDependencyError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "blob store", dep.Dependency)
	assert.ErrorIs(t, wrapped, cause)

	_, ok = IsConflictError(wrapped)
	assert.False(t, ok)

	conflict := fmt.Errorf("accept: %w", NewConflictError("request", "request is no longer available"))
	c, ok := IsConflictError(conflict)
	assert.True(t, ok)
	assert.Equal(t, "request", c.Resource)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "zone: is required", NewValidationError("zone", "is required").Error())
	assert.Equal(t, "request not found: 42", NewNotFoundError("request", "42").Error())
	assert.Contains(t, NewAuthorizationError("accept request", "pharmacy role required").Error(), "accept request")
	assert.Contains(t, NewConflictError("request", "taken").Error(), "taken")
}
