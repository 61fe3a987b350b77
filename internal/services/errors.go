package services

import (
	"errors"
	"fmt"
)

// ValidationError represents a malformed or incomplete payload
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}

// NotFoundError represents a missing request, pharmacy, user, region or city
type NotFoundError struct {
	Resource string `json:"resource"`
	ID       string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) (*NotFoundError, bool) {
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return notFoundErr, true
	}
	return nil, false
}

// AuthorizationError represents an actor lacking the role or membership an action needs
type AuthorizationError struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to %s: %s", e.Action, e.Message)
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(action, message string) *AuthorizationError {
	return &AuthorizationError{Action: action, Message: message}
}

// IsAuthorizationError checks if an error is an AuthorizationError
func IsAuthorizationError(err error) (*AuthorizationError, bool) {
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// ConflictError represents a resource that is no longer in the expected state
type ConflictError struct {
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

// NewConflictError creates a new conflict error
func NewConflictError(resource, message string) *ConflictError {
	return &ConflictError{Resource: resource, Message: message}
}

// IsConflictError checks if an error is a ConflictError
func IsConflictError(err error) (*ConflictError, bool) {
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return conflictErr, true
	}
	return nil, false
}

// DependencyError represents a failure of an external collaborator
type DependencyError struct {
	Dependency string `json:"dependency"`
	Err        error  `json:"-"`
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// NewDependencyError creates a new dependency error
func NewDependencyError(dependency string, err error) *DependencyError {
	return &DependencyError{Dependency: dependency, Err: err}
}

// IsDependencyError checks if an error is a DependencyError
func IsDependencyError(err error) (*DependencyError, bool) {
	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return depErr, true
	}
	return nil, false
}

// ErrInvalidCredentials is returned when a login does not match an account
var ErrInvalidCredentials = errors.New("invalid phone or password")
