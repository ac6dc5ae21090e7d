// Package apperrors holds the error taxonomy shared by the services and the
// HTTP layer. Services return these types; only the api package turns them
// into status codes.
package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// AuthorizationError reports a caller that is not allowed to act on a resource.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

// SignatureError reports a webhook delivery whose authenticity could not be
// established. The payload must not be used once this is returned.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string {
	if e.Err == nil {
		return "invalid webhook signature"
	}
	return "invalid webhook signature: " + e.Err.Error()
}

func (e *SignatureError) Unwrap() error { return e.Err }

// IllegalTransitionError reports a state machine violation.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Entity, e.From, e.To)
}

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func NotFound(resource string, id interface{}) error {
	if id == nil {
		return &NotFoundError{Resource: resource}
	}
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

func Forbidden(format string, args ...interface{}) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

func Signature(err error) error {
	return &SignatureError{Err: err}
}

func IllegalTransition(entity, from, to string) error {
	return &IllegalTransitionError{Entity: entity, From: from, To: to}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsNotFoundResource reports whether err is a NotFoundError for the given resource.
func IsNotFoundResource(err error, resource string) bool {
	var target *NotFoundError
	return errors.As(err, &target) && target.Resource == resource
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsSignature(err error) bool {
	var target *SignatureError
	return errors.As(err, &target)
}

func IsIllegalTransition(err error) bool {
	var target *IllegalTransitionError
	return errors.As(err, &target)
}
