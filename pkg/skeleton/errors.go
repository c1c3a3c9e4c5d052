/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import (
	"errors"
	"strings"
)

var (
	ErrUnknownKind = errors.New("unknown kind")
	ErrUnknownBone = errors.New("unknown bone")

	// ErrLockInconsistency is the lock-list bookkeeping invariant violation:
	// a referenced entity is missing, or its incoming-lock list disagrees with
	// the outgoing list. The surrounding transaction aborts.
	ErrLockInconsistency = errors.New("relational lock bookkeeping is inconsistent")

	// ErrProtectedByLocks refuses deletion of an entity referenced under a
	// PreventDeletion policy.
	ErrProtectedByLocks = errors.New("entity is referenced under a PreventDeletion lock")

	ErrUniqueValueTaken = errors.New("unique value is already taken")

	// ErrKindMismatch: the referenced entity exists, its kind does not match
	// the bone declaration.
	ErrKindMismatch = errors.New("referenced entity kind mismatch")

	// ErrSingleValue: appending to a bone that holds at most one value.
	ErrSingleValue = errors.New("bone holds a single value")
)

// Severity classifies a client-input field error.
type Severity int

const (
	Severity_null Severity = iota

	// Severity_NotSet: the field is absent from the input. Blocking only when
	// the bone is required.
	Severity_NotSet

	// Severity_Empty: the field resolved to no valid value. Blocking only when
	// the bone is required.
	Severity_Empty

	// Severity_Invalid: a value is present and fails resolution, type or
	// policy checks. Always blocking.
	Severity_Invalid
)

func (s Severity) String() string {
	switch s {
	case Severity_NotSet:
		return "NotSet"
	case Severity_Empty:
		return "Empty"
	case Severity_Invalid:
		return "Invalid"
	}
	return "null"
}

// FieldError is one client-input validation failure. Errors are accumulated
// across candidates and sub-fields, a submission reports all problems at once.
type FieldError struct {
	Severity Severity
	Path     []string
	Message  string
}

func NewFieldError(severity Severity, message string, path ...string) FieldError {
	return FieldError{Severity: severity, Path: path, Message: message}
}

// FieldPath returns the dotted field path, e.g. «assignee.0.role».
func (fe FieldError) FieldPath() string {
	return strings.Join(fe.Path, ".")
}

func (fe FieldError) String() string {
	if len(fe.Path) == 0 {
		return fe.Severity.String() + ": " + fe.Message
	}
	return fe.Severity.String() + " «" + fe.FieldPath() + "»: " + fe.Message
}

// prefixPaths prepends segments to every error path in errs.
func prefixPaths(errs []FieldError, segments ...string) []FieldError {
	for i := range errs {
		errs[i].Path = append(append([]string{}, segments...), errs[i].Path...)
	}
	return errs
}
