// Package cqlerr defines the error kinds shared by schema reconciliation,
// statement compilation and execution.
package cqlerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InvalidSchema     Kind = "invalid_schema"
	InvalidTableName  Kind = "invalid_table_name"
	SchemaQueryFailed Kind = "schema_query_failed"
	SchemaMismatch    Kind = "schema_mismatch"
	DDLFailed         Kind = "ddl_failed"

	InvalidFindOperator     Kind = "invalid_find_operator"
	InvalidContainsOperator Kind = "invalid_contains_operator"
	InvalidOrder            Kind = "invalid_order"
	InvalidLimit            Kind = "invalid_limit"
	InvalidUpdateOperator   Kind = "invalid_update_operator"

	ValidationFailed   Kind = "validation_failed"
	UnsetRequiredField Kind = "unset_required_field"
	UnsetKeyField      Kind = "unset_key_field"

	InvalidHook      Kind = "invalid_hook"
	BeforeHookFailed Kind = "before_hook_failed"
	AfterHookFailed  Kind = "after_hook_failed"

	WriteFailed Kind = "write_failed"
	QueryFailed Kind = "query_failed"
)

type Error struct {
	Kind    Kind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := string(e.Kind)
	if e.Message != "" {
		base = fmt.Sprintf("%s: %s", base, e.Message)
	}
	if e.Field != "" {
		base = fmt.Sprintf("%s (field=%s)", base, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. It lets callers
// write errors.Is(err, &cqlerr.Error{Kind: cqlerr.SchemaMismatch}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Field(kind Kind, field, msg string) *Error {
	return &Error{Kind: kind, Field: field, Message: msg}
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
