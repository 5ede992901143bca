package trigger

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes trigger database errors.
type Code string

const (
	// CodeNamespaceNotFound indicates the namespace does not exist.
	CodeNamespaceNotFound Code = "NAMESPACE_NOT_FOUND"

	// CodeNamespaceAlreadyExists indicates CreateNamespace on an existing name.
	CodeNamespaceAlreadyExists Code = "NAMESPACE_ALREADY_EXISTS"

	// CodeGroupNotFound indicates the trigger group does not exist.
	CodeGroupNotFound Code = "TRIGGER_GROUP_NOT_FOUND"

	// CodeTriggerNotFound indicates the trigger does not exist or was removed.
	CodeTriggerNotFound Code = "TRIGGER_NOT_FOUND"

	// CodeParameterTypeMismatch indicates a foreign value could not be
	// converted to a parameter.
	CodeParameterTypeMismatch Code = "PARAMETER_TYPE_MISMATCH"

	// CodeDuplicateRegistration is reserved. Registration uses replace
	// semantics and never reports it.
	CodeDuplicateRegistration Code = "DUPLICATE_REGISTRATION"

	// CodeGroupInUse indicates a group removal while handles are outstanding.
	CodeGroupInUse Code = "GROUP_IN_USE"

	// CodeDispatchDepthExceeded indicates callbacks re-fired triggers deeper
	// than the configured maximum.
	CodeDispatchDepthExceeded Code = "DISPATCH_DEPTH_EXCEEDED"

	// CodeCallbackFailed indicates an environment reported an error while
	// handling a delivery.
	CodeCallbackFailed Code = "CALLBACK_FAILED"

	// CodeInvalidSchedule indicates a cron expression failed to parse.
	CodeInvalidSchedule Code = "INVALID_SCHEDULE"
)

// Error is the typed failure returned by every database operation.
// The location fields are filled in as far as they are known.
type Error struct {
	Code    Code
	Message string

	Namespace string
	Group     string
	Trigger   string

	// Env and Callback identify the registration for CALLBACK_FAILED.
	Env      EnvID
	Callback string

	Cause error
}

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrNamespaceNotFound      = &Error{Code: CodeNamespaceNotFound}
	ErrNamespaceAlreadyExists = &Error{Code: CodeNamespaceAlreadyExists}
	ErrGroupNotFound          = &Error{Code: CodeGroupNotFound}
	ErrTriggerNotFound        = &Error{Code: CodeTriggerNotFound}
	ErrParameterTypeMismatch  = &Error{Code: CodeParameterTypeMismatch}
	ErrGroupInUse             = &Error{Code: CodeGroupInUse}
	ErrDispatchDepthExceeded  = &Error{Code: CodeDispatchDepthExceeded}
	ErrCallbackFailed         = &Error{Code: CodeCallbackFailed}
	ErrInvalidSchedule        = &Error{Code: CodeInvalidSchedule}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var loc []string
	if e.Namespace != "" {
		loc = append(loc, "namespace="+e.Namespace)
	}
	if e.Group != "" {
		loc = append(loc, "group="+e.Group)
	}
	if e.Trigger != "" {
		loc = append(loc, "trigger="+e.Trigger)
	}
	if e.Code == CodeCallbackFailed {
		loc = append(loc, fmt.Sprintf("env=%d", e.Env), "callback="+e.Callback)
	}
	if len(loc) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(loc, ", "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// Path returns the dotted namespace.group.trigger location.
func (e *Error) Path() string {
	return joinPath(e.Namespace, e.Group, e.Trigger)
}

// IsCode reports whether err is, or wraps, an *Error with the given code.
func IsCode(err error, code Code) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsNotFound reports whether err is any of the lookup failures.
func IsNotFound(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	switch te.Code {
	case CodeNamespaceNotFound, CodeGroupNotFound, CodeTriggerNotFound:
		return true
	}
	return false
}

func namespaceNotFound(ns string) *Error {
	return &Error{Code: CodeNamespaceNotFound, Message: "namespace not found", Namespace: ns}
}

func groupNotFound(ns, group string) *Error {
	return &Error{Code: CodeGroupNotFound, Message: "trigger group not found", Namespace: ns, Group: group}
}

func triggerNotFound(ns, group, name string) *Error {
	return &Error{Code: CodeTriggerNotFound, Message: "trigger not found", Namespace: ns, Group: group, Trigger: name}
}

func joinPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}
