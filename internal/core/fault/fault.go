// Package fault defines the closed set of failure kinds raised by the entity
// composition core. Errors are built at the failure site with contextual
// metadata and compared by kind:
//
//	if errors.Is(err, fault.EntityLimitReached) { ... }
package fault

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind identifies a failure category. Kind implements error so a bare kind
// can be used as an errors.Is target.
type Kind uint8

const (
	// Unknown is returned by KindOf for errors that did not originate here.
	Unknown Kind = iota
	// AlreadyAssociated: an entity is added to a container while it already
	// belongs to one.
	AlreadyAssociated
	// EngineShutdown: a state change was requested on a stopped engine.
	EngineShutdown
	// EntityLimitReached: a container is at its configured maximum.
	EntityLimitReached
	// InvalidEntityType: a capability does not extend the base entity capability.
	InvalidEntityType
	// EntityNotAlive: an operation targeted an entity that is not alive.
	EntityNotAlive
	// ExportWithoutTransfer: an entity left its source container but the
	// destination rejected it. The entity is orphaned.
	ExportWithoutTransfer
	// CannotSelfTransfer: source and destination containers are the same.
	CannotSelfTransfer
	// InvalidAttributeTypeDeclaration: an attribute type was declared without
	// usable type information.
	InvalidAttributeTypeDeclaration
)

var kindNames = map[Kind]string{
	Unknown:                         "unknown",
	AlreadyAssociated:               "entity is already associated",
	EngineShutdown:                  "engine has already been stopped",
	EntityLimitReached:              "entity limit has been reached",
	InvalidEntityType:               "entity type is invalid",
	EntityNotAlive:                  "entity is no longer alive",
	ExportWithoutTransfer:           "entity exported but not transferred",
	CannotSelfTransfer:              "cannot transfer to the same container",
	InvalidAttributeTypeDeclaration: "attribute type must be declared with concrete type information",
}

// String returns the human-readable description of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error implements error.
func (k Kind) Error() string {
	return k.String()
}

// Recoverable reports whether the caller can handle the failure by checking
// state and retrying. ExportWithoutTransfer leaves the system inconsistent
// and needs external intervention.
func (k Kind) Recoverable() bool {
	return k != ExportWithoutTransfer
}

// Error is a failure raised by the core, carrying its kind and the context
// it was raised in.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// New builds an error of the given kind. Metadata is given as key/value pairs.
func New(kind Kind, kv ...string) *Error {
	return &Error{
		Kind:     kind,
		Message:  kind.String(),
		Metadata: pairs(kv),
	}
}

// Wrap builds an error of the given kind caused by another error.
func Wrap(kind Kind, cause error, kv ...string) *Error {
	e := New(kind, kv...)
	e.Cause = cause
	return e
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Metadata) > 0 {
		keys := slices.Sorted(maps.Keys(e.Metadata))
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(e.Metadata[k])
		}
		b.WriteByte(')')
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

// Is matches by kind, against either a Kind or another *Error.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of the outermost fault in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// IsRecoverable reports whether err may be handled by the caller. Errors that
// did not originate here are treated as recoverable.
func IsRecoverable(err error) bool {
	return KindOf(err).Recoverable()
}

func pairs(kv []string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
