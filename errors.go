package databind

import (
	"errors"
	"fmt"
)

// MappingError is the fatal failure of one conversion or handler construction.
// It wraps the original cause exactly once, at the top-level call that
// triggered it; nested construction failures are not reported independently.
type MappingError struct {
	Key Key
	Err error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %v", e.Key, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// TypeMismatchError reports a root value whose runtime type is not assignable
// to the explicitly declared root type. Pointer/value forms of the same base
// type are tolerated and never produce this error.
type TypeMismatchError struct {
	Declared Key
	Actual   Key
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("incompatible types: declared root type %s, got %s", e.Declared, e.Actual)
}

// DuplicateConstructionStrategyError reports two construction candidates of
// the same kind registered through the same mechanism for one type. It is
// raised at registration time, not at first use.
type DuplicateConstructionStrategyError struct {
	Key  Key
	Kind CreatorKind
}

func (e *DuplicateConstructionStrategyError) Error() string {
	return fmt.Sprintf("conflicting %s creators for %s", e.Kind, e.Key)
}

// DuplicatePropertyBindingError reports two bound properties of a
// property-driven construction candidate sharing a name. It is raised at
// registration time, not at first use.
type DuplicatePropertyBindingError struct {
	Key      Key
	Property string
}

func (e *DuplicatePropertyBindingError) Error() string {
	return fmt.Sprintf("duplicate creator property %q for %s", e.Property, e.Key)
}

// TransportError is a failure of the document layer itself. It carries the
// document path where it occurred and always propagates unwrapped so that
// positional context stays intact.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("document: %v", e.Err)
	}
	return fmt.Sprintf("document at %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// wrapMapping applies the propagation policy: transport errors and already
// wrapped failures pass through, everything else is wrapped once.
func wrapMapping(key Key, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	var me *MappingError
	if errors.As(err, &me) {
		return err
	}
	return &MappingError{Key: key, Err: err}
}
