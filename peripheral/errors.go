package peripheral

import (
	"errors"
	"fmt"

	"github.com/srg/blex/gatt"
)

// Failure taxonomy of the runtime.
//
// Configuration mistakes (out-of-range tunables, invalid declarations) and
// resource exhaustion (the stack refusing to create an attribute) are error
// returns: non-fatal, prior state untouched. Protocol-invariant violations
// (unsubscribe without subscribe, short write payload) panic: they indicate a
// stack bug or a hostile peer, and continuing would corrupt runtime state.

var (
	// ErrInitInProgress is returned when Init is re-entered while the first
	// call is still running.
	ErrInitInProgress = errors.New("initialization in progress")
)

// ConfigurationError reports an invalid tunable or declaration. The previous
// configuration is left untouched; values are never clamped.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Param, e.Reason)
}

// Is allows errors.Is matching on the parameter alone.
func (e *ConfigurationError) Is(target error) bool {
	var other *ConfigurationError
	if !errors.As(target, &other) {
		return false
	}
	return other.Param == "" || other.Param == e.Param
}

func configErrf(param, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a lookup miss against the published registry.
type NotFoundError struct {
	Type  string
	Value string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.Value)
}

// ResourceError reports a stack-level creation failure. Initialization
// aborts without starting any service.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource failure: %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ProtocolViolation is the panic value raised on a fatal invariant breach.
type ProtocolViolation struct {
	Characteristic gatt.UUID
	Reason         string
}

func (e *ProtocolViolation) Error() string {
	if e.Characteristic != "" {
		return fmt.Sprintf("protocol violation: characteristic %s: %s", e.Characteristic.Short(), e.Reason)
	}
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

func violate(char gatt.UUID, format string, args ...interface{}) {
	panic(&ProtocolViolation{Characteristic: char, Reason: fmt.Sprintf(format, args...)})
}
