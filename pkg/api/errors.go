package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkflowLoaded is returned when the router has no workflow graph.
	ErrNoWorkflowLoaded = errors.New("no workflow loaded")

	// ErrNoEntryPoint is returned when the loaded graph has no entry application.
	ErrNoEntryPoint = errors.New("no entry point defined in workflow")

	// ErrMissingParameter is returned when a request lacks a required parameter.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrUnknownApp is returned when a transition targets an app with no port.
	ErrUnknownApp = errors.New("unknown app")

	// ErrSessionNotFound is returned when a session id or token does not resolve.
	ErrSessionNotFound = errors.New("workflow session not found")

	// ErrVersionConflict is returned when a session was saved by someone else
	// since it was read.
	ErrVersionConflict = errors.New("workflow session modified concurrently")
)

// DefinitionError reports a malformed or incomplete workflow definition.
type DefinitionError struct {
	Source string
	Reason string
	Err    error
}

func (e *DefinitionError) Error() string {
	msg := "invalid workflow definition"
	if e.Source != "" {
		msg += " " + e.Source
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// StorageError wraps a failure of the underlying session storage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// UnknownAppError names the transition target that has no registered port.
// It matches ErrUnknownApp with errors.Is.
type UnknownAppError struct {
	App string
}

func (e *UnknownAppError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownApp, e.App)
}

func (e *UnknownAppError) Is(target error) bool { return target == ErrUnknownApp }
