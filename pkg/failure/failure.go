// Package failure classifies the errors produced by each pipeline stage so the
// coordinator can branch on a kind instead of on a nil result.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind identifies which stage failed and why.
type Kind string

const (
	ConfigurationMissing     Kind = "configuration_missing"
	ConfigurationInvalid     Kind = "configuration_invalid"
	ClientConstructionFailed Kind = "client_construction_failed"
	RequestFormationFailed   Kind = "request_formation_failed"
	APIRejected              Kind = "api_rejected"
	ConnectivityFailed       Kind = "connectivity_failed"
	TransformationFailed     Kind = "transformation_failed"
	PersistenceFailed        Kind = "persistence_failed"
	Unclassified             Kind = "unclassified"
)

// Error is a stage error tagged with its Kind and the operation that raised it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: APIRejected}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap tags err with kind. An error that already carries a kind keeps it.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, or Unclassified when err was never tagged.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unclassified
}

// Classify tags an error coming back from a remote call. Already tagged errors are
// returned unchanged; network and deadline errors become ConnectivityFailed.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if isConnectivity(err) {
		return &Error{Kind: ConnectivityFailed, Op: op, Err: err}
	}
	return &Error{Kind: Unclassified, Op: op, Err: err}
}

func isConnectivity(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
