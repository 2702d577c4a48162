package client

import (
	"errors"
	"fmt"

	"github.com/mkonduru/flowd/pkg/wire"
)

// Error is the typed failure returned by all client operations. Kind is one
// of the wire error kind constants, so callers can branch on "workflow not
// found" vs "bad input" vs "handler fault" vs transport failure.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func kindIs(err error, kind string) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsUnknownWorkflow reports whether err is an unknown-workflow failure.
func IsUnknownWorkflow(err error) bool { return kindIs(err, wire.KindUnknownWorkflow) }

// IsValidationError reports whether err is an input validation failure.
func IsValidationError(err error) bool { return kindIs(err, wire.KindValidationError) }

// IsHandlerError reports whether err is a workflow handler fault.
func IsHandlerError(err error) bool { return kindIs(err, wire.KindHandlerError) }

// IsCancelled reports whether err is a cancelled invocation.
func IsCancelled(err error) bool { return kindIs(err, wire.KindCancelled) }

// IsUnavailable reports whether err is a draining-supervisor rejection.
func IsUnavailable(err error) bool { return kindIs(err, wire.KindUnavailable) }

// IsTransportError reports whether err is a communication failure.
func IsTransportError(err error) bool { return kindIs(err, wire.KindTransportError) }

// KindNotFound marks a control-endpoint lookup whose subject does not exist.
// Like the transport kind it is produced by the client only.
const KindNotFound = "not_found"

// IsNotFound reports whether err is a missing-record lookup failure.
func IsNotFound(err error) bool { return kindIs(err, KindNotFound) }
