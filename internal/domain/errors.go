package domain

import (
	"errors"
	"strings"
)

var (
	ErrMissingEntity           = errors.New("missing entity")
	ErrEntityAlreadyExists     = errors.New("entity already exists")
	ErrKeysNotReady            = errors.New("keys not ready")
	ErrKeyNotAvailable         = errors.New("private key not available")
	ErrRoleKeyNotFound         = errors.New("role key not found")
	ErrInvalidVersionBump      = errors.New("invalid version bump")
	ErrInvalidRootRole         = errors.New("invalid root role")
	ErrPayloadSignatureInvalid = errors.New("payload signature invalid")
	ErrDelegationNotDefined    = errors.New("delegation not defined")
	ErrPreconditionRequired    = errors.New("precondition required")
	ErrPreconditionFailed      = errors.New("precondition failed")
	ErrPayloadTooLarge         = errors.New("payload too large")
	ErrNoURIForUnmanagedTarget = errors.New("no uri for unmanaged target")
	ErrInvalidTargetItem       = errors.New("invalid target item")
)

// RootValidationError carries the full list of checks a client-signed
// root breached so the caller can return them all at once.
type RootValidationError struct {
	Causes []string
}

func (e *RootValidationError) Error() string {
	if len(e.Causes) == 0 {
		return ErrInvalidRootRole.Error()
	}
	return ErrInvalidRootRole.Error() + ": " + strings.Join(e.Causes, "; ")
}

func (e *RootValidationError) Unwrap() error {
	return ErrInvalidRootRole
}
