package storage

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidSize is returned for malformed size arguments.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidArgument is returned for command arguments that fail
	// validation before anything is changed.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConflictError reports a device that already belongs to another pool.
type ConflictError struct {
	Device string
	Pool   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("device '%s' is already used in the pool '%s'", e.Device, e.Pool)
}

// InsufficientSpaceError reports a resize the pool and the supplied
// devices cannot cover. Size is the requested volume size.
type InsufficientSpaceError struct {
	Pool   string
	Volume string
	Size   float64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("there is not enough space in the pool '%s' to grow volume '%s' to size %.0f KB",
		e.Pool, e.Volume, e.Size)
}

// AlreadySizedError reports a resize to the current size of a volume
// without a filesystem.
type AlreadySizedError struct {
	Volume string
	Size   float64
}

func (e *AlreadySizedError) Error() string {
	return fmt.Sprintf("'%s' volume is already %.0f KB long, there is nothing to resize", e.Volume, e.Size)
}

// UnsupportedError reports a capability the owning backend lacks.
type UnsupportedError struct {
	Name       string
	Capability string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("'%s' does not support %s", e.Name, e.Capability)
}

// NotFoundError reports a name that resolves to no entity of the wanted kind.
type NotFoundError struct {
	Name string
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("'%s' is not a valid %s", e.Name, e.What)
}

// BatchError collects per-item failures of a bulk operation.
type BatchError struct {
	Failed []string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("unable to remove %s", strings.Join(e.Failed, ", "))
}

func invalidArgument(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
