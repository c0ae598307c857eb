package services

import (
	"errors"
	"fmt"

	"github.com/fndparking/admin/internal/storage"
)

var (
	ErrNotFound           = storage.ErrNotFound
	ErrTimeout            = storage.ErrTimeout
	ErrAdminImmutable     = errors.New("admin accounts cannot be deactivated")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrSessionClosed      = errors.New("dashboard session closed")
	ErrSessionRevoked     = errors.New("session has been revoked")
)

// DataAccessError is a failed read of a whole collection.
type DataAccessError struct {
	Collection string
	Err        error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Collection, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// RemoteWriteError is a mutation the store rejected for a reason other than a
// missing document.
type RemoteWriteError struct {
	Collection string
	ID         string
	Err        error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("failed to write %s/%s: %v", e.Collection, e.ID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

func writeError(collection, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &RemoteWriteError{Collection: collection, ID: id, Err: err}
}
