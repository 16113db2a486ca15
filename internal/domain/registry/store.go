package registry

import (
	"context"
	"errors"
)

// Sentinel errors for registry store operations.
var (
	ErrServiceNotFound      = errors.New("service not found")
	ErrDuplicatePath        = errors.New("duplicate service path")
)

// Store provides CRUD persistence for ServiceRecords. This is a port
// (interface) in the hexagonal architecture; implementations live under
// internal/adapter/outbound.
type Store interface {
	// List returns all registered service records.
	List(ctx context.Context) ([]ServiceRecord, error)
	// Get returns a single record by path. Returns ErrServiceNotFound if absent.
	Get(ctx context.Context, path string) (*ServiceRecord, error)
	// Add persists a new record. Returns ErrDuplicatePath if path exists.
	Add(ctx context.Context, record *ServiceRecord) error
	// Update replaces an existing record. Returns ErrServiceNotFound if absent.
	Update(ctx context.Context, record *ServiceRecord) error
	// Delete removes a record by path. Returns ErrServiceNotFound if absent.
	Delete(ctx context.Context, path string) error
}
