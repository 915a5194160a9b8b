package store

import "context"

// Store is the definition registry contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions
	SaveDefinition(ctx context.Context, rec *DefinitionRecord) error
	GetDefinition(ctx context.Context, name, version string) (*DefinitionRecord, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*DefinitionRecord, error)
	DeleteDefinition(ctx context.Context, name, version string) error

	// History (append-only)
	History(ctx context.Context, name string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
