package persistence

import "grid-trader-go/internal/models"

// SnapshotRepository defines the interface for balance snapshot persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type SnapshotRepository interface {
	// SaveSnapshot atomically overwrites the whole balance snapshot.
	SaveSnapshot(snapshot *models.BalanceSnapshot) error

	// LoadSnapshot loads the balance snapshot from storage.
	// If no snapshot is found, it should return (nil, nil).
	LoadSnapshot() (*models.BalanceSnapshot, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
