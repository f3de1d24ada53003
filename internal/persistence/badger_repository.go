package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"grid-trader-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the SnapshotRepository.
type badgerRepository struct {
	db          *badger.DB
	snapshotKey []byte
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (SnapshotRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:          db,
		snapshotKey: []byte("balance_snapshot"), // single snapshot object, fixed key
	}, nil
}

// SaveSnapshot atomically overwrites the whole balance snapshot.
// The snapshot is a single-writer, read-modify-write resource; the
// schema version travels with it so migrations can detect old formats.
func (r *badgerRepository) SaveSnapshot(snapshot *models.BalanceSnapshot) error {
	if snapshot.SchemaVersion == 0 {
		snapshot.SchemaVersion = models.SnapshotSchemaVersion
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.snapshotKey, data)
	})
}

// LoadSnapshot loads the balance snapshot from storage.
// If the snapshot key is not found, it returns (nil, nil) to indicate no snapshot is present.
func (r *badgerRepository) LoadSnapshot() (*models.BalanceSnapshot, error) {
	var snapshot models.BalanceSnapshot

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.snapshotKey)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("snapshot value is empty in database")
			}
			return json.Unmarshal(val, &snapshot)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // the expected "no snapshot found" case
	}
	if err != nil {
		return nil, err
	}

	if snapshot.SchemaVersion > models.SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d is newer than supported version %d",
			snapshot.SchemaVersion, models.SnapshotSchemaVersion)
	}

	return &snapshot, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
