// Package store holds the per-client location records the herd member
// has accepted, either from a local IAMAT or from the flood engine.
//
// It is backed by github.com/hashicorp/go-memdb: a single radix-backed
// table with one row per client_id. memdb only ever allows one write
// transaction in flight at a time, giving shared-read, single-writer
// semantics for free, with no additional locking needed around Apply.
package store

import (
	memdb "github.com/hashicorp/go-memdb"

	"github.com/geoherd/herd/wire"
)

// Decision reports whether Apply changed the store.
type Decision int

const (
	Ignored Decision = iota
	Applied
)

const table = "locations"

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ClientID"},
					},
				},
			},
		},
	}
}

// Store is the per-client location table maintained by one herd member.
type Store struct {
	db *memdb.MemDB
}

// New creates an empty location store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Apply accepts rec only if it is strictly newer (by client_timestamp)
// than whatever is stored for rec.ClientID, or if nothing is stored yet.
// Ties keep the first arrival: a record with an equal timestamp to the
// one already stored is Ignored. This single rule is the flood engine's
// loop breaker; there is no separate "seen" structure to keep in sync.
func (s *Store) Apply(rec *wire.Record) (Decision, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existingRaw, err := txn.First(table, "id", rec.ClientID)
	if err != nil {
		return Ignored, err
	}
	if existingRaw != nil {
		existing := existingRaw.(*wire.Record)
		if rec.Timestamp <= existing.Timestamp {
			return Ignored, nil
		}
	}
	if err := txn.Insert(table, rec); err != nil {
		return Ignored, err
	}
	txn.Commit()
	return Applied, nil
}

// Get returns a read-only snapshot of the record for clientID, if any.
func (s *Store) Get(clientID string) (*wire.Record, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(table, "id", clientID)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	return raw.(*wire.Record), true, nil
}
