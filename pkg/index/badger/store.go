// Package badger implements the search index projector on BadgerDB, a fast
// embedded key-value store.
//
// This implementation provides a persistent, per-process index suitable for
// single-node deployments. It survives restarts, but because the filesystem
// remains the source of truth it can always be dropped and rebuilt with a
// full reindex.
//
// Storage Model:
// BadgerDB is a key-value store, so prefixed keys organize the two data
// types into namespaces:
//
//	Data Type          Prefix  Key Format                                Value Type
//	=================================================================================
//	Index Definitions  "i:"    i:<space>:<index>                         []schema.Field (JSON)
//	Documents          "d:"    d:<space>:<index>:<subpath>/<shortname>   index.Document (JSON)
//
// The document key embeds the deterministic document id, so re-projecting
// an entity overwrites its previous document and dropping an index is a
// prefix purge.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"

	"github.com/dmartio/datamart/internal/logger"
	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/schema"
)

const (
	// prefixIndexDef is the key prefix for index field definitions.
	prefixIndexDef = "i:"

	// prefixDoc is the key prefix for projected documents.
	prefixDoc = "d:"
)

// keyIndexDef generates the key for an index's field definitions.
//
// Format: "i:<space>:<index>"
func keyIndexDef(space, indexName string) []byte {
	return []byte(prefixIndexDef + space + ":" + indexName)
}

// keyDoc generates the key for a projected document.
//
// Format: "d:<space>:<index>:<subpath>/<shortname>"
func keyDoc(space, indexName, subpath, shortname string) []byte {
	return []byte(prefixDoc + index.DocID(space, indexName, subpath, shortname))
}

// keyDocPrefix generates the prefix for range-scanning an index's documents.
//
// Format: "d:<space>:<index>:"
func keyDocPrefix(space, indexName string) []byte {
	return []byte(prefixDoc + space + ":" + indexName + ":")
}

// BadgerProjector implements index.Projector on BadgerDB.
//
// Thread Safety:
// BadgerDB transactions provide isolation; each operation runs in its own
// transaction, so the projector is safe for concurrent use. Ordering of
// concurrent re-projections of the same entity is the storage core's
// concern (it serializes writers per entity).
type BadgerProjector struct {
	db  *badger.DB
	log zerolog.Logger
}

// BadgerProjectorConfig configures the projector.
type BadgerProjectorConfig struct {
	// DBPath is the directory where BadgerDB stores its files. Ignored when
	// InMemory is set.
	DBPath string

	// InMemory runs BadgerDB without persistence. Used in tests and for
	// deployments that rebuild the index at startup.
	InMemory bool
}

// NewBadgerProjector opens the database and returns the projector.
func NewBadgerProjector(ctx context.Context, config BadgerProjectorConfig) (*BadgerProjector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Index documents are small JSON blobs; compression overhead is not
	// worth it and badger's own logging is noise at INFO.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database at %s: %w", config.DBPath, err)
	}

	return &BadgerProjector{db: db, log: logger.Index()}, nil
}

// Close closes the underlying database.
func (p *BadgerProjector) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}
	return nil
}

// getFields loads an index's field definitions inside a transaction.
// A missing definition returns nil fields, not an error: documents may be
// searched with the closed meta field set even before an explicit create.
func getFields(txn *badger.Txn, space, indexName string) ([]schema.Field, error) {
	item, err := txn.Get(keyIndexDef(space, indexName))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index definition: %w", err)
	}

	var fields []schema.Field
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &fields)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode index definition: %w", err)
	}
	return fields, nil
}

// putDocument serializes and stores a document inside a transaction.
func putDocument(txn *badger.Txn, doc index.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize index document: %w", err)
	}
	key := keyDoc(doc.Space, doc.Index, doc.Subpath, doc.Shortname)
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("failed to store index document: %w", err)
	}
	return nil
}

// scanDocuments iterates every document of an index in key order, invoking
// fn for each. Iteration stops at the first error.
func (p *BadgerProjector) scanDocuments(txn *badger.Txn, space, indexName string, fn func(index.Document) error) error {
	prefix := keyDocPrefix(space, indexName)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var doc index.Document
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
		if err != nil {
			return fmt.Errorf("failed to decode index document: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}
