package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dmartio/datamart/pkg/core"
	"github.com/dmartio/datamart/pkg/index"
	"github.com/dmartio/datamart/pkg/schema"
)

// CreateOrReplaceIndex purges the index's documents and stores the new
// field definitions. Re-running with the same definitions is a no-op apart
// from the purge, which makes the operation safe to call on every startup
// and on every schema change.
func (p *BadgerProjector) CreateOrReplaceIndex(ctx context.Context, space, indexName string, fields []schema.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Collect document keys in a read transaction first; deleting while
	// iterating the same write transaction invalidates the iterator.
	var docKeys [][]byte
	err := p.db.View(func(txn *badger.Txn) error {
		prefix := keyDocPrefix(space, indexName)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			docKeys = append(docKeys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan index %s:%s: %w", space, indexName, err)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to serialize index definition: %w", err)
	}

	// WriteBatch handles transactions exceeding badger's single-txn limit,
	// which a large index purge can hit.
	batch := p.db.NewWriteBatch()
	defer batch.Cancel()

	for _, key := range docKeys {
		if err := batch.Delete(key); err != nil {
			return fmt.Errorf("failed to purge index document: %w", err)
		}
	}
	if err := batch.Set(keyIndexDef(space, indexName), data); err != nil {
		return fmt.Errorf("failed to store index definition: %w", err)
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("failed to replace index %s:%s: %w", space, indexName, err)
	}

	p.log.Debug().
		Str("space", space).
		Str("index", indexName).
		Int("purged", len(docKeys)).
		Int("fields", len(fields)).
		Msg("index replaced")
	return nil
}

// IndexMeta projects an entity into the space's meta index.
func (p *BadgerProjector) IndexMeta(ctx context.Context, space, subpath string, res core.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := index.BuildMetaDocument(space, subpath, res)
	return p.db.Update(func(txn *badger.Txn) error {
		return putDocument(txn, doc)
	})
}

// IndexPayload projects a JSON payload into its schema index, flattening
// the schema-declared properties and tagging the document with the owning
// meta document id.
func (p *BadgerProjector) IndexPayload(ctx context.Context, space, schemaName, subpath, shortname string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.db.Update(func(txn *badger.Txn) error {
		fields, err := getFields(txn, space, schemaName)
		if err != nil {
			return err
		}
		doc := index.BuildPayloadDocument(space, schemaName, subpath, shortname, fields, payload)
		return putDocument(txn, doc)
	})
}

// Delete removes a document. Deleting an absent document is a no-op, so
// callers can unconditionally clear both meta and payload documents on
// entity deletion.
func (p *BadgerProjector) Delete(ctx context.Context, space, indexName, subpath, shortname string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(keyDoc(space, indexName, subpath, shortname))
		if err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to delete index document: %w", err)
		}
		return nil
	})
}

// GetDocument fetches one document by address, or nil when absent.
func (p *BadgerProjector) GetDocument(ctx context.Context, space, indexName, subpath, shortname string) (*index.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc *index.Document
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyDoc(space, indexName, subpath, shortname))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read index document: %w", err)
		}
		return item.Value(func(val []byte) error {
			doc = &index.Document{}
			return json.Unmarshal(val, doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
