package storage

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/models"
)

var (
	badgerEmbeddingPrefix = []byte("emb/")
	badgerMetadataKey     = []byte("meta")
)

// BadgerStorage implements Backend on BadgerDB. Embeddings live under "emb/<id>" as
// little-endian float32 blobs; the metadata table is one JSON document under "meta".
// Badger iterates keys in byte order, which gives the sorted id enumeration for free.
type BadgerStorage struct {
	db *badger.DB
}

// BadgerOptions configures the Badger backend.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory is set.
	Dir string
	// InMemory runs BadgerDB without disk persistence (tests).
	InMemory bool
	// Logger receives badger's warnings and errors. Nil silences badger.
	Logger *zap.Logger
}

// NewBadgerStorage opens a Badger database.
func NewBadgerStorage(opts BadgerOptions) (*BadgerStorage, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger storage: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{l: opts.Logger})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

// Type returns the backend identifier.
func (b *BadgerStorage) Type() string { return "badger" }

// LoadMetadata decodes the "meta" document; a missing key yields an empty table.
func (b *BadgerStorage) LoadMetadata(ctx context.Context) ([]models.Bottle, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerMetadataKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return DecodeMetadata(data)
}

// SaveMetadata replaces the "meta" document.
func (b *BadgerStorage) SaveMetadata(ctx context.Context, bottles []models.Bottle) error {
	data, err := EncodeMetadata(bottles)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerMetadataKey, data)
	})
}

// ListEmbeddingIDs walks the "emb/" prefix without fetching values.
func (b *BadgerStorage) ListEmbeddingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = badgerEmbeddingPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(badgerEmbeddingPrefix); it.ValidForPrefix(badgerEmbeddingPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ids = append(ids, string(key[len(badgerEmbeddingPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	return ids, nil
}

// LoadEmbedding returns the embedding stored for id.
func (b *BadgerStorage) LoadEmbedding(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(embeddingKey(id))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("embedding %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read embedding %q: %w", id, err)
	}
	return DecodeEmbedding(blob)
}

// SaveEmbedding stores the embedding for id.
func (b *BadgerStorage) SaveEmbedding(ctx context.Context, id string, vec []float32) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(embeddingKey(id), EncodeEmbedding(vec))
	})
}

// DeleteEmbedding removes the embedding for id.
func (b *BadgerStorage) DeleteEmbedding(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(embeddingKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close closes the database.
func (b *BadgerStorage) Close() error {
	return b.db.Close()
}

func embeddingKey(id string) []byte {
	return append(append([]byte(nil), badgerEmbeddingPrefix...), id...)
}

// badgerLogger forwards badger warnings and errors to zap and drops info/debug chatter.
type badgerLogger struct {
	l *zap.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{}) {
	if b.l != nil {
		b.l.Sugar().Errorf("badger: "+f, v...)
	}
}

func (b badgerLogger) Warningf(f string, v ...interface{}) {
	if b.l != nil {
		b.l.Sugar().Warnf("badger: "+f, v...)
	}
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
