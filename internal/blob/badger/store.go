// Package badger implements blob.Store on an embedded BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

const objectPrefix = "obj/"

var _ blob.Store = (*Store)(nil)

// Config controls where the database lives.
type Config struct {
	Path     string
	InMemory bool
}

// Store keeps objects as one badger entry per bucket/key. Body and tags are committed in
// one transaction, so readers never see a body without its tags.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	notifiers []blob.Notifier
}

type record struct {
	Info blob.ObjectInfo `json:"info"`
	Body []byte          `json:"body"`
}

// zapAdapter adapts zap to badger.Logger.
type zapAdapter struct {
	s *zap.SugaredLogger
}

var _ badger.Logger = (*zapAdapter)(nil)

func (a *zapAdapter) Errorf(msg string, args ...any)   { a.s.Errorf(strings.TrimSpace(msg), args...) }
func (a *zapAdapter) Warningf(msg string, args ...any) { a.s.Warnf(strings.TrimSpace(msg), args...) }
func (a *zapAdapter) Infof(msg string, args ...any)    { a.s.Debugf(strings.TrimSpace(msg), args...) }
func (a *zapAdapter) Debugf(msg string, args ...any)   { a.s.Debugf(strings.TrimSpace(msg), args...) }

// Open opens (or creates) the database.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("objectstore path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create objectstore dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &zapAdapter{s: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscribe registers a notifier for creation events.
func (s *Store) Subscribe(n blob.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

// Ping reports whether the database is open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("objectstore closed")
	}
	return nil
}

// Put writes an object, overwriting any previous version, then notifies subscribers.
func (s *Store) Put(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error) {
	if in.Bucket == "" || in.Key == "" {
		return blob.ObjectInfo{}, fmt.Errorf("bucket and key are required")
	}
	if err := ctx.Err(); err != nil {
		return blob.ObjectInfo{}, err
	}

	info := blob.ObjectInfo{
		Bucket:      in.Bucket,
		Key:         in.Key,
		Size:        int64(len(in.Body)),
		ContentType: in.ContentType,
		Tags:        maps.Clone(in.Tags),
		CreatedAt:   s.now().UTC(),
	}
	val, err := json.Marshal(record{Info: info, Body: in.Body})
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("marshal object: %w", err)
	}

	err = s.withTx(func(tx *badger.Txn) error {
		if err := tx.Set(objectKey(in.Bucket, in.Key), val); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("put %s/%s: %w: %w", in.Bucket, in.Key, err, domain.ErrObjectStoreUnavailable)
	}

	s.notify(ctx, blob.Event{
		Bucket:      info.Bucket,
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		CreatedAt:   info.CreatedAt,
	})
	return info, nil
}

// Get reads an object with its tags.
func (s *Store) Get(_ context.Context, bucket, key string) (*blob.Object, error) {
	var rec record
	err := s.withTx(func(tx *badger.Txn) error {
		item, err := tx.Get(objectKey(bucket, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	}, false)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w: %w", bucket, key, err, domain.ErrObjectStoreUnavailable)
	}
	return &blob.Object{ObjectInfo: rec.Info, Body: rec.Body}, nil
}

// List returns objects in a bucket whose key starts with prefix, in key order.
func (s *Store) List(_ context.Context, bucket, prefix string) ([]blob.ObjectInfo, error) {
	out := []blob.ObjectInfo{}
	err := s.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = objectKey(bucket, prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var rec record
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec.Info)
		}
		return nil
	}, false)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w: %w", bucket, prefix, err, domain.ErrObjectStoreUnavailable)
	}
	return out, nil
}

func (s *Store) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := s.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

func (s *Store) notify(ctx context.Context, ev blob.Event) {
	s.mu.RLock()
	notifiers := append([]blob.Notifier(nil), s.notifiers...)
	s.mu.RUnlock()

	for _, n := range notifiers {
		n.Notify(ctx, ev)
	}
}

func objectKey(bucket, key string) []byte {
	return []byte(objectPrefix + bucket + "/" + key)
}
