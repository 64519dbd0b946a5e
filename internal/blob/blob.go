// Package blob defines the object store contract: buckets of keyed objects with string tags
// and creation notifications.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a bucket/key pair has no object.
var ErrNotFound = errors.New("blob: object not found")

// ObjectInfo describes a stored object without its body.
type ObjectInfo struct {
	Bucket      string            `json:"bucket"`
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Tags        map[string]string `json:"tags,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Object is a stored object with its body.
type Object struct {
	ObjectInfo
	Body []byte
}

// Event is an object creation notification. Overwrites emit a new event.
type Event struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
	CreatedAt   time.Time
}

// Notifier receives creation events after the write is durable.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// PutInput is the input to Store.Put.
type PutInput struct {
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Tags        map[string]string
}

// Store is an object store.
type Store interface {
	Put(ctx context.Context, in PutInput) (ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (*Object, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Ping(ctx context.Context) error
}
