// Package docstore describes the document store capability the chat core
// depends on: merge/overwrite upserts, appends with store-assigned ids and
// server timestamps, and live ordered queries over a collection.
//
// Collections are slash separated paths. A top level collection is a single
// segment ("users"); a subcollection hangs off a document
// ("chats/alice@x.com_bob@x.com/messages").
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("docstore: document not found")
	ErrClosed       = errors.New("docstore: store closed")
	ErrInvalidQuery = errors.New("docstore: invalid query")
	ErrInvalidPath  = errors.New("docstore: invalid collection path")
	ErrInvalidField = errors.New("docstore: invalid field name")
)

// Fields is the content of a document. Values are strings, bools, numbers,
// time.Time, string slices, or ServerTimestamp on write.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp, used as a field value, is replaced by the store's clock
// when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

type WriteMode int

const (
	// Merge keeps fields of an existing document that the write does not name.
	Merge WriteMode = iota
	// Overwrite replaces the whole document.
	Overwrite
)

type Direction int

const (
	Ascending Direction = iota
	Descending
)

type Document struct {
	ID     string
	Fields Fields
}

// Query selects documents of one collection. An empty OrderBy means
// insertion order. With LimitToLast the window is the last Limit documents
// of the ordering, still returned in that ordering.
type Query struct {
	Collection  string
	OrderBy     string
	Direction   Direction
	Limit       int
	LimitToLast bool
}

func (q Query) Validate() error {
	if err := ValidatePath(q.Collection); err != nil {
		return err
	}
	if q.Limit < 0 {
		return ErrInvalidQuery
	}
	if q.LimitToLast && q.Limit == 0 {
		return ErrInvalidQuery
	}
	return nil
}

// Snapshot is the full result of a live query at one point in time.
type Snapshot struct {
	Docs []Document
}

// Store is implemented by the mongodb, postgres and memory backends.
type Store interface {
	Upsert(ctx context.Context, collection, id string, fields Fields, mode WriteMode) error
	Append(ctx context.Context, collection string, fields Fields) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	// LiveQuery returns immediately. The first snapshot arrives later on
	// the subscription, followed by one per change to the result set.
	LiveQuery(ctx context.Context, q Query) (*Subscription, error)
	Close(ctx context.Context) error
}

// Index describes a query shape a backend should index: documents of every
// collection named Name (the last path segment), ordered by OrderBy.
type Index struct {
	Name    string
	OrderBy string
}

// Indexer is implemented by backends that need indexes created up front.
type Indexer interface {
	EnsureIndexes(ctx context.Context, indexes ...Index) error
}

// ValidateFields rejects field names that backends reserve or cannot store.
func ValidateFields(fields Fields) error {
	for k := range fields {
		if k == "" || strings.HasPrefix(k, "_") || strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			return fmt.Errorf("%w: field %q", ErrInvalidField, k)
		}
	}
	return nil
}

func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (f Fields) Time(key string) time.Time {
	t, _ := f[key].(time.Time)
	return t
}

// Clone returns a shallow copy with string slices copied.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if s, ok := v.([]string); ok {
			v = append([]string(nil), s...)
		}
		out[k] = v
	}
	return out
}
