// Package memory is an in-process docstore backend used by tests and by
// local runs with STORE_DRIVER=memory.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

type entry struct {
	fields docstore.Fields
	seq    int64
}

type Store struct {
	mu     sync.RWMutex
	colls  map[string]map[string]*entry
	seq    int64
	last   time.Time
	now    func() time.Time
	hub    *docstore.ChangeHub
	closed bool
}

type Option func(*Store)

// WithClock replaces time.Now as the source of server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		colls: make(map[string]map[string]*entry),
		now:   time.Now,
		hub:   docstore.NewChangeHub(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// stamp returns a strictly increasing server time. Caller holds s.mu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) Upsert(ctx context.Context, collection, id string, fields docstore.Fields, mode docstore.WriteMode) error {
	if err := docstore.ValidatePath(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	if err := docstore.ValidateFields(fields); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	s.write(collection, id, fields, mode)
	s.mu.Unlock()

	s.hub.Publish(collection)
	return nil
}

func (s *Store) Append(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.Upsert(ctx, collection, id, fields, docstore.Overwrite); err != nil {
		return "", err
	}
	return id, nil
}

// write applies one upsert. Caller holds s.mu.
func (s *Store) write(collection, id string, fields docstore.Fields, mode docstore.WriteMode) {
	coll, ok := s.colls[collection]
	if !ok {
		coll = make(map[string]*entry)
		s.colls[collection] = coll
	}

	resolved := fields.Clone()
	var ts time.Time
	for k, v := range resolved {
		if docstore.IsServerTimestamp(v) {
			if ts.IsZero() {
				ts = s.stamp()
			}
			resolved[k] = ts
		}
	}

	e, ok := coll[id]
	if !ok {
		s.seq++
		coll[id] = &entry{fields: resolved, seq: s.seq}
		return
	}
	if mode == docstore.Overwrite {
		e.fields = resolved
		return
	}
	for k, v := range resolved {
		e.fields[k] = v
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrClosed
	}
	e, ok := s.colls[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Fields: e.fields.Clone()}, nil
}

func (s *Store) LiveQuery(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, docstore.ErrClosed
	}
	return docstore.Watch(ctx, s.hub, q, s.fetch)
}

type row struct {
	doc docstore.Document
	seq int64
}

func (s *Store) fetch(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, docstore.ErrClosed
	}
	rows := make([]row, 0, len(s.colls[q.Collection]))
	for id, e := range s.colls[q.Collection] {
		rows = append(rows, row{doc: docstore.Document{ID: id, Fields: e.fields.Clone()}, seq: e.seq})
	}
	s.mu.RUnlock()

	slices.SortFunc(rows, func(a, b row) int {
		if q.OrderBy != "" {
			if c := docstore.CompareValues(a.doc.Fields[q.OrderBy], b.doc.Fields[q.OrderBy]); c != 0 {
				if q.Direction == docstore.Descending {
					return -c
				}
				return c
			}
		}
		if q.Direction == docstore.Descending {
			return int(b.seq - a.seq)
		}
		return int(a.seq - b.seq)
	})

	docs := make([]docstore.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		if q.LimitToLast {
			docs = docs[len(docs)-q.Limit:]
		} else {
			docs = docs[:q.Limit]
		}
	}
	return docs, nil
}

// Listeners reports how many live queries are registered on collection.
func (s *Store) Listeners(collection string) int {
	return s.hub.Count(collection)
}

// Close makes later calls fail with docstore.ErrClosed and wakes live
// queries so they fail too.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.PublishAll()
	return nil
}
