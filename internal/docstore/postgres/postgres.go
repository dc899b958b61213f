// Package postgres stores docstore documents in a single JSONB table and
// turns NOTIFY events into live query refreshes.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

const notifyChannel = "docstore_changes"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path   TEXT   NOT NULL,
	id     TEXT   NOT NULL,
	seq    BIGSERIAL,
	fields JSONB  NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (path, id)
);
CREATE INDEX IF NOT EXISTS documents_path_seq_idx ON documents (path, seq);

CREATE OR REPLACE FUNCTION docstore_notify() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('docstore_changes', NEW.path);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify AFTER INSERT OR UPDATE ON documents
	FOR EACH ROW EXECUTE FUNCTION docstore_notify();
`

// serverStamp renders clock_timestamp() in the same fixed-width layout
// encodeTime uses, so stored times sort as text.
const serverStamp = `jsonb_build_object('$date', to_char(clock_timestamp() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'))`

const upsertMerge = `
INSERT INTO documents (path, id, fields)
VALUES ($1, $2, $3::jsonb || (SELECT COALESCE(jsonb_object_agg(k, ` + serverStamp + `), '{}'::jsonb) FROM unnest($4::text[]) AS k))
ON CONFLICT (path, id) DO UPDATE SET fields = documents.fields || EXCLUDED.fields`

const upsertOverwrite = `
INSERT INTO documents (path, id, fields)
VALUES ($1, $2, $3::jsonb || (SELECT COALESCE(jsonb_object_agg(k, ` + serverStamp + `), '{}'::jsonb) FROM unnest($4::text[]) AS k))
ON CONFLICT (path, id) DO UPDATE SET fields = EXCLUDED.fields`

type Options struct {
	Logger *slog.Logger
}

// Store implements docstore.Store on PostgreSQL.
type Store struct {
	db       *sqlx.DB
	listener *pq.Listener
	hub      *docstore.ChangeHub
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type documentRow struct {
	ID     string `db:"id"`
	Fields []byte `db:"fields"`
}

// New connects, applies the schema and starts listening for changes.
func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "docstore.postgres")

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("listener event", "event", ev, "err", err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to listen for changes")
	}

	s := &Store{
		db:       db,
		listener: listener,
		hub:      docstore.NewChangeHub(),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.listen()
	return s, nil
}

func (s *Store) listen() {
	defer close(s.done)
	for {
		select {
		case n := <-s.listener.Notify:
			if n == nil {
				// reconnected: notifications may have been lost
				s.hub.PublishAll()
				continue
			}
			s.hub.Publish(n.Extra)
		case <-time.After(90 * time.Second):
			go func() { _ = s.listener.Ping() }()
		case <-s.stop:
			return
		}
	}
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

	body, stamps, err := encodeFields(fields)
	if err != nil {
		return err
	}

	query := upsertMerge
	if mode == docstore.Overwrite {
		query = upsertOverwrite
	}
	if _, err := s.db.ExecContext(ctx, query, collection, id, body, pq.Array(stamps)); err != nil {
		return errors.Wrapf(err, "upsert %s/%s", collection, id)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := newID()
	if err := s.Upsert(ctx, collection, id, fields, docstore.Overwrite); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT id, fields FROM documents WHERE path = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, errors.Wrapf(err, "get %s/%s", collection, id)
	}
	return row.decode()
}

func (r documentRow) decode() (docstore.Document, error) {
	fields, err := decodeFields(r.Fields)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: r.ID, Fields: fields}, nil
}

// buildQuery renders q as SQL. Times are stored as {"$date": "..."} objects,
// so an order field is compared through its $date member when it has one.
func buildQuery(q docstore.Query) (string, []any) {
	dir := "ASC"
	desc := q.Direction == docstore.Descending
	if q.LimitToLast {
		desc = !desc
	}
	if desc {
		dir = "DESC"
	}

	args := []any{q.Collection}
	order := "seq " + dir
	if q.OrderBy != "" {
		order = fmt.Sprintf("%s %s, seq %s", orderExpr(q.OrderBy), dir, dir)
	}

	limit := sql.NullInt64{}
	if q.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(q.Limit), Valid: true}
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT id, fields FROM documents WHERE path = $1 ORDER BY %s LIMIT $%d`, order, len(args))
	return query, args
}

// orderExpr is shared by queries and indexes so the planner can match them.
func orderExpr(field string) string {
	lit := pq.QuoteLiteral(field)
	return fmt.Sprintf("COALESCE(fields->%s->>'$date', fields->>%s)", lit, lit)
}

func (s *Store) fetch(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, args := buildQuery(q)
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "query %s", q.Collection)
	}

	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		d, err := r.decode()
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if q.LimitToLast {
		docstore.Reverse(docs)
	}
	return docs, nil
}

func (s *Store) LiveQuery(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	select {
	case <-s.stop:
		return nil, docstore.ErrClosed
	default:
	}
	return docstore.Watch(ctx, s.hub, q, s.fetch)
}

var identRe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// EnsureIndexes adds an expression index per ordered query shape.
func (s *Store) EnsureIndexes(ctx context.Context, indexes ...docstore.Index) error {
	for _, ix := range indexes {
		if ix.OrderBy == "" {
			continue
		}
		name := "documents_" + identRe.ReplaceAllString(ix.Name+"_"+ix.OrderBy, "_") + "_idx"
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON documents (path, (%s), seq)`,
			pq.QuoteIdentifier(name), orderExpr(ix.OrderBy))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to create %s index", ix.Name)
		}
	}
	return nil
}

// Truncate deletes every document. Tests use it.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE documents`)
	return errors.Wrap(err, "truncate documents")
}

// Close is safe to call more than once.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.hub.PublishAll()
		_ = s.listener.Close()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
