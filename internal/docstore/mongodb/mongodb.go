// Package mongodb stores docstore documents in MongoDB.
//
// Every document of a collection path lives in the MongoDB collection named
// after the path's last segment, tagged with its full path:
//
//	{_id: "<path>/<id>", _key: "<id>", _parent: "<path>", _seq: ObjectID, ...fields}
//
// _seq is assigned on first insert and breaks ordering ties. It is an
// ObjectID minted by the writing process, and $$NOW has millisecond
// resolution, so when several server processes write the same collection
// within one millisecond the tie order follows ObjectID order (seconds,
// then a random per-process value, then a counter) rather than the order
// MongoDB applied the writes. A single process keeps insertion order.
package mongodb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

const (
	DefaultDatabase     = "chat_db"
	DefaultPollInterval = 2 * time.Second
)

type Options struct {
	Database string
	// PollInterval is used when change streams are unavailable (standalone servers).
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Store implements docstore.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	hub    *docstore.ChangeHub
	opts   Options
	logger *slog.Logger

	watchOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, mongoURI string, opts Options) (*Store, error) {
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	clientOpts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	bg, stop := context.WithCancel(context.Background())
	return &Store{
		client: client,
		db:     client.Database(opts.Database),
		hub:    docstore.NewChangeHub(),
		opts:   opts,
		logger: opts.Logger.With("component", "docstore.mongodb"),
		ctx:    bg,
		cancel: stop,
	}, nil
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func (s *Store) coll(path string) *mongo.Collection {
	_, name := docstore.Split(path)
	return s.db.Collection(name)
}

// Upsert writes with an aggregation pipeline update so ServerTimestamp can
// resolve to $$NOW and every other value goes in through $literal.
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

	key := docKey(collection, id)
	set := bson.D{
		{Key: "_key", Value: bson.D{{Key: "$literal", Value: id}}},
		{Key: "_parent", Value: bson.D{{Key: "$literal", Value: collection}}},
		{Key: "_seq", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$_seq", bson.D{{Key: "$literal", Value: bson.NewObjectID()}}}}}},
	}
	for k, v := range fields {
		if docstore.IsServerTimestamp(v) {
			set = append(set, bson.E{Key: k, Value: "$$NOW"})
			continue
		}
		set = append(set, bson.E{Key: k, Value: bson.D{{Key: "$literal", Value: v}}})
	}

	var stage bson.D
	if mode == docstore.Overwrite {
		replacement := append(bson.D{{Key: "_id", Value: "$_id"}}, set...)
		stage = bson.D{{Key: "$replaceWith", Value: replacement}}
	} else {
		stage = bson.D{{Key: "$set", Value: set}}
	}

	_, err := s.coll(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		mongo.Pipeline{stage},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert %s", key)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := bson.NewObjectID().Hex()
	if err := s.Upsert(ctx, collection, id, fields, docstore.Overwrite); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var raw bson.M
	err := s.coll(collection).FindOne(ctx, bson.D{{Key: "_id", Value: docKey(collection, id)}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, errors.Wrapf(err, "get %s", docKey(collection, id))
	}
	return decodeDocument(raw), nil
}

func (s *Store) fetch(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	dir := 1
	if q.Direction == docstore.Descending {
		dir = -1
	}
	if q.LimitToLast {
		dir = -dir
	}

	sort := bson.D{}
	if q.OrderBy != "" {
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: "_seq", Value: dir})

	findOpts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.coll(q.Collection).Find(ctx, bson.D{{Key: "_parent", Value: q.Collection}}, findOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", q.Collection)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, errors.Wrapf(err, "decode %s", q.Collection)
	}

	docs := make([]docstore.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, decodeDocument(raw))
	}
	if q.LimitToLast {
		docstore.Reverse(docs)
	}
	return docs, nil
}

func (s *Store) LiveQuery(ctx context.Context, q docstore.Query) (*docstore.Subscription, error) {
	if s.ctx.Err() != nil {
		return nil, docstore.ErrClosed
	}
	s.watchOnce.Do(s.startWatcher)
	return docstore.Watch(ctx, s.hub, q, s.fetch)
}

// EnsureIndexes creates the (_parent, orderBy, _seq) index each live query needs.
func (s *Store) EnsureIndexes(ctx context.Context, indexes ...docstore.Index) error {
	for _, ix := range indexes {
		keys := bson.D{{Key: "_parent", Value: 1}}
		if ix.OrderBy != "" {
			keys = append(keys, bson.E{Key: ix.OrderBy, Value: 1})
		}
		keys = append(keys, bson.E{Key: "_seq", Value: 1})

		if _, err := s.db.Collection(ix.Name).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys}); err != nil {
			return errors.Wrapf(err, "failed to create %s index", ix.Name)
		}
	}
	return nil
}

// Drop removes every document of the named MongoDB collections. Tests use it.
func (s *Store) Drop(ctx context.Context, names ...string) error {
	for _, n := range names {
		if err := s.db.Collection(n).Drop(ctx); err != nil {
			return errors.Wrapf(err, "drop %s", n)
		}
	}
	return nil
}

// Close stops change watching and disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	s.cancel()
	s.hub.PublishAll()
	s.wg.Wait()
	return s.client.Disconnect(ctx)
}
