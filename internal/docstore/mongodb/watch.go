package mongodb

import (
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// codeChangeStreamUnsupported is returned by standalone servers, which have
// no oplog to stream from.
const codeChangeStreamUnsupported = 40573

type changeEvent struct {
	FullDocument struct {
		Parent string `bson:"_parent"`
	} `bson:"fullDocument"`
}

// startWatcher opens one database-wide change stream and wakes the live
// queries of each changed path. If the server cannot stream changes it
// falls back to waking every live query on a fixed interval.
func (s *Store) startWatcher() {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
		}}},
	}
	cs, err := s.db.Watch(s.ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		var se mongo.ServerError
		if errors.As(err, &se) && se.HasErrorCode(codeChangeStreamUnsupported) {
			s.logger.Info("change streams unsupported, polling", "interval", s.opts.PollInterval)
		} else {
			s.logger.Warn("change stream unavailable, polling", "err", err, "interval", s.opts.PollInterval)
		}
		s.wg.Add(1)
		go s.poll()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cs.Close(s.ctx)

		for cs.Next(s.ctx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				s.logger.Warn("decode change event", "err", err)
				continue
			}
			if ev.FullDocument.Parent != "" {
				s.hub.Publish(ev.FullDocument.Parent)
			}
		}
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn("change stream closed, polling", "err", cs.Err(), "interval", s.opts.PollInterval)
		s.hub.PublishAll()
		s.wg.Add(1)
		go s.poll()
	}()
}

func (s *Store) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.hub.PublishAll()
		case <-s.ctx.Done():
			return
		}
	}
}
