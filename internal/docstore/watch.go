package docstore

import (
	"context"
	"reflect"
)

// FetchFunc runs q once against a backend.
type FetchFunc func(ctx context.Context, q Query) ([]Document, error)

// Watch turns a one-shot fetch into a live query. It registers on hub for
// q.Collection, fetches once up front, and refetches after every change
// notification, delivering a snapshot only when the result set differs from
// the last one delivered. A fetch error fails the subscription; cancelling
// ctx cancels it. Snapshots are shared and must be treated as read-only.
func Watch(ctx context.Context, hub *ChangeHub, q Query, fetch FetchFunc) (*Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	wake := make(chan struct{}, 1)
	id := hub.Register(q.Collection, func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	sub := NewSubscription(func() { hub.Unregister(q.Collection, id) })

	go func() {
		var last []Document
		first := true
		for {
			docs, err := fetch(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					sub.Cancel()
				} else {
					sub.Fail(err)
				}
				return
			}
			if first || !reflect.DeepEqual(docs, last) {
				if !sub.Deliver(Snapshot{Docs: docs}) {
					return
				}
				last, first = docs, false
			}

			select {
			case <-wake:
			case <-sub.Done():
				return
			case <-ctx.Done():
				sub.Cancel()
				return
			}
		}
	}()

	return sub, nil
}
