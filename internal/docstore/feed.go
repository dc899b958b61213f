package docstore

// Feed maps a Subscription's snapshots to typed values. It keeps the
// subscription's conflation and cancel semantics.
type Feed[T any] struct {
	sub    *Subscription
	decode func(Snapshot) T
	out    chan T
}

func NewFeed[T any](sub *Subscription, decode func(Snapshot) T) *Feed[T] {
	f := &Feed[T]{sub: sub, decode: decode, out: make(chan T, 1)}
	go f.run()
	return f
}

func (f *Feed[T]) run() {
	for {
		select {
		case snap := <-f.sub.Updates():
			v := f.decode(snap)
			select {
			case <-f.out:
			default:
			}
			select {
			case f.out <- v:
			case <-f.sub.Done():
				return
			}
		case <-f.sub.Done():
			return
		}
	}
}

func (f *Feed[T]) Updates() <-chan T { return f.out }

func (f *Feed[T]) Done() <-chan struct{} { return f.sub.Done() }

func (f *Feed[T]) Err() error { return f.sub.Err() }

// Cancel is idempotent.
func (f *Feed[T]) Cancel() { f.sub.Cancel() }

// SubscriptionID identifies the underlying live query.
func (f *Feed[T]) SubscriptionID() string { return f.sub.ID() }
