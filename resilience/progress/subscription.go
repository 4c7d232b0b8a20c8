package progress

import "sync/atomic"

// Subscriber receives record snapshots as operations change.
//
// OnUpdate is called synchronously while the registry holds the operation's
// lock, which is what guarantees per-id ordering. Implementations must return
// promptly and must not call back into the Registry; hand the record to a
// channel or goroutine for any heavy work.
type Subscriber interface {
	OnUpdate(record Record)
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(record Record)

func (f SubscriberFunc) OnUpdate(record Record) { f(record) }

// Subscription is the handle returned by Subscribe and SubscribeAll.
type Subscription struct {
	subscriber Subscriber
	cancelled  atomic.Bool
}

func newSubscription(subscriber Subscriber) *Subscription {
	return &Subscription{subscriber: subscriber}
}

// Unsubscribe stops delivery. It is idempotent and safe to call from any
// goroutine; a notification already in flight may still arrive.
func (s *Subscription) Unsubscribe() {
	s.cancelled.Store(true)
}

func (s *Subscription) active() bool {
	return !s.cancelled.Load()
}

// deliver sends a snapshot to every active subscription in subs and returns
// the list with cancelled entries pruned. Panicking subscribers are isolated
// by the caller.
func deliver(subs []*Subscription, record Record, notify func(*Subscription, Record)) []*Subscription {
	kept := subs[:0]

	for _, sub := range subs {
		if !sub.active() {
			continue
		}

		notify(sub, record)
		kept = append(kept, sub)
	}

	return kept
}
