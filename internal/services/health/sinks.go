package health

import (
	"context"

	"github.com/bbernstein/lacylights-outputs/internal/services/pubsub"
	redisstore "github.com/bbernstein/lacylights-outputs/internal/store/redis"
)

// PubSubSink publishes events on TopicPingState, filtered by controller name.
type PubSubSink struct {
	ps *pubsub.PubSub
}

// NewPubSubSink creates a sink over ps.
func NewPubSubSink(ps *pubsub.PubSub) *PubSubSink {
	return &PubSubSink{ps: ps}
}

// Notify implements Sink.
func (s *PubSubSink) Notify(_ context.Context, ev Event) error {
	s.ps.Publish(pubsub.TopicPingState, ev.Name, ev)
	return nil
}

// SnapshotWriter stores the latest snapshot of a controller.
type SnapshotWriter interface {
	Put(ctx context.Context, snap redisstore.Snapshot) error
	Delete(ctx context.Context, name string) error
}

// StoreSink mirrors events into a snapshot store. Refreshing rewrites the
// snapshot so that a store TTL only expires controllers nobody monitors.
type StoreSink struct {
	w SnapshotWriter
}

// NewStoreSink creates a sink over w.
func NewStoreSink(w SnapshotWriter) *StoreSink {
	return &StoreSink{w: w}
}

// Notify implements Sink.
func (s *StoreSink) Notify(ctx context.Context, ev Event) error {
	return s.w.Put(ctx, snapshotOf(ev))
}

// Refresh implements Refresher.
func (s *StoreSink) Refresh(ctx context.Context, ev Event) error {
	return s.w.Put(ctx, snapshotOf(ev))
}

// Forget implements Forgetter.
func (s *StoreSink) Forget(ctx context.Context, name string) error {
	return s.w.Delete(ctx, name)
}

func snapshotOf(ev Event) redisstore.Snapshot {
	return redisstore.Snapshot{
		ControllerID: ev.ControllerID,
		Name:         ev.Name,
		Address:      ev.Address,
		State:        ev.State,
		Reachable:    ev.Reachable,
		At:           ev.At,
	}
}
