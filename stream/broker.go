package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/taskq/ext"
	"github.com/xraph/taskq/id"
	"github.com/xraph/taskq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Broker)(nil)
	_ ext.JobEnqueued   = (*Broker)(nil)
	_ ext.JobStarted    = (*Broker)(nil)
	_ ext.JobSucceeded  = (*Broker)(nil)
	_ ext.JobReleased   = (*Broker)(nil)
	_ ext.JobDeleted    = (*Broker)(nil)
	_ ext.JobRetrying   = (*Broker)(nil)
	_ ext.JobDead       = (*Broker)(nil)
	_ ext.ScheduleFired = (*Broker)(nil)
	_ ext.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the per-subscriber buffer.
const DefaultBufferSize = 256

// Broker publishes lifecycle events to topic subscribers.
type Broker struct {
	topics *topicRegistry
	logger *slog.Logger
	now    func() time.Time
	buffer int

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool

	published atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) Option {
	return func(b *Broker) { b.buffer = n }
}

// WithLogger sets the broker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithClock overrides event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics:      newTopicRegistry(),
		logger:      slog.Default(),
		now:         time.Now,
		buffer:      DefaultBufferSize,
		subscribers: make(map[string]*Subscriber),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers a subscriber on topics. A repeated id replaces the
// previous subscriber. After shutdown the returned subscriber is already
// closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := newSubscriber(subscriberID, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	prev := b.subscribers[subscriberID]
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	if prev != nil {
		b.topics.unsubscribeAll(subscriberID)
		prev.close()
	}
	for _, t := range topics {
		b.topics.subscribe(t, sub)
	}
	return sub
}

// Remove unsubscribes and closes a subscriber.
func (b *Broker) Remove(subscriberID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if ok {
		b.topics.unsubscribeAll(subscriberID)
		sub.close()
	}
}

// Stats reports broker counters.
type Stats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns current counters.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return Stats{
		Topics:      b.topics.count(),
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}

func (b *Broker) publish(evt *Event) {
	evt.Timestamp = b.now().UTC()
	delivered, dropped := b.topics.broadcast(topicsFor(evt), evt)
	b.published.Add(int64(delivered))
	if dropped > 0 {
		b.dropped.Add(int64(dropped))
	}
}

func jobData(j *job.Job) *JobEventData {
	return &JobEventData{
		JobID:       j.ID.String(),
		Kind:        j.Kind,
		Queue:       j.Queue,
		Schedule:    j.Schedule,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
	}
}

// ── Lifecycle hooks ─────────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publish(&Event{Type: EventJobEnqueued, Job: jobData(j)})
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publish(&Event{Type: EventJobStarted, Job: jobData(j)})
	return nil
}

func (b *Broker) OnJobSucceeded(_ context.Context, j *job.Job, elapsed time.Duration) error {
	d := jobData(j)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publish(&Event{Type: EventJobSucceeded, Job: d})
	return nil
}

func (b *Broker) OnJobReleased(_ context.Context, j *job.Job, delay time.Duration) error {
	d := jobData(j)
	d.DelayMs = delay.Milliseconds()
	b.publish(&Event{Type: EventJobReleased, Job: d})
	return nil
}

func (b *Broker) OnJobDeleted(_ context.Context, j *job.Job) error {
	b.publish(&Event{Type: EventJobDeleted, Job: jobData(j)})
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, _ int, nextAt time.Time) error {
	d := jobData(j)
	next := nextAt.UTC()
	d.NextAt = &next
	d.Error = j.LastError
	b.publish(&Event{Type: EventJobRetrying, Job: d})
	return nil
}

func (b *Broker) OnJobDead(_ context.Context, j *job.Job, err error) error {
	d := jobData(j)
	if err != nil {
		d.Error = err.Error()
	}
	b.publish(&Event{Type: EventJobDead, Job: d})
	return nil
}

func (b *Broker) OnScheduleFired(_ context.Context, name string, jobID id.JobID) error {
	b.publish(&Event{
		Type:     EventScheduleFired,
		Schedule: &ScheduleEventData{Name: name, JobID: jobID.String()},
	})
	return nil
}

// OnShutdown closes every subscriber and refuses new ones.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for subID, sub := range subs {
		b.topics.unsubscribeAll(subID)
		sub.close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
	return nil
}
