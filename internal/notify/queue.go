package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
)

// ErrQueueFull is returned when an event is dropped because the delivery
// buffer is full
var ErrQueueFull = errors.New("notification queue is full")

type delivery struct {
	to    Recipient
	event Event
}

// Queue hands events to a wrapped notifier on its own goroutine so callers
// never wait on a slow sink. When the buffer is full the event is dropped and
// counted.
type Queue struct {
	next      Notifier
	events    chan delivery
	timeout   time.Duration
	dropped   atomic.Int64
	failed    atomic.Int64
	delivered atomic.Int64
	logger    *logger.Logger
}

// NewQueue wraps next with a buffer of the given size
func NewQueue(next Notifier, buffer int, log *logger.Logger) *Queue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Queue{
		next:    next,
		events:  make(chan delivery, buffer),
		timeout: 5 * time.Second,
		logger:  log,
	}
}

// Notify enqueues the event and returns immediately
func (q *Queue) Notify(_ context.Context, to Recipient, event Event) error {
	select {
	case q.events <- delivery{to: to, event: event}:
		return nil
	default:
		q.dropped.Add(1)
		observability.NotificationsDropped.Inc()
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done, then flushes what is left
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case d := <-q.events:
			q.deliver(d)
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case d := <-q.events:
			q.deliver(d)
		default:
			return
		}
	}
}

func (q *Queue) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	if err := q.next.Notify(ctx, d.to, d.event); err != nil {
		q.failed.Add(1)
		observability.NotificationsFailed.WithLabelValues(string(d.event.Kind)).Inc()
		q.logger.Warn("Failed to deliver notification",
			logger.RideID(d.event.RideID),
			logger.String("kind", string(d.event.Kind)),
			logger.String("role", string(d.to.Role)),
			logger.String("recipient_id", d.to.ID),
			logger.Err(err),
		)
		return
	}
	q.delivered.Add(1)
}

// Dropped returns how many events were discarded because the buffer was full
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Failed returns how many events the wrapped notifier rejected
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

// Delivered returns how many events reached the wrapped notifier
func (q *Queue) Delivered() int64 {
	return q.delivered.Load()
}
