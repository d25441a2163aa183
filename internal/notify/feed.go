// Package notify delivers ledger events to subscribers in commit order.
// Subscribers read from the persisted event log, so they can start from
// any sequence number and replay history before following live writes.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 256
)

// Handler receives one event. An error is logged and the event is not
// redelivered.
type Handler func(ctx context.Context, ev domain.Event) error

type Feed struct {
	log    domain.EventLog
	logger *zap.Logger

	pollInterval time.Duration
	batchSize    int

	mu   sync.Mutex
	wake chan struct{}
}

func NewFeed(log domain.EventLog, logger *zap.Logger) *Feed {
	return &Feed{
		log:          log,
		logger:       logger,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		wake:         make(chan struct{}),
	}
}

// SetPollInterval bounds how long a subscriber waits when it is not woken,
// which is how writes from other processes are picked up.
func (f *Feed) SetPollInterval(d time.Duration) {
	if d > 0 {
		f.pollInterval = d
	}
}

// Notify wakes every subscriber. Call it after a ledger write commits.
func (f *Feed) Notify() {
	f.mu.Lock()
	close(f.wake)
	f.wake = make(chan struct{})
	f.mu.Unlock()
}

func (f *Feed) waitCh() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wake
}

// Subscription is a running subscriber. Cursor is the last delivered seq.
type Subscription struct {
	cursor int64
	mu     sync.Mutex
	done   chan struct{}
}

func (s *Subscription) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe delivers every event with seq > after to h, one at a time and in
// seq order, until ctx is cancelled. types filters by event type; empty
// means all.
func (f *Feed) Subscribe(ctx context.Context, after int64, types []domain.EventType, h Handler) *Subscription {
	sub := &Subscription{cursor: after, done: make(chan struct{})}
	want := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	go func() {
		defer close(sub.done)
		timer := time.NewTimer(f.pollInterval)
		defer timer.Stop()

		for {
			// Take the wake channel before reading so a Notify that lands
			// mid-read is not missed.
			wake := f.waitCh()

			events, err := f.log.LoadAfter(ctx, sub.Cursor(), f.batchSize)
			if err != nil && ctx.Err() == nil {
				f.logger.Warn("feed read failed", zap.Int64("after", sub.Cursor()), zap.Error(err))
			}
			for _, ev := range events {
				if ctx.Err() != nil {
					return
				}
				if len(want) == 0 || want[ev.Type] {
					if err := h(ctx, ev); err != nil {
						f.logger.Warn("feed handler failed",
							zap.Int64("seq", ev.Seq),
							zap.String("type", string(ev.Type)),
							zap.Error(err))
					}
				}
				sub.mu.Lock()
				sub.cursor = ev.Seq
				sub.mu.Unlock()
			}
			if err == nil && len(events) == f.batchSize {
				continue
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(f.pollInterval)
			select {
			case <-ctx.Done():
				return
			case <-wake:
			case <-timer.C:
			}
		}
	}()
	return sub
}
