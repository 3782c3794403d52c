// Package notify delivers user-facing notifications through a bounded
// queue and a fixed worker pool. Delivery is fire-and-forget: a send
// failure or a full queue never propagates back into the pipeline.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"screentime-backend/internal/model"
)

// Sender delivers a single notification to its transport (push gateway,
// message bus). Implementations live outside the pipeline.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// Dispatcher fans notifications out to a Sender via a bounded channel
// and a fixed number of workers. When the queue is full the notification
// is dropped and the drop is logged; it is never silently lost.
type Dispatcher struct {
	sender  Sender
	queue   chan model.Notification
	workers int

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher with the given queue capacity and
// worker count.
func NewDispatcher(sender Sender, queueSize, workers int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan model.Notification, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool. Workers run until Close is called and
// the queue has drained.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for n := range d.queue {
				if err := d.sender.Send(ctx, n); err != nil {
					log.Warn().
						Err(err).
						Int64("user_id", n.Recipient()).
						Msg("Notification delivery failed")
				}
			}
		}()
	}
}

// Enqueue offers a notification to the queue without blocking.
// Returns false when the queue is full and the notification was dropped.
func (d *Dispatcher) Enqueue(n model.Notification) bool {
	select {
	case d.queue <- n:
		return true
	default:
		log.Warn().
			Int64("user_id", n.Recipient()).
			Msg("Notification queue full, dropping")
		return false
	}
}

// Close stops accepting notifications and waits for the workers to drain
// the queue.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

// LogSender is a Sender that writes notifications to the log. It is the
// default transport when no push gateway is wired in, and doubles as the
// reference for rendering each notification kind.
type LogSender struct{}

// Send renders and logs one notification. The switch is exhaustive over
// the notification kinds.
func (LogSender) Send(_ context.Context, n model.Notification) error {
	switch v := n.(type) {
	case model.ChallengeRewardNotification:
		log.Info().
			Int64("user_id", v.UserID).
			Int64("challenge_id", v.ChallengeID).
			Int("rank", v.Rank).
			Int64("amount", v.Amount).
			Msg("Challenge reward notification")
	case model.WinnerBroadcastNotification:
		log.Info().
			Int64("challenge_id", v.ChallengeID).
			Int64("winner_id", v.WinnerID).
			Str("title", v.Title).
			Msg("Challenge winner broadcast")
	case model.CoinChangeNotification:
		log.Info().
			Int64("user_id", v.UserID).
			Int64("delta", v.Delta).
			Str("reason", v.Reason).
			Msg("Coin change notification")
	}
	return nil
}
