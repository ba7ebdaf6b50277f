package notify

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Deliverer pushes one notification out on a concrete channel.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogDeliverer writes notifications to the process log. It stands in
// for email/SMS channels, which live outside the booking engine.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, n Notification) error {
	log.Printf("notification event=%s recipient=%s payload=%s", n.EventType, n.RecipientID, n.Payload)
	return nil
}

// Worker drains the outbox on an interval. Delivery is at-least-once:
// a notification is only marked delivered after the deliverer accepts
// it, and a failed delivery is retried on the next drain.
type Worker struct {
	store     *OutboxStore
	deliverer Deliverer
	batchSize int
}

func NewWorker(store *OutboxStore, deliverer Deliverer, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		store:     store,
		deliverer: deliverer,
		batchSize: batchSize,
	}
}

// Run blocks until ctx is done, draining every interval.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	// Drain once at startup so a restart does not delay pending events.
	if n, err := w.DrainOnce(ctx); err != nil {
		log.Printf("notify drain error: %v", err)
	} else if n > 0 {
		log.Printf("notify drain delivered %d notifications", n)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.DrainOnce(ctx)
			if err != nil {
				log.Printf("notify drain error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("notify drain delivered %d notifications", n)
			}
		}
	}
}

// DrainOnce delivers up to batchSize pending notifications and returns
// how many were delivered.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	pending, err := w.store.FetchPending(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	delivered := 0
	for _, n := range pending {
		if err := w.deliverer.Deliver(ctx, n); err != nil {
			log.Printf("deliver notification %s (%s): %v", n.ID, n.EventType, err)
			continue
		}
		ok, err := w.store.MarkDelivered(ctx, n.ID)
		if err != nil {
			log.Printf("mark notification %s delivered: %v", n.ID, err)
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}
