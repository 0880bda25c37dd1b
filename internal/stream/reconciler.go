package stream

import (
	"context"
	"sync"

	"pipewatch/pkg/models"
)

// Apply delivers one stream event to the store-mutation queue.
type Apply func(models.StreamEvent)

// Reconciler owns the live subscription. At most one subscription is ever
// open: subscribing while another is live closes the old one first, and
// Unsubscribe is safe to call when nothing is open.
type Reconciler struct {
	client *Client
	apply  Apply
	log    Logger

	mu         sync.Mutex
	pipelineID string
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewReconciler creates a Reconciler that forwards accepted events to
// apply.
func NewReconciler(client *Client, apply Apply, log Logger) *Reconciler {
	return &Reconciler{client: client, apply: apply, log: log}
}

// Subscribe opens the stream for pipelineID, first closing any live
// subscription. Events for other pipelines' stages are discarded so a
// stale or mixed-up stream can never leak into the active detail view.
func (r *Reconciler) Subscribe(ctx context.Context, pipelineID, token string) error {
	r.Unsubscribe()

	subCtx, cancel := context.WithCancel(ctx)
	events, err := r.client.Open(subCtx, pipelineID, token)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.pipelineID = pipelineID
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for ev := range events {
			if ev.Kind == models.EventStage && ev.PipelineID != pipelineID {
				r.log.Debug("discarding stage event for inactive pipeline %s", ev.PipelineID)
				continue
			}
			r.apply(ev)
		}
		// The stream ended on its own (transport fault or server close).
		// Release the context and stop reporting the subscription as live,
		// unless Unsubscribe already took ownership of the teardown.
		cancel()
		r.mu.Lock()
		if r.done == done {
			r.pipelineID = ""
			r.cancel = nil
			r.done = nil
		}
		r.mu.Unlock()
	}()

	return nil
}

// Unsubscribe closes the live subscription, if any, and waits for its
// routing goroutine to drain. Idempotent.
func (r *Reconciler) Unsubscribe() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.pipelineID = ""
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active returns the pipeline id of the live subscription, or "".
func (r *Reconciler) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineID
}
