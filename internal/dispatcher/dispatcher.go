// Package dispatcher translates user intents into gateway calls and store
// updates, and runs the single loop through which every store mutation
// flows.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pipewatch/internal/api"
	"pipewatch/internal/gateway"
	"pipewatch/internal/session"
	"pipewatch/internal/store"
	"pipewatch/internal/stream"
	"pipewatch/pkg/models"
)

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type eventKind int

const (
	evReplacePipelines eventKind = iota
	evPipelineStatus
	evStageStatus
	evOpenDetail
	evCloseDetail
	evClear
)

// event is one unit of store mutation. The pull refresher, the stream
// reconciler, and the action handlers are all producers onto one ordered
// queue; the Run loop is the only consumer and the only store writer, so
// updates never interleave regardless of which goroutine produced them.
type event struct {
	kind       eventKind
	pipelines  []models.Pipeline
	stages     []models.Stage
	pipelineID string
	stageID    string
	status     string
	done       chan struct{} // closed once applied; nil for fire-and-forget
}

// Dispatcher wires session, API client, store, and stream reconciler
// together. Run must be started before any action is dispatched.
type Dispatcher struct {
	sess  *session.Manager
	api   *api.Client
	store *store.Store
	rec   *stream.Reconciler
	log   Logger

	afterAction time.Duration // delay before the confirmatory refresh
	interval    time.Duration // periodic refresh interval; zero disables

	events     chan event
	updates    chan struct{}
	refreshing atomic.Bool

	mu     sync.Mutex
	runCtx context.Context
}

// New creates a Dispatcher.
func New(sess *session.Manager, apiClient *api.Client, st *store.Store, streamClient *stream.Client, afterAction, interval time.Duration, log Logger) *Dispatcher {
	d := &Dispatcher{
		sess:        sess,
		api:         apiClient,
		store:       st,
		log:         log,
		afterAction: afterAction,
		interval:    interval,
		events:      make(chan event, 64),
		updates:     make(chan struct{}, 1),
	}
	d.rec = stream.NewReconciler(streamClient, d.submitStreamEvent, log)
	return d
}

// Run consumes the event queue until ctx is cancelled. It also drives the
// periodic pull refresh. The live stream subscription is released on every
// exit path.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	d.runCtx = ctx
	d.mu.Unlock()
	defer d.rec.Unsubscribe()

	var tick <-chan time.Time
	if d.interval > 0 {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			d.apply(ev)
		case <-tick:
			if d.sess.Valid() {
				go d.backgroundRefresh(ctx)
			}
		}
	}
}

// Updates returns a coalescing notification channel that fires after store
// mutations. Consumers re-read the store on each signal.
func (d *Dispatcher) Updates() <-chan struct{} {
	return d.updates
}

// apply is the single store-mutation function.
func (d *Dispatcher) apply(ev event) {
	switch ev.kind {
	case evReplacePipelines:
		d.store.ReplacePipelines(ev.pipelines)
	case evPipelineStatus:
		d.store.UpsertPipelineStatus(ev.pipelineID, ev.status)
	case evStageStatus:
		// Queued events can outlive the view they were meant for; the
		// pipeline id is re-checked at apply time, not just at routing time.
		if ev.pipelineID != "" && ev.pipelineID != d.store.ActivePipelineID() {
			d.log.Debug("dropping queued stage event for inactive pipeline %s", ev.pipelineID)
			break
		}
		d.store.UpsertStageStatus(ev.stageID, ev.status)
	case evOpenDetail:
		d.store.OpenPipelineDetail(ev.pipelineID, ev.stages)
	case evCloseDetail:
		d.store.CloseDetail()
	case evClear:
		d.store.Clear()
	}
	if ev.done != nil {
		close(ev.done)
	}
	select {
	case d.updates <- struct{}{}:
	default:
	}
}

// submit enqueues a fire-and-forget event. After shutdown nothing drains
// the queue, so a full queue must not block producers forever: once the
// run context is cancelled the event is dropped instead.
func (d *Dispatcher) submit(ev event) {
	d.mu.Lock()
	runCtx := d.runCtx
	d.mu.Unlock()

	if runCtx == nil {
		d.events <- ev
		return
	}
	select {
	case d.events <- ev:
	case <-runCtx.Done():
	}
}

// submitWait enqueues an event and blocks until the Run loop has applied
// it, giving the action handlers read-after-write semantics.
func (d *Dispatcher) submitWait(ctx context.Context, ev event) error {
	ev.done = make(chan struct{})
	select {
	case d.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) submitStreamEvent(ev models.StreamEvent) {
	switch ev.Kind {
	case models.EventPipeline:
		d.submit(event{kind: evPipelineStatus, pipelineID: ev.PipelineID, status: ev.Status})
	case models.EventStage:
		d.submit(event{kind: evStageStatus, pipelineID: ev.PipelineID, stageID: ev.StageID, status: ev.Status})
	default:
		d.log.Warn("dropping stream event of unknown kind %q", ev.Kind)
	}
}

// Refresh pulls the authoritative pipeline list and replaces the store's
// copy. A response that lands after the session it was issued under has
// ended is discarded, not applied.
func (d *Dispatcher) Refresh(ctx context.Context) error {
	userID := d.sess.CurrentUserID()
	if userID == "" {
		return gateway.ErrUnauthorized
	}
	epoch := d.sess.Epoch()

	pipelines, err := d.api.ListPipelines(ctx, userID)
	if err != nil {
		return err
	}
	if d.sess.Epoch() != epoch {
		d.log.Debug("discarding pipeline list fetched under an ended session")
		return nil
	}
	return d.submitWait(ctx, event{kind: evReplacePipelines, pipelines: pipelines})
}

func (d *Dispatcher) backgroundRefresh(ctx context.Context) {
	if !d.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer d.refreshing.Store(false)
	if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
		d.log.Warn("periodic refresh failed: %v", err)
	}
}

// scheduleRefresh arranges the confirmatory pull after an action, so the
// optimistic local state reconciles with what the server actually did.
func (d *Dispatcher) scheduleRefresh() {
	time.AfterFunc(d.afterAction, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := d.Refresh(ctx); err != nil {
			d.log.Debug("confirmatory refresh failed: %v", err)
		}
	})
}

// CreatePipeline creates a pipeline. Creation is pull-driven: there is no
// optimistic insert, the new pipeline shows up via the scheduled refresh.
func (d *Dispatcher) CreatePipeline(ctx context.Context, stages int, parallel bool) (*models.CreatePipelineResponse, error) {
	resp, err := d.api.CreatePipeline(ctx, d.sess.CurrentUserID(), stages, parallel)
	if err != nil {
		return nil, err
	}
	d.scheduleRefresh()
	return resp, nil
}

// StartPipeline starts a pipeline and optimistically marks it Running. On
// failure nothing is applied.
func (d *Dispatcher) StartPipeline(ctx context.Context, pipelineID string, input any, parallel bool) error {
	epoch := d.sess.Epoch()
	if err := d.api.StartPipeline(ctx, d.sess.CurrentUserID(), pipelineID, input, parallel); err != nil {
		return err
	}
	if d.sess.Epoch() != epoch {
		d.log.Debug("discarding start confirmation from an ended session")
		return gateway.ErrUnauthorized
	}
	if err := d.submitWait(ctx, event{kind: evPipelineStatus, pipelineID: pipelineID, status: models.PipelineRunning}); err != nil {
		return err
	}
	d.scheduleRefresh()
	return nil
}

// CancelPipeline cancels a pipeline and optimistically marks it Cancelled.
func (d *Dispatcher) CancelPipeline(ctx context.Context, pipelineID string, parallel bool) error {
	epoch := d.sess.Epoch()
	if err := d.api.CancelPipeline(ctx, d.sess.CurrentUserID(), pipelineID, parallel); err != nil {
		return err
	}
	if d.sess.Epoch() != epoch {
		d.log.Debug("discarding cancel confirmation from an ended session")
		return gateway.ErrUnauthorized
	}
	if err := d.submitWait(ctx, event{kind: evPipelineStatus, pipelineID: pipelineID, status: models.PipelineCancelled}); err != nil {
		return err
	}
	d.scheduleRefresh()
	return nil
}

// OpenStages fetches a pipeline's stages, opens the detail view, and
// subscribes to the pipeline's stream. Any previous subscription is closed
// before the view switches, so its routing goroutine cannot enqueue stage
// events behind the new detail view. A failed subscription leaves the
// detail view open on the pull path alone.
func (d *Dispatcher) OpenStages(ctx context.Context, pipelineID string) error {
	d.rec.Unsubscribe()

	epoch := d.sess.Epoch()
	stages, err := d.api.GetStages(ctx, pipelineID)
	if err != nil {
		return err
	}
	if d.sess.Epoch() != epoch {
		d.log.Debug("discarding stage list fetched under an ended session")
		return gateway.ErrUnauthorized
	}
	if err := d.submitWait(ctx, event{kind: evOpenDetail, pipelineID: pipelineID, stages: stages}); err != nil {
		return err
	}

	d.mu.Lock()
	streamCtx := d.runCtx
	d.mu.Unlock()
	if streamCtx == nil {
		streamCtx = ctx
	}
	if err := d.rec.Subscribe(streamCtx, pipelineID, d.sess.RawToken()); err != nil {
		if err == gateway.ErrUnauthorized {
			d.Logout(ctx)
			return gateway.ErrUnauthorized
		}
		d.log.Warn("stream subscription failed, relying on pull refresh: %v", err)
	}
	return nil
}

// CloseStages unsubscribes from the stream and clears the detail view.
func (d *Dispatcher) CloseStages(ctx context.Context) error {
	d.rec.Unsubscribe()
	return d.submitWait(ctx, event{kind: evCloseDetail})
}

// SaveProfile writes back the editable profile fields. The server response
// is authoritative and replaces the cached profile.
func (d *Dispatcher) SaveProfile(ctx context.Context, name, role string) (*models.User, error) {
	userID := d.sess.CurrentUserID()
	if userID == "" {
		return nil, gateway.ErrUnauthorized
	}
	epoch := d.sess.Epoch()

	user, err := d.api.UpdateUser(ctx, userID, name, role)
	if err != nil {
		return nil, err
	}
	if d.sess.Epoch() != epoch {
		d.log.Debug("discarding profile saved under an ended session")
		return nil, gateway.ErrUnauthorized
	}
	d.sess.SetProfile(*user)
	return user, nil
}

// Logout tears the whole session down: subscription, token, persisted
// profile fields, and all store state.
func (d *Dispatcher) Logout(ctx context.Context) {
	d.rec.Unsubscribe()
	d.sess.End()
	if err := d.submitWait(ctx, event{kind: evClear}); err != nil {
		d.log.Warn("failed to clear store on logout: %v", err)
	}
}
