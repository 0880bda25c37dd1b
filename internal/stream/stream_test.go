package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipewatch/internal/apitest"
	"pipewatch/internal/gateway"
	"pipewatch/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Warn(msg string, args ...any)  {}

type collector struct {
	ch chan models.StreamEvent
}

func newCollector() *collector {
	return &collector{ch: make(chan models.StreamEvent, 32)}
}

func (c *collector) apply(ev models.StreamEvent) { c.ch <- ev }

func (c *collector) next(t *testing.T) models.StreamEvent {
	t.Helper()
	select {
	case ev := <-c.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return models.StreamEvent{}
	}
}

func (c *collector) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-c.ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func freshToken() string {
	return apitest.MintToken("u1", time.Now().Add(time.Hour))
}

func waitForStreams(t *testing.T, srv *apitest.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.OpenStreams() == n },
		2*time.Second, 10*time.Millisecond, "expected %d open streams", n)
}

func TestOpen_DeliversEvents(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.Open(ctx, "p1", freshToken())
	require.NoError(t, err)
	waitForStreams(t, srv, 1)

	srv.Push("p1", models.StreamEvent{Kind: models.EventStage, PipelineID: "p1", StageID: "s1", Status: models.StageCompleted})

	select {
	case ev := <-events:
		assert.Equal(t, models.EventStage, ev.Kind)
		assert.Equal(t, "s1", ev.StageID)
		assert.Equal(t, models.StageCompleted, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, open := <-events:
		assert.False(t, open, "channel must close on cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}

func TestOpen_DropsMalformedEventsAndKeepsStreaming(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.Open(ctx, "p1", freshToken())
	require.NoError(t, err)
	waitForStreams(t, srv, 1)

	srv.PushRaw("p1", `{not json at all`)
	srv.PushRaw("p1", `{"type":"stage","pipeline_id":"p1","stage_id":"s1"}`) // status missing
	srv.Push("p1", models.StreamEvent{Kind: models.EventPipeline, PipelineID: "p1", Status: models.PipelineRunning})

	select {
	case ev := <-events:
		assert.Equal(t, models.EventPipeline, ev.Kind, "only the well-formed event survives")
		assert.Equal(t, models.PipelineRunning, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription died on a malformed event")
	}
}

func TestOpen_RejectsBadToken(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})

	expired := apitest.MintToken("u1", time.Now().Add(-time.Minute))
	_, err := client.Open(context.Background(), "p1", expired)
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
}

func TestReconciler_RoutesEvents(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})
	col := newCollector()
	rec := NewReconciler(client, col.apply, &NoOpLogger{})
	defer rec.Unsubscribe()

	require.NoError(t, rec.Subscribe(context.Background(), "p1", freshToken()))
	waitForStreams(t, srv, 1)
	assert.Equal(t, "p1", rec.Active())

	srv.Push("p1", models.StreamEvent{Kind: models.EventPipeline, PipelineID: "p1", Status: models.PipelineCompleted})
	ev := col.next(t)
	assert.Equal(t, models.EventPipeline, ev.Kind)
}

func TestReconciler_FiltersCrossPipelineStageEvents(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})
	col := newCollector()
	rec := NewReconciler(client, col.apply, &NoOpLogger{})
	defer rec.Unsubscribe()

	require.NoError(t, rec.Subscribe(context.Background(), "p1", freshToken()))
	waitForStreams(t, srv, 1)

	// a stage event for another pipeline must never reach the store
	srv.Push("p1", models.StreamEvent{Kind: models.EventStage, PipelineID: "p2", StageID: "sX", Status: models.StageFailed})
	col.expectNone(t)

	srv.Push("p1", models.StreamEvent{Kind: models.EventStage, PipelineID: "p1", StageID: "s1", Status: models.StageRunning})
	ev := col.next(t)
	assert.Equal(t, "s1", ev.StageID)
}

func TestReconciler_AtMostOneSubscription(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})
	col := newCollector()
	rec := NewReconciler(client, col.apply, &NoOpLogger{})
	defer rec.Unsubscribe()

	require.NoError(t, rec.Subscribe(context.Background(), "p1", freshToken()))
	waitForStreams(t, srv, 1)

	require.NoError(t, rec.Subscribe(context.Background(), "p2", freshToken()))
	assert.Equal(t, "p2", rec.Active())
	waitForStreams(t, srv, 1)

	// the old subscription is gone: events for p1 no longer flow
	srv.Push("p1", models.StreamEvent{Kind: models.EventPipeline, PipelineID: "p1", Status: models.PipelineCompleted})
	col.expectNone(t)

	srv.Push("p2", models.StreamEvent{Kind: models.EventPipeline, PipelineID: "p2", Status: models.PipelineRunning})
	ev := col.next(t)
	assert.Equal(t, "p2", ev.PipelineID)
}

func TestReconciler_UnsubscribeIsSafeWhenNothingIsOpen(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", &NoOpLogger{})
	rec := NewReconciler(client, func(models.StreamEvent) {}, &NoOpLogger{})

	rec.Unsubscribe()
	rec.Unsubscribe()
	assert.Equal(t, "", rec.Active())
}

func TestReconciler_TransportFaultClosesSubscription(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	client := NewClient(srv.URL(), &NoOpLogger{})
	col := newCollector()
	rec := NewReconciler(client, col.apply, &NoOpLogger{})
	defer rec.Unsubscribe()

	require.NoError(t, rec.Subscribe(context.Background(), "p1", freshToken()))
	waitForStreams(t, srv, 1)

	// server drops every stream connection; no reconnect is attempted
	srv.CloseStreams()
	waitForStreams(t, srv, 0)

	srv.Push("p1", models.StreamEvent{Kind: models.EventPipeline, PipelineID: "p1", Status: models.PipelineCompleted})
	col.expectNone(t)

	// the dead subscription is no longer reported as live
	require.Eventually(t, func() bool { return rec.Active() == "" },
		2*time.Second, 10*time.Millisecond)

	// and a fresh subscription still works afterwards
	require.NoError(t, rec.Subscribe(context.Background(), "p2", freshToken()))
	waitForStreams(t, srv, 1)
	assert.Equal(t, "p2", rec.Active())
	srv.Push("p2", models.StreamEvent{Kind: models.EventPipeline, PipelineID: "p2", Status: models.PipelineRunning})
	ev := col.next(t)
	assert.Equal(t, "p2", ev.PipelineID)
}
