package telemetry

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.Publish(Event{Type: EventWebViewOpened, WebView: "2-1"})

	select {
	case received := <-ch:
		assert.Equal(t, EventWebViewOpened, received.Type)
		assert.Equal(t, "2-1", received.WebView)
		assert.False(t, received.Timestamp.IsZero(), "timestamp should be filled in")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_UnsubscribeByID(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, id := hub.SubscribeWithID()
	hub.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, hub.SubscriberCount())

	assert.NotPanics(t, func() {
		hub.Unsubscribe(id)
	})
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	_, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	before := testutil.ToFloat64(metricHubDrops)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish(Event{Type: EventPipelineLaunched})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(metricHubDrops)-before, float64(200-64))
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	ch1, _ := hub.Subscribe()
	ch2, _ := hub.Subscribe()

	hub.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)

	late, _ := hub.Subscribe()
	_, ok := <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")

	assert.NotPanics(t, func() {
		hub.Publish(Event{Type: EventShutdownComplete})
		hub.Close()
	})
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				hub.Publish(Event{Type: EventPipelineClosed})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 32)
}

func TestNilHubPublish(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() {
		hub.Publish(Event{Type: EventLoadComplete})
	})
}

func TestRecordPipelineLifecycle(t *testing.T) {
	active := testutil.ToFloat64(metricPipelinesActive)
	exited := testutil.ToFloat64(metricPipelinesClosed.WithLabelValues(OutcomeExited))

	RecordPipelineLaunched()
	RecordPipelineLaunched()
	RecordPipelineClosed(OutcomeExited)

	assert.Equal(t, active+1, testutil.ToFloat64(metricPipelinesActive))
	assert.Equal(t, exited+1, testutil.ToFloat64(metricPipelinesClosed.WithLabelValues(OutcomeExited)))
}

func TestRecordEpoch(t *testing.T) {
	accepted := testutil.ToFloat64(metricEpochs.WithLabelValues("accepted"))
	rejected := testutil.ToFloat64(metricEpochs.WithLabelValues("rejected"))

	RecordEpoch(true)
	RecordEpoch(false)
	RecordEpoch(false)

	assert.Equal(t, accepted+1, testutil.ToFloat64(metricEpochs.WithLabelValues("accepted")))
	assert.Equal(t, rejected+2, testutil.ToFloat64(metricEpochs.WithLabelValues("rejected")))
}

func TestTracerProvider(t *testing.T) {
	var out bytes.Buffer

	tp, err := NewTracerProvider("constellation-test", true, &out)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "screenshot")
	span.SetAttributes(AttrWebView.String("2-1"))
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "screenshot")
	assert.Contains(t, out.String(), "constellation.webview")
}

func TestTracerProvider_Disabled(t *testing.T) {
	tp, err := NewTracerProvider("constellation-test", false, nil)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "ignored")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tp.Shutdown(context.Background()))
}
