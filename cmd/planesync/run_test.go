package main

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/planesync/pkg/events"
)

// syncBuffer lets the test read what the logging goroutine writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestLogEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// subscribed before anything is published, so the first event is seen
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	broker.Publish(&events.Event{
		Type:     events.EventNodeCreated,
		Message:  "created node node-1",
		Metadata: map[string]string{"node_id": "node-1"},
	})

	var buf syncBuffer
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		logEvents(zerolog.New(&buf), sub, done)
	}()

	require.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("created node node-1"))
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, string(buf.Bytes()), `"node_id":"node-1"`)

	// the broker never closes sub on Stop; done alone ends the loop
	broker.Stop()
	close(done)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("logEvents did not return after done was closed")
	}
}

func TestLogEvents_ReturnsWhenUnsubscribed(t *testing.T) {
	broker := events.NewBroker()
	sub := broker.Subscribe()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		logEvents(zerolog.Nop(), sub, make(chan struct{}))
	}()

	broker.Unsubscribe(sub)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("logEvents did not return after unsubscribe")
	}
}
