package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// testStop returns a stop func that closes stopped once, standing in for
// cutting the exec attach: a reader parked in <-stopped sees the EOF.
func testStop() (func(), chan struct{}) {
	stopped := make(chan struct{})
	var once sync.Once
	return func() { once.Do(func() { close(stopped) }) }, stopped
}

func TestStreamEventsCompletion(t *testing.T) {
	sb := &Sandbox{name: "test"}
	raw := make(chan chat.ExecEvent)
	out := make(chan chat.ExecEvent, 16)
	stop, _ := testStop()

	go func() {
		raw <- chat.ExecEvent{Stream: chat.ExecStdout, Text: "one\n"}
		raw <- chat.ExecEvent{Stream: chat.ExecStderr, Text: "two\n"}
		close(raw)
	}()

	go sb.streamEvents(context.Background(), raw, out, time.Minute, stop, func() int { return 7 })

	var events []chat.ExecEvent
	for event := range out {
		events = append(events, event)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "one\n", events[0].Text)
	assert.Equal(t, "two\n", events[1].Text)
	assert.Equal(t, chat.ExecReturnCode, events[2].Stream)
	assert.Equal(t, 7, events[2].Code)
}

func TestStreamEventsCancelDrainsReaders(t *testing.T) {
	sb := &Sandbox{name: "test"}
	raw := make(chan chat.ExecEvent)
	out := make(chan chat.ExecEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	stop, stopped := testStop()

	var readerExited atomic.Bool
	go func() {
		// A pipe reader has no bail-out path while blocked on a send;
		// only draining raw unblocks it after the consumer stops.
		raw <- chat.ExecEvent{Stream: chat.ExecStdout, Text: "one\n"}
		raw <- chat.ExecEvent{Stream: chat.ExecStdout, Text: "two\n"}
		<-stopped
		close(raw)
		readerExited.Store(true)
	}()

	go sb.streamEvents(ctx, raw, out, time.Minute, stop, func() int { return 0 })

	first := <-out
	assert.Equal(t, "one\n", first.Text)
	cancel()

	var events []chat.ExecEvent
	for event := range out {
		events = append(events, event)
	}
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, chat.ExecReturnCode, last.Stream)
	assert.Equal(t, 0, last.Code)

	require.Eventually(t, readerExited.Load, time.Second, 10*time.Millisecond)
}

func TestStreamEventsSecondTimeoutTearsDown(t *testing.T) {
	sb := &Sandbox{name: "test"}
	raw := make(chan chat.ExecEvent)
	out := make(chan chat.ExecEvent, 16)
	stop, stopped := testStop()

	var readerExited atomic.Bool
	go func() {
		raw <- chat.ExecEvent{Stream: chat.ExecStdout, Text: "slow\n"}
		<-stopped
		close(raw)
		readerExited.Store(true)
	}()

	go sb.streamEvents(context.Background(), raw, out, 20*time.Millisecond, stop, func() int { return -1 })

	var events []chat.ExecEvent
	for event := range out {
		events = append(events, event)
	}

	// First expiry emits the timeout marker, the second tears down.
	require.Len(t, events, 3)
	assert.Equal(t, chat.ExecStdout, events[0].Stream)
	assert.Equal(t, chat.ExecTimeout, events[1].Stream)
	assert.Equal(t, chat.ExecReturnCode, events[2].Stream)
	assert.Equal(t, -1, events[2].Code)

	require.Eventually(t, readerExited.Load, time.Second, 10*time.Millisecond)
}
