package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSink struct {
	release chan struct{}
	got     chan Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.got <- e
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("sink exploded") }

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	assert.Nil(t, d)
	d.Emit(context.Background(), NewEvent("x", true, time.Now()))
	d.Close()
	assert.Zero(t, d.Dropped())
	assert.Zero(t, d.Delivered())
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for _, typ := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), NewEvent(typ, true, time.Now()))
	}
	d.Close()

	var got []string
	for range 3 {
		got = append(got, (<-sink.Events()).EventType)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.EqualValues(t, 3, d.Delivered())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for range 10 {
		d.Emit(context.Background(), NewEvent("login", true, time.Now()))
	}
	assert.Positive(t, d.Dropped())

	close(sink.release)
	d.Close()
	assert.Equal(t, uint64(10), d.Dropped()+d.Delivered())
}

func TestDispatcherCountsCancelledEmit(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), got: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Emit(context.Background(), NewEvent("a", true, time.Now()))
	d.Emit(context.Background(), NewEvent("b", true, time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, NewEvent("c", true, time.Now()))
	assert.EqualValues(t, 1, d.Dropped())

	close(sink.release)
	d.Close()
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{})
	d.Emit(context.Background(), NewEvent("a", false, time.Now()))
	d.Close()
	assert.EqualValues(t, 1, d.Dropped())
	assert.Zero(t, d.Delivered())
}

func TestEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Close()
	d.Emit(context.Background(), NewEvent("late", true, time.Now()))
	assert.Empty(t, sink.Events())
}

func TestNewEventStampsIDAndUTC(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	e1 := NewEvent("login", true, now)
	e2 := NewEvent("login", true, now)
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.Equal(t, time.UTC, e1.Timestamp.Location())
	assert.True(t, e1.Timestamp.Equal(now))
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	e := NewEvent("session_created", true, time.Now())
	e.Provider = "github"
	sink.Emit(context.Background(), e)
	sink.Emit(context.Background(), e)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "github", decoded.Provider)
	assert.NotContains(t, lines[0], "error_kind")
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := NewEvent("login_failed", false, time.Now())
	e.ErrorKind = "StateMismatch"
	e.Metadata = map[string]string{"strategy": "token"}
	NewSlogSink(logger, slog.LevelWarn).Emit(context.Background(), e)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "login_failed", rec["event_type"])
	assert.Equal(t, "StateMismatch", rec["error_kind"])
	assert.Equal(t, "token", rec["meta.strategy"])
	assert.Equal(t, false, rec["success"])
}
