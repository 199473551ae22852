package viewer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Sessions(t *testing.T) {
	m := newTestManager(t)

	s := m.Create()
	require.NotEmpty(t, s.ID())
	got, ok := m.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	same, created := m.GetOrCreate(s.ID())
	assert.False(t, created)
	assert.Same(t, s, same)

	other, created := m.GetOrCreate("stale-cookie")
	assert.True(t, created)
	assert.NotEqual(t, s.ID(), other.ID())
	assert.Equal(t, 2, m.Len())
}

func TestManager_SweepEvictsIdle(t *testing.T) {
	m := NewManager(Config{Log: zerolog.Nop(), IdleTTL: 30 * time.Minute})
	defer m.Close()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	idle := m.Create()
	streaming := m.Create()
	ch := streaming.Subscribe()
	active := m.Create()

	clock = clock.Add(20 * time.Minute)
	active.ToggleMenu()

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, m.Sweep())
	_, ok := m.Get(idle.ID())
	assert.False(t, ok)
	_, ok = m.Get(streaming.ID())
	assert.True(t, ok, "sessions with a stream are kept")
	_, ok = m.Get(active.ID())
	assert.True(t, ok)

	streaming.Unsubscribe(ch)
	clock = clock.Add(31 * time.Minute)
	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

func TestManager_RunClosesOnShutdown(t *testing.T) {
	m := NewManager(Config{Log: zerolog.Nop(), IdleTTL: time.Minute})
	s := m.Create()
	ch := s.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	_, open := <-ch
	assert.False(t, open, "streams are closed on shutdown")
	assert.Equal(t, 0, m.Len())
}
