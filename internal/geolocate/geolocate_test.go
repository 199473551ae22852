package geolocate

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	reading Reading
	err     error
}

// scripted answers CurrentPosition calls from a fixed list.
type scripted struct {
	mu        sync.Mutex
	supported bool
	steps     []step
	calls     []Options
}

func (s *scripted) Supported() bool { return s.supported }

func (s *scripted) CurrentPosition(ctx context.Context, opts Options) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	if len(s.steps) == 0 {
		return Reading{}, ErrPositionUnavailable
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.reading, st.err
}

func ptr(f float64) *float64 { return &f }

func TestLocate_HighAccuracySuccess(t *testing.T) {
	loc := &scripted{supported: true, steps: []step{
		{reading: Reading{Lon: 139.7454, Lat: 35.6586, Heading: ptr(90)}},
	}}
	svc := NewService(loc, zerolog.Nop())

	fix, err := svc.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orb.Point{139.7454, 35.6586}, fix.Position)
	assert.Equal(t, 90.0, fix.Heading)
	require.Len(t, loc.calls, 1)
	assert.True(t, loc.calls[0].EnableHighAccuracy)
	assert.Equal(t, 5*time.Second, loc.calls[0].Timeout)
}

func TestLocate_FallsBackToLowAccuracy(t *testing.T) {
	loc := &scripted{supported: true, steps: []step{
		{err: ErrTimeout},
		{reading: Reading{Lon: 1, Lat: 2}},
	}}
	svc := NewService(loc, zerolog.Nop())

	fix, err := svc.Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 2}, fix.Position)
	assert.Equal(t, 0.0, fix.Heading, "missing heading normalises to 0")

	require.Len(t, loc.calls, 2)
	assert.True(t, loc.calls[0].EnableHighAccuracy)
	assert.False(t, loc.calls[1].EnableHighAccuracy)
	assert.Greater(t, loc.calls[1].Timeout, loc.calls[0].Timeout)
}

func TestLocate_TerminalFailureNotifiesOnce(t *testing.T) {
	loc := &scripted{supported: true, steps: []step{
		{err: ErrTimeout},
		{err: ErrPermissionDenied},
	}}
	var results int
	var last error
	svc := NewService(loc, zerolog.Nop(), OnResult(func(_ Fix, err error) {
		results++
		last = err
	}))

	_, err := svc.Locate(context.Background())
	require.Error(t, err)

	var le *LocateError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Len(t, loc.calls, 2, "no retry beyond the low-accuracy attempt")
	assert.Equal(t, 1, results)
	assert.Equal(t, err, last)
}

func TestLocate_Unsupported(t *testing.T) {
	loc := &scripted{supported: false}
	svc := NewService(loc, zerolog.Nop())

	_, err := svc.Locate(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, loc.calls)
	assert.Equal(t, "Geolocation is not supported by your browser", Message(err))
}

func TestLocate_UnsupportedDiscoveredNoRetry(t *testing.T) {
	loc := &scripted{supported: true, steps: []step{
		{err: ErrUnsupported},
		{reading: Reading{Lon: 1, Lat: 2}},
	}}
	var results []error
	svc := NewService(loc, zerolog.Nop(), OnResult(func(_ Fix, err error) {
		results = append(results, err)
	}))

	_, err := svc.Locate(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Len(t, loc.calls, 1)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0], ErrUnsupported)
}

// blocking holds every call until release is closed.
type blocking struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blocking) Supported() bool { return true }

func (b *blocking) CurrentPosition(ctx context.Context, opts Options) (Reading, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-b.release:
		return Reading{Lon: 3, Lat: 4, Heading: ptr(180)}, nil
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}

func TestLocate_ConcurrentCallsJoinInFlight(t *testing.T) {
	loc := &blocking{started: make(chan struct{}), release: make(chan struct{})}
	var results atomic.Int32
	svc := NewService(loc, zerolog.Nop(), OnResult(func(Fix, error) { results.Add(1) }))

	var wg sync.WaitGroup
	fixes := make([]Fix, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		fixes[0], errs[0] = svc.Locate(context.Background())
	}()
	<-loc.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		fixes[1], errs[1] = svc.Locate(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(loc.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, fixes[0], fixes[1])
	assert.Equal(t, int32(1), loc.calls.Load())
	assert.Equal(t, int32(1), results.Load())
}

func TestLocate_DeadlineBecomesTimeout(t *testing.T) {
	loc := &blocking{started: make(chan struct{}), release: make(chan struct{})}
	fast := Options{EnableHighAccuracy: true, Timeout: 10 * time.Millisecond}
	slow := Options{EnableHighAccuracy: false, Timeout: 20 * time.Millisecond}
	svc := NewService(loc, zerolog.Nop(), WithOptions(fast, slow), WithGrace(0))

	_, err := svc.Locate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(2), loc.calls.Load())
}

func TestNormalizeHeading(t *testing.T) {
	assert.Equal(t, 0.0, NormalizeHeading(nil))
	assert.Equal(t, 0.0, NormalizeHeading(ptr(math.NaN())))
	assert.Equal(t, 0.0, NormalizeHeading(ptr(math.Inf(1))))
	assert.Equal(t, 270.0, NormalizeHeading(ptr(270)))
}

func TestMessage(t *testing.T) {
	assert.Empty(t, Message(nil))
	assert.Contains(t, Message(&LocateError{High: ErrTimeout, Low: ErrTimeout}), "in time")
	assert.Contains(t, Message(errors.New("boom")), "Could not determine")
}
