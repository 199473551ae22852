package geolocate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridge_Resolve(t *testing.T) {
	sent := make(chan Request, 1)
	b := NewBridge(func(r Request) error {
		sent <- r
		return nil
	})
	assert.True(t, b.Supported(), "support is assumed until reported")
	b.SetSupported(false)
	assert.False(t, b.Supported())
	b.SetSupported(true)

	done := make(chan Reading, 1)
	go func() {
		r, err := b.CurrentPosition(context.Background(), HighAccuracy)
		if err == nil {
			done <- r
		}
	}()

	req := <-sent
	assert.True(t, req.EnableHighAccuracy)
	assert.Equal(t, int64(5000), req.TimeoutMS)
	assert.NotEmpty(t, req.ID)

	require.True(t, b.Resolve(req.ID, Reading{Lon: 139.7, Lat: 35.6}))
	select {
	case r := <-done:
		assert.Equal(t, 139.7, r.Lon)
	case <-time.After(time.Second):
		t.Fatal("CurrentPosition did not return")
	}
	assert.Equal(t, 0, b.Pending())
	assert.False(t, b.Resolve(req.ID, Reading{}), "a request is answered once")
}

func TestBridge_Reject(t *testing.T) {
	sent := make(chan Request, 1)
	b := NewBridge(func(r Request) error {
		sent <- r
		return nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := b.CurrentPosition(context.Background(), LowAccuracy)
		errc <- err
	}()

	req := <-sent
	assert.False(t, req.EnableHighAccuracy)
	require.True(t, b.Reject(req.ID, CodePermissionDenied, "User denied Geolocation"))
	err := <-errc
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "User denied")
}

func TestBridge_ContextDeadline(t *testing.T) {
	b := NewBridge(func(Request) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.CurrentPosition(ctx, HighAccuracy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_SendFailure(t *testing.T) {
	b := NewBridge(func(Request) error { return errors.New("stream closed") })
	_, err := b.CurrentPosition(context.Background(), HighAccuracy)
	assert.ErrorContains(t, err, "stream closed")
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_UnknownRequest(t *testing.T) {
	b := NewBridge(func(Request) error { return nil })
	assert.False(t, b.Resolve("nope", Reading{}))
	assert.False(t, b.Reject("nope", CodeTimeout, ""))
}

func TestCodeError(t *testing.T) {
	assert.Equal(t, ErrPermissionDenied, CodeError(CodePermissionDenied, ""))
	assert.Equal(t, ErrTimeout, CodeError(CodeTimeout, ""))
	assert.Equal(t, ErrPositionUnavailable, CodeError(CodePositionUnavailable, ""))
	assert.ErrorIs(t, CodeError(99, "odd"), ErrPositionUnavailable)
}

func TestBridge_RejectUnsupported(t *testing.T) {
	sent := make(chan Request, 1)
	b := NewBridge(func(r Request) error {
		sent <- r
		return nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := b.CurrentPosition(context.Background(), HighAccuracy)
		errc <- err
	}()

	req := <-sent
	require.True(t, b.Reject(req.ID, CodeUnsupported, ""))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrUnsupported)
	case <-time.After(time.Second):
		t.Fatal("CurrentPosition did not return")
	}
	assert.False(t, b.Supported())
}
