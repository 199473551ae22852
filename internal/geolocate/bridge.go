package geolocate

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Position error codes reported by the browser geolocation API. The page
// answers CodeUnsupported when the API is missing.
const (
	CodeUnsupported         = 0
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// Request asks the browser for one position reading.
type Request struct {
	ID                 string `json:"id"`
	EnableHighAccuracy bool   `json:"enableHighAccuracy"`
	TimeoutMS          int64  `json:"timeout"`
	MaximumAgeMS       int64  `json:"maximumAge"`
}

type reply struct {
	reading Reading
	err     error
}

// Bridge is a Locator backed by the browser. Each CurrentPosition call
// sends a Request through send and waits for the browser to answer it via
// Resolve or Reject.
type Bridge struct {
	send func(Request) error

	mu        sync.Mutex
	supported bool
	pending   map[string]chan reply
}

// NewBridge creates a bridge that delivers requests with send. Support is
// assumed until the browser says otherwise.
func NewBridge(send func(Request) error) *Bridge {
	return &Bridge{
		send:      send,
		supported: true,
		pending:   make(map[string]chan reply),
	}
}

// SetSupported records whether the browser exposes geolocation.
func (b *Bridge) SetSupported(ok bool) {
	b.mu.Lock()
	b.supported = ok
	b.mu.Unlock()
}

func (b *Bridge) Supported() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supported
}

// CurrentPosition implements Locator.
func (b *Bridge) CurrentPosition(ctx context.Context, opts Options) (Reading, error) {
	req := Request{
		ID:                 uuid.NewString(),
		EnableHighAccuracy: opts.EnableHighAccuracy,
		TimeoutMS:          opts.Timeout.Milliseconds(),
		MaximumAgeMS:       opts.MaximumAge.Milliseconds(),
	}
	ch := make(chan reply, 1)

	b.mu.Lock()
	b.pending[req.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	if err := b.send(req); err != nil {
		return Reading{}, fmt.Errorf("send geolocation request: %w", err)
	}

	select {
	case r := <-ch:
		return r.reading, r.err
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}

// Resolve answers request id with a reading. It reports false when no
// request with that id is waiting.
func (b *Bridge) Resolve(id string, r Reading) bool {
	return b.answer(id, reply{reading: r})
}

// Reject answers request id with a browser position error.
func (b *Bridge) Reject(id string, code int, msg string) bool {
	ok := b.answer(id, reply{err: CodeError(code, msg)})
	if ok && code == CodeUnsupported {
		b.SetSupported(false)
	}
	return ok
}

// Pending returns the number of unanswered requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) answer(id string, r reply) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// CodeError maps a browser position error code to a sentinel error.
func CodeError(code int, msg string) error {
	var base error
	switch code {
	case CodeUnsupported:
		base = ErrUnsupported
	case CodePermissionDenied:
		base = ErrPermissionDenied
	case CodeTimeout:
		base = ErrTimeout
	default:
		base = ErrPositionUnavailable
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

var _ Locator = (*Bridge)(nil)
