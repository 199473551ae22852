// Package geolocate obtains the user's position through a platform Locator
// using a two-step policy: one high-accuracy attempt, then one low-accuracy
// retry, then a terminal failure.
package geolocate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnsupported means the platform has no geolocation capability.
	ErrUnsupported = errors.New("geolocation is not supported")
	// ErrPermissionDenied means the user refused the location permission.
	ErrPermissionDenied = errors.New("geolocation permission denied")
	// ErrPositionUnavailable means no position source produced a fix.
	ErrPositionUnavailable = errors.New("position unavailable")
	// ErrTimeout means no fix arrived within the attempt's bound.
	ErrTimeout = errors.New("geolocation timed out")
)

// Options are the per-attempt position options passed to the Locator.
type Options struct {
	EnableHighAccuracy bool          `json:"enableHighAccuracy"`
	Timeout            time.Duration `json:"-"`
	MaximumAge         time.Duration `json:"-"`
}

var (
	// HighAccuracy is the first attempt.
	HighAccuracy = Options{EnableHighAccuracy: true, Timeout: 5 * time.Second}
	// LowAccuracy is the automatic retry after a failed first attempt.
	LowAccuracy = Options{EnableHighAccuracy: false, Timeout: 15 * time.Second}
)

// Reading is a raw platform position. Heading is nil when the platform does
// not report one.
type Reading struct {
	Lon     float64
	Lat     float64
	Heading *float64
}

// Fix is a successful position with a numeric heading.
type Fix struct {
	Position orb.Point
	Heading  float64
}

// Locator is the platform geolocation capability.
type Locator interface {
	Supported() bool
	CurrentPosition(ctx context.Context, opts Options) (Reading, error)
}

// LocateError is the terminal failure after both attempts failed.
type LocateError struct {
	High error
	Low  error
}

func (e *LocateError) Error() string {
	return fmt.Sprintf("locate failed: high accuracy: %v; low accuracy: %v", e.High, e.Low)
}

func (e *LocateError) Unwrap() []error {
	return []error{e.High, e.Low}
}

// Service runs the locate policy against a Locator.
type Service struct {
	locator  Locator
	high     Options
	low      Options
	grace    time.Duration
	onResult func(Fix, error)
	group    singleflight.Group
	log      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithOptions overrides the high- and low-accuracy attempt options.
func WithOptions(high, low Options) Option {
	return func(s *Service) {
		s.high = high
		s.low = low
	}
}

// WithGrace sets how long past an attempt's own timeout the service waits
// for the Locator to answer.
func WithGrace(d time.Duration) Option {
	return func(s *Service) {
		s.grace = d
	}
}

// OnResult registers fn to receive the outcome of every locate flight
// exactly once, however many callers joined it.
func OnResult(fn func(Fix, error)) Option {
	return func(s *Service) {
		s.onResult = fn
	}
}

// NewService creates a locate service over locator.
func NewService(locator Locator, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		locator: locator,
		high:    HighAccuracy,
		low:     LowAccuracy,
		grace:   2 * time.Second,
		log:     log.With().Str("component", "geolocate").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Locate returns the user's position. A missing capability fails at once
// with ErrUnsupported, as does a locator that discovers it mid-flight.
// Otherwise a high-accuracy attempt is made and, if it fails for any
// reason, one low-accuracy retry; if that fails too the result is a
// *LocateError.
//
// Calls made while a locate is already in flight join it and receive its
// outcome instead of starting another; the flight runs under the context
// of the call that started it.
func (s *Service) Locate(ctx context.Context) (Fix, error) {
	if !s.locator.Supported() {
		s.log.Warn().Msg("geolocation unsupported")
		if s.onResult != nil {
			s.onResult(Fix{}, ErrUnsupported)
		}
		return Fix{}, ErrUnsupported
	}
	v, err, shared := s.group.Do("locate", func() (any, error) {
		fix, err := s.locate(ctx)
		if s.onResult != nil {
			s.onResult(fix, err)
		}
		return fix, err
	})
	if shared {
		s.log.Debug().Msg("joined in-flight locate")
	}
	if err != nil {
		return Fix{}, err
	}
	return v.(Fix), nil
}

func (s *Service) locate(ctx context.Context) (Fix, error) {
	fix, highErr := s.attempt(ctx, s.high)
	if highErr == nil {
		return fix, nil
	}
	if errors.Is(highErr, ErrUnsupported) {
		return Fix{}, highErr
	}
	s.log.Warn().Err(highErr).Msg("high accuracy geolocation failed, trying low accuracy")

	fix, lowErr := s.attempt(ctx, s.low)
	if lowErr == nil {
		return fix, nil
	}
	s.log.Error().Err(lowErr).Msg("low accuracy geolocation failed")
	return Fix{}, &LocateError{High: highErr, Low: lowErr}
}

func (s *Service) attempt(ctx context.Context, opts Options) (Fix, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout+s.grace)
		defer cancel()
	}
	r, err := s.locator.CurrentPosition(ctx, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Fix{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Fix{}, err
	}
	return Fix{
		Position: orb.Point{r.Lon, r.Lat},
		Heading:  NormalizeHeading(r.Heading),
	}, nil
}

// NormalizeHeading returns h, or 0 when the platform gave no usable heading.
func NormalizeHeading(h *float64) float64 {
	if h == nil || math.IsNaN(*h) || math.IsInf(*h, 0) {
		return 0
	}
	return *h
}

// Message is the user-facing notice for a locate error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupported):
		return "Geolocation is not supported by your browser"
	case errors.Is(err, ErrPermissionDenied):
		return "Location permission was denied. Allow location access and try again."
	case errors.Is(err, ErrTimeout):
		return "Could not get your location in time. Please try again."
	default:
		return "Could not determine your location. Please try again."
	}
}
