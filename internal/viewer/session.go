// Package viewer binds the view state, the map session and geolocation of
// one browser tab into a single serialised entry point.
//
// Every trigger that changes what the tab shows goes through a Session:
// user intents, map lifecycle events reported by the page and geolocation
// results. The Session applies the state reducer, reconciles the map and
// publishes the resulting Patch to the tab's stream.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-viewshed/internal/geolocate"
	"github.com/joeblew999/plat-viewshed/internal/mapsession"
	"github.com/joeblew999/plat-viewshed/internal/service"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// ErrNoStream means no page is connected to receive a request.
var ErrNoStream = errors.New("no viewer stream connected")

// Patch is one outbound update for a tab.
type Patch struct {
	// Signals are merged into the page's Datastar signals.
	Signals map[string]any
	// View is the presentation to re-render, nil when it did not change.
	View *View
	// Notice is a one-off message for the user.
	Notice string
}

// Session is the state of one browser tab. It is safe for concurrent use;
// mutations are serialised.
type Session struct {
	id      string
	catalog *viewshed.Catalog
	styles  map[viewshed.Theme]string
	log     zerolog.Logger
	bus     *service.EventBus[Patch]
	bridge  *geolocate.Bridge
	geo     *geolocate.Service
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    viewshed.State
	widget   *signalWidget
	maps     *mapsession.Session
	lastSeen time.Time
}

func newSession(id string, cfg Config, now func() time.Time) *Session {
	s := &Session{
		id:       id,
		catalog:  cfg.Catalog,
		styles:   cfg.Styles,
		log:      cfg.Log.With().Str("session", id).Logger(),
		bus:      service.NewEventBus[Patch](cfg.Buffer),
		now:      now,
		state:    viewshed.InitialState(),
		lastSeen: now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bridge = geolocate.NewBridge(s.sendGeolocation)
	opts := append([]geolocate.Option{geolocate.OnResult(s.locateResult)}, cfg.Geolocation...)
	s.geo = geolocate.NewService(s.bridge, s.log, opts...)
	s.resetMap()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state snapshot.
func (s *Session) State() viewshed.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns the presentation of the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildView(s.catalog, s.state)
}

// Subscribe returns a channel of patches for one page stream.
func (s *Session) Subscribe() chan Patch {
	return s.bus.Subscribe()
}

// Unsubscribe detaches a page stream.
func (s *Session) Unsubscribe(ch chan Patch) {
	s.bus.Unsubscribe(ch)
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
}

// Snapshot is the full state a newly connected stream starts from: the
// presentation and, once the map has loaded, every overlay layer. Earlier
// patches may never have reached this stream's page.
func (s *Session) Snapshot() Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps.Resync(s.state)
	v := BuildView(s.catalog, s.state)
	return Patch{View: &v, Signals: s.widget.take()}
}

// ResetMap forgets the map widget and returns the view a new page renders
// its widget from. The page that owned the old widget is gone; the next
// page reports its own widget through MapLoaded.
func (s *Session) ResetMap() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetMap()
	return BuildView(s.catalog, s.state)
}

func (s *Session) resetMap() {
	s.widget = newSignalWidget(s.catalog)
	s.maps = mapsession.New(s.widget, s.catalog, s.styles, s.log)
	s.maps.Showing(s.state.Theme)
}

// Toggle applies a landmark click. None clears the selection.
func (s *Session) Toggle(id viewshed.ViewpointID) error {
	if id != viewshed.None && !s.catalog.Has(id) {
		return fmt.Errorf("%w: %q", viewshed.ErrUnknownViewpoint, id)
	}
	s.update(func(st viewshed.State) viewshed.State { return st.Toggle(id) })
	return nil
}

func (s *Session) SetMultiSelect(on bool) {
	s.update(func(st viewshed.State) viewshed.State { return st.SetMultiSelect(on) })
}

func (s *Session) ToggleMultiSelect() {
	s.update(viewshed.State.ToggleMultiSelect)
}

// SetOpacity sets the overlay opacity, clamped to [0,1]. NaN is ignored.
func (s *Session) SetOpacity(v float64) {
	s.update(func(st viewshed.State) viewshed.State { return st.SetOpacity(v) })
}

func (s *Session) OpenMenu()   { s.update(viewshed.State.OpenMenu) }
func (s *Session) CloseMenu()  { s.update(viewshed.State.CloseMenu) }
func (s *Session) ToggleMenu() { s.update(viewshed.State.ToggleMenu) }

// SetTheme switches the theme and, when it changed, the basemap style.
func (s *Session) SetTheme(t viewshed.Theme) {
	s.update(func(st viewshed.State) viewshed.State { return st.SetTheme(t) })
}

func (s *Session) ToggleTheme() {
	s.update(viewshed.State.ToggleTheme)
}

func (s *Session) OpenModal(m viewshed.Modal) {
	s.update(func(st viewshed.State) viewshed.State { return st.OpenModal(m) })
}

func (s *Session) CloseModal() {
	s.update(viewshed.State.CloseModal)
}

// MapLoaded handles the page's map finishing its first load. layers are the
// overlay layer ids it created; geolocation tells whether the browser
// exposes the geolocation API.
func (s *Session) MapLoaded(layers []string, geolocation bool) {
	s.bridge.SetSupported(geolocation)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.widget.SetLayers(layers)
	s.maps.Loaded(s.state)
	s.log.Debug().Strs("layers", layers).Bool("geolocation", geolocation).Msg("map loaded")
	s.flush(false)
}

// StyleLoaded handles the end of a basemap style swap.
func (s *Session) StyleLoaded(layers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.widget.SetLayers(layers)
	s.maps.StyleLoaded(s.state)
	s.flush(false)
}

// SetBearing records the map rotation reported by the page. The view is
// only republished when the locate button changes meaning.
func (s *Session) SetBearing(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	before := viewshed.IsNorthUp(s.state.Bearing)
	s.state = s.state.SetBearing(deg)
	s.flush(before != viewshed.IsNorthUp(s.state.Bearing))
}

// HandleLocateButton performs the button's single action: reset the
// bearing when the map is rotated, otherwise locate the user. It blocks
// until a locate finishes.
func (s *Session) HandleLocateButton(ctx context.Context) (viewshed.LocateAction, error) {
	s.mu.Lock()
	s.touch()
	action := viewshed.LocateButtonAction(s.state.Bearing)
	if action == viewshed.ActionResetBearing {
		s.maps.ResetBearing()
		s.flush(false)
		s.mu.Unlock()
		return action, nil
	}
	s.mu.Unlock()

	_, err := s.Locate(ctx)
	return action, err
}

// PressLocate is HandleLocateButton for request handlers: a locate runs in
// the background for the lifetime of the session.
func (s *Session) PressLocate() viewshed.LocateAction {
	s.mu.Lock()
	action := viewshed.LocateButtonAction(s.state.Bearing)
	s.mu.Unlock()
	if action == viewshed.ActionLocate {
		go s.HandleLocateButton(s.ctx)
		return action
	}
	a, _ := s.HandleLocateButton(s.ctx)
	return a
}

// Locate finds the user and, on success, centres the map on them and
// places the marker. A call made while a locate is running joins it. A
// failure produces exactly one notice.
func (s *Session) Locate(ctx context.Context) (geolocate.Fix, error) {
	return s.geo.Locate(ctx)
}

// locateResult receives the outcome of each locate flight exactly once.
func (s *Session) locateResult(fix geolocate.Fix, err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("locate failed")
		s.notify(geolocate.Message(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.SetFix(fix.Position, fix.Heading)
	s.maps.SetCenter(fix.Position)
	s.maps.PlaceMarker(fix.Position, fix.Heading)
	s.flush(true)
}

// ResolveGeolocation answers a pending browser geolocation request.
func (s *Session) ResolveGeolocation(id string, r geolocate.Reading) bool {
	return s.bridge.Resolve(id, r)
}

// RejectGeolocation fails a pending browser geolocation request with a
// position error code.
func (s *Session) RejectGeolocation(id string, code int, msg string) bool {
	return s.bridge.Reject(id, code, msg)
}

// SetGeolocationSupported records whether the browser exposes geolocation.
func (s *Session) SetGeolocationSupported(ok bool) {
	s.bridge.SetSupported(ok)
}

// Close stops background work and detaches all streams.
func (s *Session) Close() {
	s.cancel()
	s.bus.Close()
}

// idle reports how long the session has had no activity and no stream.
func (s *Session) idle(now time.Time) time.Duration {
	if s.bus.Len() > 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// update applies fn to the state, reconciles the map and publishes.
func (s *Session) update(fn func(viewshed.State) viewshed.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	prev := s.state
	s.state = fn(prev)
	if s.state.Theme != prev.Theme {
		s.maps.SetStyle(s.state.Theme)
	}
	s.maps.ReconcileLayers(s.state)
	s.flush(true)
}

// flush publishes pending widget signals and, with view, the presentation.
// Callers hold s.mu.
func (s *Session) flush(view bool) {
	p := Patch{Signals: s.widget.take()}
	if view {
		v := BuildView(s.catalog, s.state)
		p.View = &v
	}
	if p.Signals == nil && p.View == nil {
		return
	}
	s.bus.Publish(p)
}

func (s *Session) notify(msg string) {
	s.bus.Publish(Patch{Notice: msg})
}

func (s *Session) sendGeolocation(req geolocate.Request) error {
	if s.bus.Len() == 0 {
		return ErrNoStream
	}
	s.bus.Publish(Patch{Signals: map[string]any{"geo": map[string]any{"request": req}}})
	return nil
}

func (s *Session) touch() {
	s.lastSeen = s.now()
}
