// Package mapsession owns the map widget handle of one viewer and keeps the
// widget's overlay layers, viewport and user marker in step with the view
// state.
//
// A Session is the only code that touches the widget. Selection changes,
// theme changes and geolocation results all go through it, so the order in
// which they reach the widget is the order in which they were applied.
// Sessions are not safe for concurrent use; the owner serialises calls.
package mapsession

import (
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// LocateZoom is the zoom the viewport animates to on a position fix.
const LocateZoom = 16.0

// Visibility is a widget layer's layout visibility.
type Visibility string

const (
	Visible Visibility = "visible"
	Hidden  Visibility = "none"
)

// Widget is the map-rendering widget as seen from the server.
type Widget interface {
	HasLayer(id string) bool
	SetLayerOpacity(id string, opacity float64)
	SetLayerVisibility(id string, v Visibility)
	FlyTo(center orb.Point, zoom float64)
	ResetBearing()
	SetStyle(url string)
	AddMarker(at orb.Point, heading float64)
	RemoveMarker()
}

// LayerState is the paint/layout state applied to one overlay layer.
type LayerState struct {
	Opacity float64
	Visible bool
}

// Session reconciles a Widget against viewshed.State.
type Session struct {
	widget  Widget
	catalog *viewshed.Catalog
	styles  map[viewshed.Theme]string
	log     zerolog.Logger

	loaded     bool
	styleReady bool
	dirty      bool
	applied    map[string]LayerState
	marker     bool
	// theme of the style the widget currently shows, empty when unknown.
	theme viewshed.Theme
}

// New creates a session for widget. styles maps each theme to its basemap
// style document URL.
func New(widget Widget, catalog *viewshed.Catalog, styles map[viewshed.Theme]string, log zerolog.Logger) *Session {
	return &Session{
		widget:  widget,
		catalog: catalog,
		styles:  styles,
		log:     log.With().Str("component", "mapsession").Logger(),
		applied: make(map[string]LayerState),
	}
}

// Ready reports whether layer operations currently reach the widget.
func (s *Session) Ready() bool {
	return s.loaded && s.styleReady
}

// Showing records the theme of the style the widget was created with.
func (s *Session) Showing(theme viewshed.Theme) {
	s.theme = theme
}

// Loaded handles the widget's initial load and reconciles st. If the theme
// changed while the widget was loading, the style swap is issued now and
// reconciliation waits for StyleLoaded.
func (s *Session) Loaded(st viewshed.State) {
	s.loaded = true
	s.styleReady = true
	s.forget()
	if s.theme != "" && s.theme != st.Theme {
		s.SetStyle(st.Theme)
	}
	s.ReconcileLayers(st)
}

// SetStyle swaps the basemap for theme. The widget drops every custom layer
// on a style swap, so layer operations are held back until StyleLoaded.
// Before the widget has loaded nothing is sent; Loaded issues the swap.
func (s *Session) SetStyle(theme viewshed.Theme) {
	url, ok := s.styles[theme]
	if !ok {
		s.log.Warn().Str("theme", string(theme)).Msg("no style for theme")
		return
	}
	if !s.loaded {
		return
	}
	s.styleReady = false
	s.theme = theme
	s.forget()
	s.widget.SetStyle(url)
}

// Resync forgets what was applied and reconciles every layer again, for a
// widget that may have missed earlier mutations.
func (s *Session) Resync(st viewshed.State) {
	s.forget()
	s.ReconcileLayers(st)
}

// StyleLoaded handles the end of a style swap: the overlay layers exist
// again with their default paint, so everything is re-applied from st.
func (s *Session) StyleLoaded(st viewshed.State) {
	if !s.loaded {
		s.Loaded(st)
		return
	}
	s.styleReady = true
	s.forget()
	s.ReconcileLayers(st)
}

// ReconcileLayers makes every overlay layer match st: active viewpoints are
// visible at st.Opacity, all others hidden at opacity 0. Layers already in
// the wanted state are not touched, so repeated calls with the same state
// produce no widget mutations. Before the widget is ready the call only
// marks the session dirty; the next Loaded or StyleLoaded applies it.
func (s *Session) ReconcileLayers(st viewshed.State) {
	if !s.Ready() {
		s.dirty = true
		return
	}
	s.dirty = false

	for _, vp := range s.catalog.All() {
		id := vp.LayerID()
		if !s.widget.HasLayer(id) {
			continue
		}
		want := LayerState{Visible: st.Active(vp.ID)}
		if want.Visible {
			want.Opacity = st.Opacity
		}
		if prev, ok := s.applied[id]; ok && prev == want {
			continue
		}
		s.widget.SetLayerOpacity(id, want.Opacity)
		if want.Visible {
			s.widget.SetLayerVisibility(id, Visible)
		} else {
			s.widget.SetLayerVisibility(id, Hidden)
		}
		s.applied[id] = want
	}
}

// Dirty reports whether a reconciliation is waiting for the widget.
func (s *Session) Dirty() bool {
	return s.dirty
}

// Applied returns the last state applied to layer id.
func (s *Session) Applied(id string) (LayerState, bool) {
	ls, ok := s.applied[id]
	return ls, ok
}

// SetCenter animates the viewport to center at LocateZoom.
func (s *Session) SetCenter(center orb.Point) {
	if !s.loaded {
		return
	}
	s.widget.FlyTo(center, LocateZoom)
}

// ResetBearing rotates the map back to north without moving it.
func (s *Session) ResetBearing() {
	if !s.loaded {
		return
	}
	s.widget.ResetBearing()
}

// PlaceMarker shows the user marker at at, rotated to heading. An existing
// marker is removed first rather than moved.
func (s *Session) PlaceMarker(at orb.Point, heading float64) {
	if !s.loaded {
		return
	}
	if s.marker {
		s.widget.RemoveMarker()
	}
	s.widget.AddMarker(at, heading)
	s.marker = true
}

func (s *Session) forget() {
	clear(s.applied)
}
