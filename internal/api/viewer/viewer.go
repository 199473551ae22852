// Package viewer contains the Datastar handlers of the viewer page: the
// page itself, its SSE stream and the intents the page posts back.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-viewshed/internal/geolocate"
	"github.com/joeblew999/plat-viewshed/internal/humastar"
	"github.com/joeblew999/plat-viewshed/internal/templates"
	session "github.com/joeblew999/plat-viewshed/internal/viewer"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// Tag groups the viewer operations in the OpenAPI document.
const Tag = "viewer"

// fragments are the page regions re-rendered when the view changes.
var fragments = []struct {
	template string
	selector string
}{
	{"layer-menu", "#layer-menu"},
	{"legend", "#legend"},
	{"locate-button", "#locate-button"},
	{"modal", "#modal"},
}

// Handler serves the viewer page and its Datastar endpoints.
type Handler struct {
	humastar.Handler
	sessions *session.Manager
	tileURL  func(viewshed.Viewpoint) string
	base     string
	title    string
	log      zerolog.Logger
}

// NewHandler creates the viewer handler. base is the URL prefix the app is
// mounted under, empty at the root. tileURL returns the overlay tile
// template of a viewpoint.
func NewHandler(sessions *session.Manager, renderer *templates.Renderer, tileURL func(viewshed.Viewpoint) string, base string, log zerolog.Logger) *Handler {
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		tileURL:  tileURL,
		base:     base,
		title:    "Tokyo Landmark Viewshed",
		log:      log.With().Str("component", "viewer-api").Logger(),
	}
}

// Input types

// SessionInput identifies the caller's viewer session.
type SessionInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
}

// SignalsInput carries the Datastar signals a page posts.
type SignalsInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
	RawBody []byte
}

func (i *SignalsInput) parse() (humastar.Signals, error) {
	raw := humastar.SignalsInput{RawBody: i.RawBody}
	return raw.MustParse()
}

type ToggleInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
	ID      string `path:"id" doc:"Viewpoint ID, or none to clear" example:"tokyoTower"`
}

type MapLoadedInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
	Body    struct {
		Layers      []string `json:"layers" doc:"Overlay layer IDs the map created"`
		Geolocation bool     `json:"geolocation" doc:"Whether the browser exposes geolocation"`
	}
}

type StyleLoadedInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
	Body    struct {
		Layers []string `json:"layers" doc:"Overlay layer IDs present after the style swap"`
	}
}

type BearingInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
	Body    struct {
		Bearing float64 `json:"bearing" doc:"Map rotation in degrees"`
	}
}

type GeolocationInput struct {
	Session string `cookie:"viewshed_session" doc:"Viewer session ID"`
	Request string `path:"request" doc:"Geolocation request ID"`
	Body    struct {
		OK      bool     `json:"ok" doc:"Whether a position was obtained"`
		Lon     float64  `json:"lon,omitempty" doc:"Longitude"`
		Lat     float64  `json:"lat,omitempty" doc:"Latitude"`
		Heading *float64 `json:"heading,omitempty" doc:"Compass heading in degrees, absent when unknown"`
		Code    int      `json:"code,omitempty" doc:"Position error code: 1 denied, 2 unavailable, 3 timeout"`
		Message string   `json:"message,omitempty" doc:"Browser error message"`
	}
}

// RegisterRoutes registers the viewer endpoints.
func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(Tag)
	huma.Get(api, "/api/v1/viewer/stream", h.Events, tags)
	huma.Post(api, "/api/v1/viewer/viewpoints/{id}/toggle", h.Toggle, tags)
	huma.Post(api, "/api/v1/viewer/multiselect", h.MultiSelect, tags)
	huma.Post(api, "/api/v1/viewer/opacity", h.Opacity, tags)
	huma.Post(api, "/api/v1/viewer/menu", h.Menu, tags)
	huma.Post(api, "/api/v1/viewer/theme", h.Theme, tags)
	huma.Post(api, "/api/v1/viewer/modal", h.Modal, tags)
	huma.Post(api, "/api/v1/viewer/map/loaded", h.MapLoaded, tags)
	huma.Post(api, "/api/v1/viewer/map/style-loaded", h.StyleLoaded, tags)
	huma.Post(api, "/api/v1/viewer/map/bearing", h.Bearing, tags)
	huma.Post(api, "/api/v1/viewer/locate", h.Locate, tags)
	huma.Post(api, "/api/v1/viewer/geolocation/{request}", h.Geolocation, tags)
}

// Page

// PageData is the data of the viewer-page template.
type PageData struct {
	Title   string
	Base    string
	View    session.View
	Signals map[string]any
	Map     session.MapConfig
}

// Page renders the viewer page, creating the session on first visit. A
// reload means a new map widget, so the session forgets the old one.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	var id string
	if c, err := r.Cookie(session.CookieName); err == nil {
		id = c.Value
	}
	s, created := h.sessions.GetOrCreate(id)
	if created {
		h.log.Debug().Str("session", s.ID()).Msg("session created")
	}
	v := s.ResetMap()
	data := PageData{
		Title:   h.title,
		Base:    h.base,
		View:    v,
		Signals: pageSignals(v),
		Map:     session.BuildMapConfig(h.sessions.Catalog(), h.sessions.Styles(), v.Theme, h.tileURL),
	}
	var buf bytes.Buffer
	if err := h.Renderer.RenderToBuffer(&buf, "viewer-page", data); err != nil {
		h.log.Error().Err(err).Msg("rendering page")
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	path := h.base
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    s.ID(),
		Path:     path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func pageSignals(v session.View) map[string]any {
	signals := v.Signals()
	signals["notice"] = ""
	signals["error"] = ""
	return signals
}

// Events

// errRender marks a fragment that failed to render. The stream reports it
// to the page and stays open.
var errRender = errors.New("rendering fragment")

// Events is the page's long-lived SSE stream. It starts with a full
// snapshot and then forwards every patch the session publishes.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		ch := s.Subscribe()
		defer s.Unsubscribe(ch)

		if !h.relay(sse, s.ID(), s.Snapshot()) {
			return
		}
		done := sse.Context().Done()
		for {
			select {
			case <-done:
				return
			case p, ok := <-ch:
				if !ok || !h.relay(sse, s.ID(), p) {
					return
				}
			}
		}
	}), nil
}

// relay sends p and reports whether the stream is still usable. Render
// failures reach the page as an error signal.
func (h *Handler) relay(sse humastar.SSE, id string, p session.Patch) bool {
	err := h.send(sse, p)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errRender):
		h.log.Error().Err(err).Str("session", id).Msg("stream patch")
		return sse.Error("The page could not be updated, reload to recover.") == nil
	default:
		h.log.Debug().Err(err).Str("session", id).Msg("stream closed")
		return false
	}
}

// send writes one patch: the view signals and fragments, the widget
// commands and the notice, in that order.
func (h *Handler) send(sse humastar.SSE, p session.Patch) error {
	if p.View != nil {
		if err := sse.Signals(p.View.Signals()); err != nil {
			return err
		}
		data := PageData{Base: h.base, View: *p.View}
		for _, f := range fragments {
			html, err := h.Renderer.Render(f.template, data)
			if err != nil {
				return fmt.Errorf("%w %s: %w", errRender, f.template, err)
			}
			if err := sse.Patch(html, f.selector); err != nil {
				return err
			}
		}
	}
	if p.Signals != nil {
		payload, err := json.Marshal(p.Signals)
		if err != nil {
			return err
		}
		if err := sse.ExecuteScript(fmt.Sprintf("window.viewshed && window.viewshed.apply(%s)", payload)); err != nil {
			return err
		}
	}
	if p.Notice != "" {
		return sse.Notice(p.Notice)
	}
	return nil
}

// Intents

func (h *Handler) Toggle(ctx context.Context, input *ToggleInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	if err := s.Toggle(viewshed.ViewpointID(input.ID)); err != nil {
		if errors.Is(err, viewshed.ErrUnknownViewpoint) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, err
	}
	return nil, nil
}

func (h *Handler) MultiSelect(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.parse()
	if err != nil {
		return nil, err
	}
	// API clients may state the mode; the page toggles.
	if signals.Has("multiSelect") {
		s.SetMultiSelect(signals.Bool("multiSelect"))
	} else {
		s.ToggleMultiSelect()
	}
	return nil, nil
}

func (h *Handler) Opacity(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.parse()
	if err != nil {
		return nil, err
	}
	v, ok := signals.Float("ui.opacity")
	if !ok {
		v, ok = signals.Float("opacity")
	}
	if !ok {
		return nil, huma.Error400BadRequest("opacity is required")
	}
	s.SetOpacity(v)
	return nil, nil
}

func (h *Handler) Menu(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.parse()
	if err != nil {
		return nil, err
	}
	switch {
	case !signals.Has("open"):
		s.ToggleMenu()
	case signals.Bool("open"):
		s.OpenMenu()
	default:
		s.CloseMenu()
	}
	return nil, nil
}

func (h *Handler) Theme(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.parse()
	if err != nil {
		return nil, err
	}
	switch t := viewshed.Theme(signals.String("theme")); t {
	case "":
		s.ToggleTheme()
	case viewshed.ThemeDark, viewshed.ThemeLight:
		s.SetTheme(t)
	default:
		return nil, huma.Error400BadRequest(fmt.Sprintf("unknown theme %q", t))
	}
	return nil, nil
}

func (h *Handler) Modal(ctx context.Context, input *SignalsInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.parse()
	if err != nil {
		return nil, err
	}
	switch m := viewshed.Modal(signals.String("ui.modal")); m {
	case viewshed.ModalNone:
		s.CloseModal()
	case viewshed.ModalAbout, viewshed.ModalScoring:
		s.OpenModal(m)
	default:
		return nil, huma.Error400BadRequest(fmt.Sprintf("unknown modal %q", m))
	}
	return nil, nil
}

// Map lifecycle

func (h *Handler) MapLoaded(ctx context.Context, input *MapLoadedInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	s.MapLoaded(input.Body.Layers, input.Body.Geolocation)
	return nil, nil
}

func (h *Handler) StyleLoaded(ctx context.Context, input *StyleLoadedInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	s.StyleLoaded(input.Body.Layers)
	return nil, nil
}

func (h *Handler) Bearing(ctx context.Context, input *BearingInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	s.SetBearing(input.Body.Bearing)
	return nil, nil
}

// Geolocation

// Locate presses the locate button. The result arrives on the stream.
func (h *Handler) Locate(ctx context.Context, input *SessionInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	action := s.PressLocate()
	h.log.Debug().Str("session", s.ID()).Stringer("action", action).Msg("locate button")
	return nil, nil
}

// Geolocation receives the browser's answer to a geolocation request.
func (h *Handler) Geolocation(ctx context.Context, input *GeolocationInput) (*struct{}, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	b := input.Body
	var answered bool
	if b.OK {
		answered = s.ResolveGeolocation(input.Request, geolocate.Reading{Lon: b.Lon, Lat: b.Lat, Heading: b.Heading})
	} else {
		answered = s.RejectGeolocation(input.Request, b.Code, b.Message)
	}
	if !answered {
		return nil, huma.Error404NotFound("no pending geolocation request " + input.Request)
	}
	return nil, nil
}

func (h *Handler) session(id string) (*session.Session, error) {
	if id == "" {
		return nil, huma.Error404NotFound("no viewer session, reload the page")
	}
	s, ok := h.sessions.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("viewer session expired, reload the page")
	}
	return s, nil
}
