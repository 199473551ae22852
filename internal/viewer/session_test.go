package viewer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewshed/internal/geolocate"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{
		Log: zerolog.Nop(),
		Geolocation: []geolocate.Option{
			geolocate.WithOptions(
				geolocate.Options{EnableHighAccuracy: true, Timeout: time.Second},
				geolocate.Options{EnableHighAccuracy: false, Timeout: 2 * time.Second},
			),
			geolocate.WithGrace(0),
		},
	})
	t.Cleanup(m.Close)
	return m
}

func next(t *testing.T, ch chan Patch) Patch {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok, "stream closed")
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no patch published")
		return Patch{}
	}
}

func waitFor(t *testing.T, ch chan Patch, match func(Patch) bool) Patch {
	t.Helper()
	for {
		if p := next(t, ch); match(p) {
			return p
		}
	}
}

func drain(ch chan Patch) []Patch {
	var out []Patch
	for {
		select {
		case p := <-ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

func mapSignals(p Patch) map[string]any {
	m, _ := p.Signals["map"].(map[string]any)
	return m
}

func layerSignals(p Patch) map[string]any {
	l, _ := mapSignals(p)["layers"].(map[string]any)
	return l
}

func geoRequest(p Patch) (geolocate.Request, bool) {
	geo, ok := p.Signals["geo"].(map[string]any)
	if !ok {
		return geolocate.Request{}, false
	}
	req, ok := geo["request"].(geolocate.Request)
	return req, ok
}

func TestSession_IntentsBeforeMapLoad(t *testing.T) {
	s := newTestManager(t).Create()
	ch := s.Subscribe()

	require.NoError(t, s.Toggle(viewshed.Skytree))
	p := next(t, ch)
	assert.Nil(t, p.Signals, "no widget signals before the map loads")
	require.NotNil(t, p.View)
	assert.True(t, p.View.Cards[1].Active)
	assert.False(t, p.View.Cards[0].Active)

	s.MapLoaded(nil, true)
	p = next(t, ch)
	layers := layerSignals(p)
	require.Len(t, layers, 4)
	assert.Equal(t, map[string]any{"opacity": 0.7, "visibility": "visible"}, layers["skytree"])
	assert.Equal(t, map[string]any{"opacity": 0.0, "visibility": "none"}, layers["tokyotower"])
}

func TestSession_ToggleUnknown(t *testing.T) {
	s := newTestManager(t).Create()
	ch := s.Subscribe()

	err := s.Toggle("fuji")
	assert.ErrorIs(t, err, viewshed.ErrUnknownViewpoint)
	assert.Empty(t, drain(ch))
	assert.Equal(t, []viewshed.ViewpointID{viewshed.TokyoTower}, s.State().Selection.IDs())

	require.NoError(t, s.Toggle(viewshed.None))
	assert.Zero(t, s.State().Selection.Len())
}

func TestSession_OnlyChangedLayersArePatched(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	ch := s.Subscribe()

	s.SetOpacity(0.4)
	layers := layerSignals(next(t, ch))
	assert.Equal(t, map[string]any{
		"tokyotower": map[string]any{"opacity": 0.4, "visibility": "visible"},
	}, layers)

	s.SetOpacity(7)
	layers = layerSignals(next(t, ch))
	assert.Equal(t, 1.0, layers["tokyotower"].(map[string]any)["opacity"], "opacity is clamped")

	s.ToggleMenu()
	p := next(t, ch)
	assert.Nil(t, p.Signals)
	assert.False(t, p.View.ShowFABs)
}

func TestSession_MissingLayersAreSkipped(t *testing.T) {
	s := newTestManager(t).Create()
	ch := s.Subscribe()

	s.MapLoaded([]string{"tokyotower-layer", "skytree-layer"}, true)
	layers := layerSignals(next(t, ch))
	assert.Len(t, layers, 2)
	assert.Contains(t, layers, "tokyotower")
	assert.NotContains(t, layers, "tocho")
}

func TestSession_ThemeSwapDefersLayers(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	ch := s.Subscribe()

	s.ToggleTheme()
	p := next(t, ch)
	style, ok := mapSignals(p)["style"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, DefaultStyles[viewshed.ThemeLight], style["url"])
	assert.Nil(t, layerSignals(p), "layers wait for the new style")
	assert.Equal(t, viewshed.ThemeLight, p.View.Theme)

	require.NoError(t, s.Toggle(viewshed.Tocho))
	p = next(t, ch)
	assert.Nil(t, p.Signals)

	s.StyleLoaded(nil)
	layers := layerSignals(next(t, ch))
	require.Len(t, layers, 4, "every layer is re-applied on the new style")
	assert.Equal(t, "visible", layers["tocho"].(map[string]any)["visibility"])
}

func TestSession_BearingAndCompass(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	ch := s.Subscribe()

	s.SetBearing(2)
	assert.Empty(t, drain(ch), "still north-up")

	s.SetBearing(12)
	p := next(t, ch)
	require.NotNil(t, p.View)
	assert.Equal(t, "compass", p.View.Locate.Icon)

	action, err := s.HandleLocateButton(context.Background())
	require.NoError(t, err)
	assert.Equal(t, viewshed.ActionResetBearing, action)
	p = next(t, ch)
	assert.Contains(t, mapSignals(p), "resetBearing")
	_, isGeo := geoRequest(p)
	assert.False(t, isGeo)
	assert.Empty(t, drain(ch), "reset never also locates")
}

func TestSession_LocateSuccess(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	ch := s.Subscribe()

	type result struct {
		action viewshed.LocateAction
		err    error
	}
	done := make(chan result, 1)
	go func() {
		a, err := s.HandleLocateButton(context.Background())
		done <- result{a, err}
	}()

	p := waitFor(t, ch, func(p Patch) bool { _, ok := geoRequest(p); return ok })
	req, _ := geoRequest(p)
	assert.True(t, req.EnableHighAccuracy)

	heading := 45.0
	require.True(t, s.ResolveGeolocation(req.ID, geolocate.Reading{Lon: 139.76, Lat: 35.68, Heading: &heading}))

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, viewshed.ActionLocate, r.action)

	p = waitFor(t, ch, func(p Patch) bool { return mapSignals(p)["marker"] != nil })
	ms := mapSignals(p)
	fly := ms["flyTo"].(map[string]any)
	assert.Equal(t, 139.76, fly["lon"])
	assert.Equal(t, 16.0, fly["zoom"])
	marker := ms["marker"].(map[string]any)
	assert.Equal(t, true, marker["visible"])
	assert.Equal(t, 45.0, marker["heading"])
	assert.True(t, p.View.HasLocation)

	st := s.State()
	require.NotNil(t, st.Location)
	assert.Equal(t, orb.Point{139.76, 35.68}, *st.Location)
	assert.Equal(t, 45.0, *st.Heading)
}

func TestSession_LocateFailureNotifiesOnce(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	ch := s.Subscribe()

	errc := make(chan error, 1)
	go func() {
		_, err := s.Locate(context.Background())
		errc <- err
	}()

	p := waitFor(t, ch, func(p Patch) bool { _, ok := geoRequest(p); return ok })
	high, _ := geoRequest(p)
	require.True(t, s.RejectGeolocation(high.ID, geolocate.CodeTimeout, "Timeout expired"))

	p = waitFor(t, ch, func(p Patch) bool { _, ok := geoRequest(p); return ok })
	low, _ := geoRequest(p)
	assert.False(t, low.EnableHighAccuracy)
	require.True(t, s.RejectGeolocation(low.ID, geolocate.CodePermissionDenied, "User denied Geolocation"))

	err := <-errc
	var le *geolocate.LocateError
	require.ErrorAs(t, err, &le)

	var notices []string
	p = waitFor(t, ch, func(p Patch) bool { return p.Notice != "" })
	notices = append(notices, p.Notice)
	for _, p := range drain(ch) {
		if p.Notice != "" {
			notices = append(notices, p.Notice)
		}
	}
	assert.Len(t, notices, 1)
	assert.Nil(t, s.State().Location, "location unchanged on failure")
}

func TestSession_LocateUnsupported(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, false)
	ch := s.Subscribe()

	_, err := s.Locate(context.Background())
	assert.ErrorIs(t, err, geolocate.ErrUnsupported)
	p := next(t, ch)
	assert.Equal(t, "Geolocation is not supported by your browser", p.Notice)
	assert.Empty(t, drain(ch))
}

func TestSession_LocateWithoutStream(t *testing.T) {
	s := newTestManager(t).Create()
	s.SetGeolocationSupported(true)

	_, err := s.Locate(context.Background())
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestSession_ConcurrentLocateJoins(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	ch := s.Subscribe()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Locate(context.Background())
		}()
	}

	p := waitFor(t, ch, func(p Patch) bool { _, ok := geoRequest(p); return ok })
	req, _ := geoRequest(p)
	time.Sleep(50 * time.Millisecond)
	require.True(t, s.ResolveGeolocation(req.ID, geolocate.Reading{Lon: 1, Lat: 2}))
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	for _, p := range drain(ch) {
		_, ok := geoRequest(p)
		assert.False(t, ok, "joined calls send no further browser requests")
	}
}

func TestSession_ConcurrentIntents(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)

	ids := []viewshed.ViewpointID{viewshed.TokyoTower, viewshed.Skytree, viewshed.Docomo, viewshed.Tocho}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Toggle(ids[i%len(ids)]))
			s.SetOpacity(float64(i) / 40)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.State().Selection.Len(), "single-select holds at most one")
}

func TestSession_ResetMapWaitsForNextLoad(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	s.ResetMap()
	ch := s.Subscribe()

	require.NoError(t, s.Toggle(viewshed.Docomo))
	assert.Nil(t, next(t, ch).Signals)

	s.MapLoaded(nil, true)
	assert.Len(t, layerSignals(next(t, ch)), 4)
}

func TestSession_MapLoadedBeforeSubscribe(t *testing.T) {
	s := newTestManager(t).Create()
	s.MapLoaded(nil, true)
	require.NoError(t, s.Toggle(viewshed.Skytree))
	s.SetOpacity(0.7)

	ch := s.Subscribe()
	snap := s.Snapshot()
	require.NotNil(t, snap.View)
	layers := layerSignals(snap)
	require.Len(t, layers, 4, "the snapshot carries every layer")
	assert.Equal(t, map[string]any{"opacity": 0.7, "visibility": "visible"}, layers["skytree"])
	assert.Equal(t, map[string]any{"opacity": 0.0, "visibility": "none"}, layers["tokyotower"])

	s.SetOpacity(0.5)
	assert.Equal(t, map[string]any{
		"skytree": map[string]any{"opacity": 0.5, "visibility": "visible"},
	}, layerSignals(next(t, ch)))
}

func TestSession_ReconnectResendsLayers(t *testing.T) {
	s := newTestManager(t).Create()
	first := s.Subscribe()
	s.MapLoaded(nil, true)
	next(t, first)
	s.Unsubscribe(first)

	require.NoError(t, s.Toggle(viewshed.Docomo))

	second := s.Subscribe()
	layers := layerSignals(s.Snapshot())
	require.Len(t, layers, 4)
	assert.Equal(t, "visible", layers["docomo"].(map[string]any)["visibility"])
	assert.Equal(t, "none", layers["tokyotower"].(map[string]any)["visibility"])
	assert.Empty(t, drain(second))
}

func TestSession_SnapshotBeforeLoadHasNoWidgetSignals(t *testing.T) {
	s := newTestManager(t).Create()
	snap := s.Snapshot()
	assert.NotNil(t, snap.View)
	assert.Nil(t, snap.Signals)
}

func TestSession_ThemeChangedBeforeLoad(t *testing.T) {
	m := newTestManager(t)
	s := m.Create()
	v := s.ResetMap()
	assert.Equal(t, viewshed.ThemeDark, v.Theme)
	ch := s.Subscribe()

	s.ToggleTheme()
	p := next(t, ch)
	assert.Nil(t, p.Signals, "the style swap waits for the map")
	assert.Equal(t, viewshed.ThemeLight, p.View.Theme)

	s.MapLoaded(nil, true)
	p = next(t, ch)
	style, ok := mapSignals(p)["style"].(map[string]any)
	require.True(t, ok, "the page's dark style is swapped on load")
	assert.Equal(t, DefaultStyles[viewshed.ThemeLight], style["url"])
	assert.Nil(t, layerSignals(p))

	s.StyleLoaded(nil)
	assert.Len(t, layerSignals(next(t, ch)), 4)
}

func TestSession_LocateBeforeMapLoad(t *testing.T) {
	s := newTestManager(t).Create()
	ch := s.Subscribe()

	errc := make(chan error, 1)
	go func() {
		_, err := s.Locate(context.Background())
		errc <- err
	}()

	p := waitFor(t, ch, func(p Patch) bool { _, ok := geoRequest(p); return ok })
	req, _ := geoRequest(p)
	require.True(t, s.ResolveGeolocation(req.ID, geolocate.Reading{Lon: 139.75, Lat: 35.66}))
	require.NoError(t, <-errc)
	assert.Equal(t, &orb.Point{139.75, 35.66}, s.State().Location)
}

func TestSession_BrowserReportsUnsupported(t *testing.T) {
	s := newTestManager(t).Create()
	ch := s.Subscribe()

	errc := make(chan error, 1)
	go func() {
		_, err := s.Locate(context.Background())
		errc <- err
	}()

	p := waitFor(t, ch, func(p Patch) bool { _, ok := geoRequest(p); return ok })
	req, _ := geoRequest(p)
	require.True(t, s.RejectGeolocation(req.ID, geolocate.CodeUnsupported, "unsupported"))
	assert.ErrorIs(t, <-errc, geolocate.ErrUnsupported)

	p = waitFor(t, ch, func(p Patch) bool { return p.Notice != "" })
	assert.Equal(t, "Geolocation is not supported by your browser", p.Notice)
	assert.Empty(t, drain(ch), "one notice, no retry")
}
