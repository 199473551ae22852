package viewer

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewshed/internal/mapsession"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

func TestSignalWidget_Layers(t *testing.T) {
	w := newSignalWidget(viewshed.DefaultCatalog())
	assert.True(t, w.HasLayer("tocho-layer"), "all catalog layers until told otherwise")
	assert.False(t, w.HasLayer("osm"))

	w.SetLayers([]string{"skytree-layer", "osm"})
	assert.True(t, w.HasLayer("skytree-layer"))
	assert.False(t, w.HasLayer("tocho-layer"))
	assert.False(t, w.HasLayer("osm"), "only overlay layers are tracked")

	assert.Nil(t, w.take())
	w.SetLayerOpacity("skytree-layer", 0.5)
	w.SetLayerVisibility("skytree-layer", mapsession.Visible)
	assert.Equal(t, map[string]any{
		"map": map[string]any{
			"layers": map[string]any{
				"skytree": map[string]any{"opacity": 0.5, "visibility": "visible"},
			},
		},
	}, w.take())
	assert.Nil(t, w.take(), "take resets the buffer")
}

func TestSignalWidget_Commands(t *testing.T) {
	w := newSignalWidget(viewshed.DefaultCatalog())

	w.ResetBearing()
	first := w.take()["map"].(map[string]any)["resetBearing"]
	w.ResetBearing()
	second := w.take()["map"].(map[string]any)["resetBearing"]
	assert.NotEqual(t, first, second, "repeated commands change the signal")

	w.AddMarker(orb.Point{1, 2}, 0)
	w.RemoveMarker()
	w.AddMarker(orb.Point{3, 4}, 90)
	m := w.take()["map"].(map[string]any)
	marker := m["marker"].(map[string]any)
	assert.Equal(t, true, marker["visible"])
	assert.Equal(t, 3.0, marker["lon"])
	assert.Equal(t, 90.0, marker["heading"])

	w.RemoveMarker()
	marker = w.take()["map"].(map[string]any)["marker"].(map[string]any)
	assert.Equal(t, false, marker["visible"])

	w.SetStyle("https://example.test/{z}/{x}/{y}.png")
	w.FlyTo(orb.Point{139.7, 35.6}, 16)
	m = w.take()["map"].(map[string]any)
	require.Contains(t, m, "style")
	assert.Equal(t, "https://example.test/{z}/{x}/{y}.png", m["style"].(map[string]any)["url"])
	assert.Equal(t, 16.0, m["flyTo"].(map[string]any)["zoom"])
}
