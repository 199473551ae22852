package viewer

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-viewshed/internal/mapsession"
	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// signalWidget is the browser's map widget seen through Datastar signals.
// Every mutation is recorded under the "map" signal and sent with the next
// flush; the page script applies the signals to the map library.
//
// One-shot commands (flyTo, resetBearing, style, marker) carry a sequence
// number so that repeating a command still changes the signal.
type signalWidget struct {
	keys    map[string]string // layer id -> signal key
	present map[string]bool
	pending map[string]any
	seq     int64
}

func newSignalWidget(c *viewshed.Catalog) *signalWidget {
	w := &signalWidget{
		keys:    make(map[string]string, c.Len()),
		present: make(map[string]bool, c.Len()),
	}
	for _, vp := range c.All() {
		w.keys[vp.LayerID()] = vp.Source
	}
	w.SetLayers(nil)
	return w
}

// SetLayers records the overlay layers the widget reports. An empty report
// means every catalog layer was created.
func (w *signalWidget) SetLayers(ids []string) {
	clear(w.present)
	if len(ids) == 0 {
		for id := range w.keys {
			w.present[id] = true
		}
		return
	}
	for _, id := range ids {
		if _, ok := w.keys[id]; ok {
			w.present[id] = true
		}
	}
}

func (w *signalWidget) HasLayer(id string) bool {
	return w.present[id]
}

func (w *signalWidget) SetLayerOpacity(id string, opacity float64) {
	w.layer(id)["opacity"] = opacity
}

func (w *signalWidget) SetLayerVisibility(id string, v mapsession.Visibility) {
	w.layer(id)["visibility"] = string(v)
}

func (w *signalWidget) FlyTo(center orb.Point, zoom float64) {
	w.put("flyTo", map[string]any{
		"seq":  w.next(),
		"lon":  center.Lon(),
		"lat":  center.Lat(),
		"zoom": zoom,
	})
}

func (w *signalWidget) ResetBearing() {
	w.put("resetBearing", w.next())
}

func (w *signalWidget) SetStyle(url string) {
	w.put("style", map[string]any{"seq": w.next(), "url": url})
}

func (w *signalWidget) AddMarker(at orb.Point, heading float64) {
	w.put("marker", map[string]any{
		"seq":     w.next(),
		"visible": true,
		"lon":     at.Lon(),
		"lat":     at.Lat(),
		"heading": heading,
	})
}

func (w *signalWidget) RemoveMarker() {
	w.put("marker", map[string]any{"seq": w.next(), "visible": false})
}

// take returns the recorded mutations as a signal patch and resets the
// buffer. It returns nil when nothing changed.
func (w *signalWidget) take() map[string]any {
	if len(w.pending) == 0 {
		return nil
	}
	p := map[string]any{"map": w.pending}
	w.pending = nil
	return p
}

func (w *signalWidget) layer(id string) map[string]any {
	key, ok := w.keys[id]
	if !ok {
		key = id
	}
	layers, _ := w.get("layers").(map[string]any)
	if layers == nil {
		layers = make(map[string]any)
		w.put("layers", layers)
	}
	l, _ := layers[key].(map[string]any)
	if l == nil {
		l = make(map[string]any)
		layers[key] = l
	}
	return l
}

func (w *signalWidget) get(key string) any {
	return w.pending[key]
}

func (w *signalWidget) put(key string, v any) {
	if w.pending == nil {
		w.pending = make(map[string]any)
	}
	w.pending[key] = v
}

func (w *signalWidget) next() int64 {
	w.seq++
	return w.seq
}

var _ mapsession.Widget = (*signalWidget)(nil)
