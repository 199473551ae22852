package viewer

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-viewshed/internal/viewshed"
)

// Initial viewport of a new map.
var (
	InitialCenter = orb.Point{139.7454, 35.6586}
	InitialZoom   = 13.0
)

// DefaultStyles are the basemap tile templates per theme.
var DefaultStyles = map[viewshed.Theme]string{
	viewshed.ThemeDark:  "https://basemaps.cartocdn.com/dark_all/{z}/{x}/{y}.png",
	viewshed.ThemeLight: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
}

// Card is one landmark entry in the layer menu.
type Card struct {
	ID       string
	Label    string
	Subtitle string
	PhotoURL string
	Active   bool
}

// LegendView is the score legend panel.
type LegendView struct {
	Visible  bool
	Gradient string
	Label    string
}

// LocateButton is the affordance of the locate/compass button.
type LocateButton struct {
	Action string
	Icon   string
	Label  string
}

// View is everything the page renders from one State.
type View struct {
	Cards          []Card
	MultiSelect    bool
	Opacity        float64
	OpacityPercent int
	Legend         LegendView
	MenuOpen       bool
	// ShowFABs hides the floating buttons while the menu covers them.
	ShowFABs    bool
	Theme       viewshed.Theme
	Modal       viewshed.Modal
	Locate      LocateButton
	HasLocation bool
}

// BuildView derives the presentation of st.
func BuildView(c *viewshed.Catalog, st viewshed.State) View {
	v := View{
		MultiSelect:    st.MultiSelect,
		Opacity:        st.Opacity,
		OpacityPercent: int(math.Round(st.Opacity * 100)),
		MenuOpen:       st.MenuOpen,
		ShowFABs:       !st.MenuOpen,
		Theme:          st.Theme,
		Modal:          st.Modal,
		Locate:         locateButton(st.Bearing),
		HasLocation:    st.Location != nil,
	}
	for _, vp := range c.All() {
		v.Cards = append(v.Cards, Card{
			ID:       string(vp.ID),
			Label:    vp.Label,
			Subtitle: vp.Subtitle,
			PhotoURL: vp.PhotoURL,
			Active:   st.Active(vp.ID),
		})
	}

	l := viewshed.LegendFor(c, st.Selection)
	v.Legend = LegendView{Visible: l.Visible, Gradient: l.Gradient}
	if vp, ok := c.Get(l.For); ok {
		v.Legend.Label = vp.Label
	}
	return v
}

func locateButton(bearing float64) LocateButton {
	action := viewshed.LocateButtonAction(bearing)
	if action == viewshed.ActionResetBearing {
		return LocateButton{Action: action.String(), Icon: "compass", Label: "Reset map to north"}
	}
	return LocateButton{Action: action.String(), Icon: "crosshair", Label: "Show my location"}
}

// Signals are the ui signals the page binds controls to.
func (v View) Signals() map[string]any {
	return map[string]any{
		"ui": map[string]any{
			"multiSelect":    v.MultiSelect,
			"opacity":        v.Opacity,
			"opacityPercent": v.OpacityPercent,
			"menuOpen":       v.MenuOpen,
			"showFabs":       v.ShowFABs,
			"theme":          string(v.Theme),
			"modal":          string(v.Modal),
			"locateAction":   v.Locate.Action,
			"legendVisible":  v.Legend.Visible,
		},
	}
}

// Overlay is one viewshed raster source the page creates on the map.
type Overlay struct {
	Source      string `json:"source"`
	Layer       string `json:"layer"`
	Tiles       string `json:"tiles"`
	Attribution string `json:"attribution,omitempty"`
}

// MapConfig is the initial configuration of the page's map widget.
type MapConfig struct {
	Center   orb.Point `json:"center"`
	Zoom     float64   `json:"zoom"`
	Style    string    `json:"style"`
	Overlays []Overlay `json:"overlays"`
}

// BuildMapConfig describes the map for a page in theme. tileURL returns the
// tile template of a viewpoint.
func BuildMapConfig(c *viewshed.Catalog, styles map[viewshed.Theme]string, theme viewshed.Theme, tileURL func(viewshed.Viewpoint) string) MapConfig {
	mc := MapConfig{
		Center:   InitialCenter,
		Zoom:     InitialZoom,
		Style:    styles[theme],
		Overlays: make([]Overlay, 0, c.Len()),
	}
	for _, vp := range c.All() {
		mc.Overlays = append(mc.Overlays, Overlay{
			Source:      vp.Source,
			Layer:       vp.LayerID(),
			Tiles:       tileURL(vp),
			Attribution: vp.Attribution,
		})
	}
	return mc
}
