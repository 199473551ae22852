package viewshed

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
)

// Theme selects the basemap style and panel colours.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Modal is the informational dialog currently shown, if any.
type Modal string

const (
	ModalNone    Modal = ""
	ModalAbout   Modal = "about"
	ModalScoring Modal = "scoring"
)

// DefaultOpacity is the overlay opacity a new viewer starts with.
const DefaultOpacity = 0.7

// Selection is an insertion-ordered set of active viewpoints.
// The zero value is an empty selection. Values are never mutated in place.
type Selection struct {
	ids []ViewpointID
}

// NewSelection builds a selection from ids, dropping duplicates and None.
func NewSelection(ids ...ViewpointID) Selection {
	var out []ViewpointID
	for _, id := range ids {
		if id == None || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return Selection{ids: out}
}

// IDs returns the active ids in selection order.
func (s Selection) IDs() []ViewpointID {
	return slices.Clone(s.ids)
}

// Len returns the number of active viewpoints.
func (s Selection) Len() int {
	return len(s.ids)
}

// Contains reports whether id is active.
func (s Selection) Contains(id ViewpointID) bool {
	return slices.Contains(s.ids, id)
}

// First returns the earliest selected viewpoint still active.
func (s Selection) First() (ViewpointID, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[0], true
}

// Equal reports whether both selections hold the same ids in the same order.
func (s Selection) Equal(o Selection) bool {
	return slices.Equal(s.ids, o.ids)
}

func (s Selection) without(id ViewpointID) Selection {
	out := make([]ViewpointID, 0, len(s.ids))
	for _, v := range s.ids {
		if v != id {
			out = append(out, v)
		}
	}
	return Selection{ids: out}
}

func (s Selection) with(id ViewpointID) Selection {
	out := make([]ViewpointID, len(s.ids), len(s.ids)+1)
	copy(out, s.ids)
	return Selection{ids: append(out, id)}
}

// State is the complete view state of one viewer. Reducers take a State by
// value and return the next one; a State is never modified after it has
// been handed out.
type State struct {
	Selection   Selection
	MultiSelect bool
	Opacity     float64
	MenuOpen    bool
	Theme       Theme
	Modal       Modal

	// Bearing is the live rotation of the map widget in degrees.
	Bearing float64

	// Location is the last known user position, nil until the first fix.
	Location *orb.Point
	// Heading is the device heading of the last fix, nil until the first fix.
	Heading *float64
}

// InitialState is the state a freshly opened viewer starts in.
func InitialState() State {
	return State{
		Selection: NewSelection(TokyoTower),
		Opacity:   DefaultOpacity,
		Theme:     ThemeDark,
	}
}

// Toggle applies a landmark click.
//
// None clears the selection in either mode. In single-select mode the
// result is always {id}, so clicking the sole active landmark again keeps
// it selected. In multi-select mode id is removed when present and
// appended otherwise.
func (st State) Toggle(id ViewpointID) State {
	switch {
	case id == None:
		st.Selection = Selection{}
	case !st.MultiSelect:
		st.Selection = Selection{ids: []ViewpointID{id}}
	case st.Selection.Contains(id):
		st.Selection = st.Selection.without(id)
	default:
		st.Selection = st.Selection.with(id)
	}
	return st
}

// SetMultiSelect changes the selection mode. The active set is kept as is,
// even when leaving multi-select with several landmarks active; the
// single-select rule applies from the next toggle on.
func (st State) SetMultiSelect(on bool) State {
	st.MultiSelect = on
	return st
}

// ToggleMultiSelect flips the selection mode.
func (st State) ToggleMultiSelect() State {
	return st.SetMultiSelect(!st.MultiSelect)
}

// ClampOpacity limits v to [0,1]. ok is false for NaN.
func ClampOpacity(v float64) (clamped float64, ok bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	return math.Max(0, math.Min(1, v)), true
}

// SetOpacity sets the overlay opacity, clamped to [0,1]. NaN is ignored.
func (st State) SetOpacity(v float64) State {
	if c, ok := ClampOpacity(v); ok {
		st.Opacity = c
	}
	return st
}

func (st State) OpenMenu() State {
	st.MenuOpen = true
	return st
}

func (st State) CloseMenu() State {
	st.MenuOpen = false
	return st
}

func (st State) ToggleMenu() State {
	st.MenuOpen = !st.MenuOpen
	return st
}

// SetTheme switches to t; unknown themes are ignored.
func (st State) SetTheme(t Theme) State {
	if t == ThemeDark || t == ThemeLight {
		st.Theme = t
	}
	return st
}

func (st State) ToggleTheme() State {
	if st.Theme == ThemeLight {
		st.Theme = ThemeDark
	} else {
		st.Theme = ThemeLight
	}
	return st
}

func (st State) OpenModal(m Modal) State {
	if m == ModalAbout || m == ModalScoring {
		st.Modal = m
	}
	return st
}

func (st State) CloseModal() State {
	st.Modal = ModalNone
	return st
}

// SetBearing records the widget rotation. NaN is ignored.
func (st State) SetBearing(deg float64) State {
	if !math.IsNaN(deg) {
		st.Bearing = deg
	}
	return st
}

// SetFix records a successful position fix.
func (st State) SetFix(at orb.Point, heading float64) State {
	p := at
	h := heading
	st.Location = &p
	st.Heading = &h
	return st
}

// Active reports whether id's overlay should be drawn.
func (st State) Active(id ViewpointID) bool {
	return st.Selection.Contains(id)
}
