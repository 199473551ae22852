package viewshed

// DefaultGradient is used for viewpoints without a gradient of their own.
const DefaultGradient = "linear-gradient(to top, #eee, #333)"

// Legend describes the score legend for a selection.
type Legend struct {
	Visible  bool
	Gradient string
	// For is the viewpoint whose colours the legend shows.
	For ViewpointID
}

// LegendFor returns the legend of sel. The first selected viewpoint decides
// the gradient; the legend is hidden when nothing is selected.
func LegendFor(c *Catalog, sel Selection) Legend {
	first, ok := sel.First()
	if !ok {
		return Legend{Gradient: DefaultGradient}
	}
	l := Legend{Visible: true, Gradient: DefaultGradient, For: first}
	if vp, ok := c.Get(first); ok && vp.Gradient != "" {
		l.Gradient = vp.Gradient
	}
	return l
}
