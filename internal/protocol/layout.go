package protocol

// CatalogEntry is a named action the host exposes. The id is opaque to the
// protocol; the action executor interprets prefixed forms like "launch:" or
// "media:". Icons are optional base64 PNG data passed through untouched.
type CatalogEntry struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Icon    string `json:"icon,omitempty"`
	IconPNG string `json:"iconPng,omitempty"`
}

// Layout is the grid assignment of catalog ids to tile positions. A nil cell
// is an empty tile. len(Cells) == Rows*Cols holds on every transmitted or
// applied layout; Normalize restores the invariant.
type Layout struct {
	Rows         int       `json:"rows"`
	Cols         int       `json:"cols"`
	Cells        []*string `json:"cells"`
	TileHeightDp int       `json:"tileHeightDp"`
	IconSizeDp   int       `json:"iconSizeDp"`
}

const (
	minGridDim = 1
	maxGridDim = 12

	defaultTileHeightDp = 126
	defaultIconSizeDp   = 82
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps the grid to 1..12 on each axis, defaults missing sizing
// hints, and pads or truncates Cells to exactly Rows*Cols entries.
func (l Layout) Normalize() Layout {
	l.Rows = clampInt(l.Rows, minGridDim, maxGridDim)
	l.Cols = clampInt(l.Cols, minGridDim, maxGridDim)
	if l.TileHeightDp <= 0 {
		l.TileHeightDp = defaultTileHeightDp
	}
	if l.IconSizeDp <= 0 {
		l.IconSizeDp = defaultIconSizeDp
	}

	need := l.Rows * l.Cols
	cells := make([]*string, 0, need)
	for i := 0; i < len(l.Cells) && i < need; i++ {
		cells = append(cells, l.Cells[i])
	}
	for len(cells) < need {
		cells = append(cells, nil)
	}
	l.Cells = cells
	return l
}
