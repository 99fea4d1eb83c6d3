package strata

// CellValue is the mutable portion of a cell's state: the tile drawn at the
// cell and its elevation. Elevation always fits the signed 8-bit range of
// the packed format.
type CellValue struct {
	TileID    uint16
	Elevation int8
}

// Cell is one map tile's canonical stored state. Its position is fixed at
// creation; the tile and elevation change only through Map.SetCell, so that
// a staged ghost can never diverge from what commit will eventually write.
type Cell struct {
	x, y int
	val  CellValue
}

// X returns the cell's map-space x coordinate.
func (c *Cell) X() int { return c.x }

// Y returns the cell's map-space y coordinate.
func (c *Cell) Y() int { return c.y }

// TileID returns the stored tile-type identifier.
func (c *Cell) TileID() uint16 { return c.val.TileID }

// Elevation returns the stored elevation.
func (c *Cell) Elevation() int8 { return c.val.Elevation }

// Value returns the stored tile and elevation as one value.
func (c *Cell) Value() CellValue { return c.val }
