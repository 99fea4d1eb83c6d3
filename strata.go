package strata

import (
	"github.com/sirupsen/logrus"
)

// BoundsOracle bounds the playable map rectangle. The default oracle accepts
// [0, width) x [0, height); hosts with irregular playable areas inject their
// own.
type BoundsOracle interface {
	IsValidX(x int) bool
	IsValidY(y int) bool
}

// rectBounds is the default rectangular oracle.
type rectBounds struct {
	width, height int
}

func (r rectBounds) IsValidX(x int) bool { return x >= 0 && x < r.width }
func (r rectBounds) IsValidY(y int) bool { return y >= 0 && y < r.height }

// ElevationChangedFunc is invoked after a cell's stored elevation changes,
// so hosts can recalculate slopes or redraw. The core only calls it; it
// never blocks on the result.
type ElevationChangedFunc func(x, y int, oldElev, newElev int8)

// Options configures how a Map is opened.
type Options struct {
	// Data source (exactly one must be provided)
	Path   string     // open a map file on the local filesystem
	Source ByteSource // use a caller-owned byte source

	// Map dimensions in cells. Both must be positive multiples of the
	// block size (BlockWidth x BlockHeight).
	Width  int
	Height int

	// Bounds overrides the default rectangular coordinate oracle.
	Bounds BoundsOracle

	// OnElevationChange, if set, is called after SetCell changes a cell's
	// elevation.
	OnElevationChange ElevationChangedFunc

	// Logger overrides the default logrus standard logger.
	Logger logrus.FieldLogger
}

// Open validates options and returns a Map over the given storage. The Map
// owns a Path-opened source and closes it in Close; a caller-provided
// Source stays caller-owned.
func Open(options Options) (*Map, error) {
	sourceCount := 0
	if options.Path != "" {
		sourceCount++
	}
	if options.Source != nil {
		sourceCount++
	}
	if sourceCount == 0 {
		return nil, ErrNoDataSource
	}
	if sourceCount > 1 {
		return nil, ErrMultipleDataSources
	}

	if options.Width <= 0 || options.Height <= 0 ||
		options.Width%BlockWidth != 0 || options.Height%BlockHeight != 0 {
		return nil, ErrInvalidDimensions
	}

	m := &Map{
		width:       options.Width,
		height:      options.Height,
		blocksX:     options.Width / BlockWidth,
		blocksY:     options.Height / BlockHeight,
		bounds:      options.Bounds,
		onElevation: options.OnElevationChange,
		log:         ensureLogger(options.Logger),
		blocks:      make(map[BlockCoord]*Block),
	}
	if m.bounds == nil {
		m.bounds = rectBounds{width: options.Width, height: options.Height}
	}

	if options.Source != nil {
		m.src = options.Source
	} else {
		src, err := OpenFileSource(options.Path)
		if err != nil {
			return nil, err
		}
		m.src = src
		m.ownsSource = true
	}

	return m, nil
}
