package strata

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Map is a 2-D grid of fixed-size blocks over a packed byte source. Blocks
// materialize lazily on first touch and stay memoized until evicted. Blocks
// are stored column-major in the source:
//
//	offset = (bx*blocksDown + by) * BlockBytes
//
// matching the legacy on-disk layout the cell record comes from.
type Map struct {
	src        ByteSource
	ownsSource bool

	width, height    int
	blocksX, blocksY int
	bounds           BoundsOracle
	onElevation      ElevationChangedFunc
	log              logrus.FieldLogger

	mu     sync.RWMutex
	blocks map[BlockCoord]*Block
	closed bool
}

// Width returns the map width in cells.
func (m *Map) Width() int { return m.width }

// Height returns the map height in cells.
func (m *Map) Height() int { return m.height }

// InBounds reports whether the oracle accepts (x, y).
func (m *Map) InBounds(x, y int) bool {
	return m.bounds.IsValidX(x) && m.bounds.IsValidY(y)
}

// Close releases the map. An owned source is closed; dirty blocks are NOT
// flushed implicitly — the composition root decides when edits persist.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.ownsSource {
		return m.src.Close()
	}
	return nil
}

// blockOffset returns the byte offset of block (bx, by) in the source.
func (m *Map) blockOffset(bx, by int) int64 {
	return int64(bx*m.blocksY+by) * BlockBytes
}

// Cell returns the canonical cell at (x, y), materializing its block on
// first touch. Out-of-bounds coordinates return (nil, nil) — an expected,
// non-exceptional result. A load failure returns the scoped error.
func (m *Map) Cell(x, y int) (*Cell, error) {
	if !m.InBounds(x, y) {
		return nil, nil
	}
	blk, err := m.block(x/BlockWidth, y/BlockHeight)
	if err != nil {
		return nil, err
	}
	return blk.cellAt(x%BlockWidth, y%BlockHeight), nil
}

// SetCell writes tile and elevation into the canonical cell at (x, y),
// marking the owning block dirty. Tile-type validity is caller policy; the
// store rejects only out-of-range coordinates. The elevation-change sink,
// if any, runs after the write.
func (m *Map) SetCell(x, y int, tileID uint16, elevation int8) error {
	if !m.InBounds(x, y) {
		return fmt.Errorf("set cell (%d,%d): %w", x, y, ErrOutOfRange)
	}
	blk, err := m.block(x/BlockWidth, y/BlockHeight)
	if err != nil {
		return err
	}

	cell := blk.cellAt(x%BlockWidth, y%BlockHeight)

	blk.mu.Lock()
	old := cell.val
	cell.val = CellValue{TileID: tileID, Elevation: elevation}
	blk.dirty = true
	blk.mu.Unlock()

	if old.Elevation != elevation && m.onElevation != nil {
		m.onElevation(x, y, old.Elevation, elevation)
	}
	return nil
}

// block returns the materialized block at grid coordinates (bx, by),
// loading and decoding it on first touch. A block loaded once is never
// reloaded unless evicted.
func (m *Map) block(bx, by int) (*Block, error) {
	key := BlockCoord{BX: bx, BY: by}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	if blk, ok := m.blocks[key]; ok {
		m.mu.RUnlock()
		return blk, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if blk, ok := m.blocks[key]; ok {
		return blk, nil
	}

	blk := newBlock(bx, by)
	buf := make([]byte, BlockBytes)
	if _, err := m.src.ReadAt(buf, m.blockOffset(bx, by)); err != nil {
		return nil, &IOError{Op: fmt.Sprintf("load block (%d,%d)", bx, by), Err: err}
	}
	if err := blk.decode(buf); err != nil {
		return nil, err
	}

	m.blocks[key] = blk
	m.log.Debugf("loaded block (%d,%d)", bx, by)
	return blk, nil
}

// Flush serializes every dirty block back to the source and clears its
// dirty flag. Each block is written with a single whole-block write: either
// the full fixed-size span lands or the block stays dirty. Failures are
// collected per block into a FlushError; other blocks still flush.
func (m *Map) Flush() error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	dirty := make([]*Block, 0)
	for _, blk := range m.blocks {
		if blk.Dirty() {
			dirty = append(dirty, blk)
		}
	}
	m.mu.RUnlock()

	sort.Slice(dirty, func(i, j int) bool {
		if dirty[i].bx != dirty[j].bx {
			return dirty[i].bx < dirty[j].bx
		}
		return dirty[i].by < dirty[j].by
	})

	var failures []FlushFailure
	buf := make([]byte, BlockBytes)
	for _, blk := range dirty {
		blk.mu.Lock()
		blk.encode(buf)
		n, err := m.src.WriteAt(buf, m.blockOffset(blk.bx, blk.by))
		if err == nil && n < BlockBytes {
			err = &IOError{Op: fmt.Sprintf("flush block (%d,%d)", blk.bx, blk.by),
				Err: fmt.Errorf("short write: %d of %d bytes", n, BlockBytes)}
		}
		if err != nil {
			blk.mu.Unlock()
			m.log.Warnf("flush block (%d,%d): %v", blk.bx, blk.by, err)
			failures = append(failures, FlushFailure{BX: blk.bx, BY: blk.by, Err: err})
			continue
		}
		blk.dirty = false
		blk.mu.Unlock()
	}

	if len(failures) > 0 {
		return &FlushError{Failures: failures}
	}
	return nil
}

// Evict drops the materialized block at (bx, by). A dirty block cannot be
// evicted; flush first. Evicting a block invalidates any Cell pointers into
// it, so a host must discard overlays referencing the block before evicting.
func (m *Map) Evict(bx, by int) error {
	if bx < 0 || bx >= m.blocksX || by < 0 || by >= m.blocksY {
		return fmt.Errorf("evict block (%d,%d): %w", bx, by, ErrOutOfRange)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := BlockCoord{BX: bx, BY: by}
	blk, ok := m.blocks[key]
	if !ok {
		return nil
	}
	if blk.Dirty() {
		return ErrDirtyBlock
	}
	delete(m.blocks, key)
	return nil
}

// DirtyBlocks returns the coordinates of every block with unflushed
// changes, ordered column-major.
func (m *Map) DirtyBlocks() []BlockCoord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coords := make([]BlockCoord, 0)
	for key, blk := range m.blocks {
		if blk.Dirty() {
			coords = append(coords, key)
		}
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].BX != coords[j].BX {
			return coords[i].BX < coords[j].BX
		}
		return coords[i].BY < coords[j].BY
	})
	return coords
}

// LoadedBlocks returns how many blocks are currently materialized.
func (m *Map) LoadedBlocks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}
