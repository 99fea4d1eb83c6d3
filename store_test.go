package strata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// countingSource wraps a ByteSource and counts span reads, so tests can
// verify lazy-load memoization and cache behavior.
type countingSource struct {
	ByteSource
	mu    sync.Mutex
	reads int
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.ByteSource.ReadAt(p, off)
}

func (s *countingSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// failingWriteSource fails every WriteAt, for flush failure tests.
type failingWriteSource struct {
	ByteSource
}

func (s *failingWriteSource) WriteAt(p []byte, off int64) (int, error) {
	return 0, fmt.Errorf("disk full")
}

func blankSourceFor(width, height int) *MemorySource {
	return NewBlankSource((width / BlockWidth) * (height / BlockHeight) * BlockBytes)
}

func openTestMap(t *testing.T, width, height int, src ByteSource) *Map {
	t.Helper()
	m, err := Open(Options{Source: src, Width: width, Height: height})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpenValidatesDataSource(t *testing.T) {
	if _, err := Open(Options{Width: 8, Height: 8}); !errors.Is(err, ErrNoDataSource) {
		t.Errorf("no source: err = %v, want ErrNoDataSource", err)
	}

	_, err := Open(Options{
		Path:   "some.map",
		Source: blankSourceFor(8, 8),
		Width:  8, Height: 8,
	})
	if !errors.Is(err, ErrMultipleDataSources) {
		t.Errorf("two sources: err = %v, want ErrMultipleDataSources", err)
	}
}

func TestOpenValidatesDimensions(t *testing.T) {
	cases := []struct{ w, h int }{
		{0, 8}, {8, 0}, {-8, 8}, {12, 8}, {8, 9},
	}
	for _, c := range cases {
		_, err := Open(Options{Source: NewBlankSource(0), Width: c.w, Height: c.h})
		if !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("dims %dx%d: err = %v, want ErrInvalidDimensions", c.w, c.h, err)
		}
	}
}

func TestCellOutOfRangeReturnsNil(t *testing.T) {
	m := openTestMap(t, 16, 16, blankSourceFor(16, 16))

	for _, p := range [][2]int{{-1, 0}, {0, -1}, {16, 0}, {0, 16}} {
		cell, err := m.Cell(p[0], p[1])
		if err != nil {
			t.Errorf("Cell(%d,%d) error = %v, want nil", p[0], p[1], err)
		}
		if cell != nil {
			t.Errorf("Cell(%d,%d) = %v, want nil", p[0], p[1], cell)
		}
	}
}

func TestCellPositionsAreFixed(t *testing.T) {
	m := openTestMap(t, 16, 16, blankSourceFor(16, 16))

	cell, err := m.Cell(11, 5)
	if err != nil {
		t.Fatalf("Cell failed: %v", err)
	}
	if cell.X() != 11 || cell.Y() != 5 {
		t.Errorf("position = (%d,%d), want (11,5)", cell.X(), cell.Y())
	}
}

func TestSetCellFlushReloadRoundTrip(t *testing.T) {
	// Block size 8x8, cell record 3 bytes: set (5,5), flush, reload block
	// (0,0) from the serialized bytes.
	src := blankSourceFor(8, 8)
	m := openTestMap(t, 8, 8, src)

	if err := m.SetCell(5, 5, 0x1234, 10); err != nil {
		t.Fatalf("SetCell failed: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The packed record sits at local offset (5,5), row-major.
	raw := src.Bytes()
	off := (5*BlockWidth + 5) * CellBytes
	if got := binary.LittleEndian.Uint16(raw[off:]); got != 0x1234 {
		t.Errorf("serialized tile = 0x%04X, want 0x1234", got)
	}
	if got := int8(raw[off+2]); got != 10 {
		t.Errorf("serialized elevation = %d, want 10", got)
	}

	// A fresh map over the same bytes reproduces the cell.
	reloaded := openTestMap(t, 8, 8, NewMemorySource(raw))
	cell, err := reloaded.Cell(5, 5)
	if err != nil {
		t.Fatalf("Cell after reload failed: %v", err)
	}
	if cell.TileID() != 0x1234 || cell.Elevation() != 10 {
		t.Errorf("reloaded cell = 0x%04X/%d, want 0x1234/10", cell.TileID(), cell.Elevation())
	}
}

func TestRoundTripAcrossWholeGrid(t *testing.T) {
	src := blankSourceFor(16, 16)
	m := openTestMap(t, 16, 16, src)

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			if err := m.SetCell(x, y, uint16(y*16+x), int8(x-y)); err != nil {
				t.Fatalf("SetCell(%d,%d) failed: %v", x, y, err)
			}
		}
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded := openTestMap(t, 16, 16, NewMemorySource(src.Bytes()))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			cell, err := reloaded.Cell(x, y)
			if err != nil {
				t.Fatalf("Cell(%d,%d) failed: %v", x, y, err)
			}
			if cell.TileID() != uint16(y*16+x) || cell.Elevation() != int8(x-y) {
				t.Fatalf("cell (%d,%d) = 0x%04X/%d, want 0x%04X/%d",
					x, y, cell.TileID(), cell.Elevation(), y*16+x, int8(x-y))
			}
		}
	}
}

func TestBlockLayoutIsColumnMajor(t *testing.T) {
	// On a 16x16 map (2x2 blocks) cell (8,0) lives in block (1,0), which is
	// stored after both blocks of column 0.
	src := blankSourceFor(16, 16)
	m := openTestMap(t, 16, 16, src)

	if err := m.SetCell(8, 0, 0xABCD, 0); err != nil {
		t.Fatalf("SetCell failed: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	raw := src.Bytes()
	blockOff := (1*2 + 0) * BlockBytes
	if got := binary.LittleEndian.Uint16(raw[blockOff:]); got != 0xABCD {
		t.Errorf("tile at block (1,0) offset = 0x%04X, want 0xABCD", got)
	}
}

func TestBlocksLoadLazilyAndMemoize(t *testing.T) {
	counting := &countingSource{ByteSource: blankSourceFor(16, 16)}
	m := openTestMap(t, 16, 16, counting)

	if got := counting.readCount(); got != 0 {
		t.Fatalf("Open read %d spans, want 0 (loading is lazy)", got)
	}

	// Two cells in the same block: one load.
	m.Cell(0, 0)
	m.Cell(7, 7)
	if got := counting.readCount(); got != 1 {
		t.Errorf("reads after same-block touches = %d, want 1", got)
	}

	// A cell in another block: second load.
	m.Cell(8, 8)
	if got := counting.readCount(); got != 2 {
		t.Errorf("reads after second block = %d, want 2", got)
	}
	if got := m.LoadedBlocks(); got != 2 {
		t.Errorf("LoadedBlocks = %d, want 2", got)
	}
}

func TestSetCellMarksDirtyAndFlushClears(t *testing.T) {
	m := openTestMap(t, 16, 16, blankSourceFor(16, 16))

	if got := m.DirtyBlocks(); len(got) != 0 {
		t.Fatalf("DirtyBlocks before edits = %v, want none", got)
	}

	m.SetCell(1, 1, 7, 0)
	m.SetCell(9, 9, 7, 0)

	dirty := m.DirtyBlocks()
	if len(dirty) != 2 {
		t.Fatalf("DirtyBlocks = %v, want 2 entries", dirty)
	}
	if dirty[0] != (BlockCoord{0, 0}) || dirty[1] != (BlockCoord{1, 1}) {
		t.Errorf("DirtyBlocks = %v, want [(0,0) (1,1)]", dirty)
	}

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := m.DirtyBlocks(); len(got) != 0 {
		t.Errorf("DirtyBlocks after flush = %v, want none", got)
	}
}

func TestSetCellOutOfRange(t *testing.T) {
	m := openTestMap(t, 8, 8, blankSourceFor(8, 8))
	if err := m.SetCell(8, 0, 1, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("SetCell out of range: err = %v, want ErrOutOfRange", err)
	}
}

func TestElevationChangeNotification(t *testing.T) {
	type change struct {
		x, y     int
		old, new int8
	}
	var changes []change

	m, err := Open(Options{
		Source: blankSourceFor(8, 8),
		Width:  8, Height: 8,
		OnElevationChange: func(x, y int, oldElev, newElev int8) {
			changes = append(changes, change{x, y, oldElev, newElev})
		},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	m.SetCell(2, 3, 5, 7)
	if len(changes) != 1 || changes[0] != (change{2, 3, 0, 7}) {
		t.Fatalf("changes = %v, want [{2 3 0 7}]", changes)
	}

	// Tile-only change: no notification.
	m.SetCell(2, 3, 6, 7)
	if len(changes) != 1 {
		t.Errorf("tile-only change notified: %v", changes)
	}
}

func TestFlushFailureKeepsBlockDirty(t *testing.T) {
	src := &failingWriteSource{ByteSource: blankSourceFor(16, 16)}
	m := openTestMap(t, 16, 16, src)

	m.SetCell(0, 0, 1, 1)
	m.SetCell(8, 8, 1, 1)

	err := m.Flush()
	var flushErr *FlushError
	if !errors.As(err, &flushErr) {
		t.Fatalf("Flush error = %v, want FlushError", err)
	}
	if len(flushErr.Failures) != 2 {
		t.Fatalf("Failures = %v, want 2 entries", flushErr.Failures)
	}
	if flushErr.Failures[0].BX != 0 || flushErr.Failures[0].BY != 0 {
		t.Errorf("first failure = %+v, want block (0,0)", flushErr.Failures[0])
	}

	// Failed blocks stay dirty so the flush can be retried.
	if got := m.DirtyBlocks(); len(got) != 2 {
		t.Errorf("DirtyBlocks after failed flush = %v, want 2 entries", got)
	}
}

func TestEvict(t *testing.T) {
	counting := &countingSource{ByteSource: blankSourceFor(16, 16)}
	m := openTestMap(t, 16, 16, counting)

	m.SetCell(0, 0, 9, 0)

	if err := m.Evict(0, 0); !errors.Is(err, ErrDirtyBlock) {
		t.Fatalf("Evict dirty block: err = %v, want ErrDirtyBlock", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := m.Evict(0, 0); err != nil {
		t.Fatalf("Evict after flush failed: %v", err)
	}

	// Evicting a never-loaded block is a no-op; out-of-grid is an error.
	if err := m.Evict(1, 1); err != nil {
		t.Errorf("Evict unloaded block: err = %v, want nil", err)
	}
	if err := m.Evict(5, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Evict out of grid: err = %v, want ErrOutOfRange", err)
	}

	// The evicted block reloads from storage on next touch.
	before := counting.readCount()
	cell, err := m.Cell(0, 0)
	if err != nil {
		t.Fatalf("Cell after evict failed: %v", err)
	}
	if counting.readCount() != before+1 {
		t.Error("evicted block was not reloaded from storage")
	}
	if cell.TileID() != 9 {
		t.Errorf("reloaded cell tile = %d, want 9", cell.TileID())
	}
}

func TestMapWithFileBackedSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch.map")

	// Seed a zero-filled 8x8 map file.
	seed, err := OpenFileSource(path)
	if err != nil {
		t.Fatalf("OpenFileSource failed: %v", err)
	}
	if _, err := seed.WriteAt(make([]byte, BlockBytes), 0); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	seed.Close()

	m, err := Open(Options{Path: path, Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := m.SetCell(3, 4, 0x0042, -5); err != nil {
		t.Fatalf("SetCell failed: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m2, err := Open(Options{Path: path, Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer m2.Close()

	cell, err := m2.Cell(3, 4)
	if err != nil {
		t.Fatalf("Cell failed: %v", err)
	}
	if cell.TileID() != 0x0042 || cell.Elevation() != -5 {
		t.Errorf("cell = 0x%04X/%d, want 0x0042/-5", cell.TileID(), cell.Elevation())
	}
}

func TestOperationsAfterClose(t *testing.T) {
	m := openTestMap(t, 8, 8, blankSourceFor(8, 8))
	m.Close()

	if _, err := m.Cell(0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Cell after close: err = %v, want ErrClosed", err)
	}
	if err := m.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after close: err = %v, want ErrClosed", err)
	}
	if err := m.Evict(0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Evict after close: err = %v, want ErrClosed", err)
	}
}

func TestCustomBoundsOracle(t *testing.T) {
	m, err := Open(Options{
		Source: blankSourceFor(16, 16),
		Width:  16, Height: 16,
		Bounds: &denyBounds{width: 16, height: 16, denyX: 12, deny: true},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	cell, err := m.Cell(12, 0)
	if err != nil || cell != nil {
		t.Errorf("Cell at denied x = (%v, %v), want (nil, nil)", cell, err)
	}
	cell, err = m.Cell(11, 0)
	if err != nil || cell == nil {
		t.Errorf("Cell at allowed x = (%v, %v), want a cell", cell, err)
	}
}

// denyBounds is a rectangular oracle whose rejection of one column can be
// toggled mid-test, for oracle injection and partial-commit tests.
type denyBounds struct {
	width, height int
	denyX         int

	mu   sync.Mutex
	deny bool
}

func (b *denyBounds) setDeny(deny bool) {
	b.mu.Lock()
	b.deny = deny
	b.mu.Unlock()
}

func (b *denyBounds) IsValidX(x int) bool {
	b.mu.Lock()
	deny := b.deny
	b.mu.Unlock()
	if deny && x == b.denyX {
		return false
	}
	return x >= 0 && x < b.width
}

func (b *denyBounds) IsValidY(y int) bool { return y >= 0 && y < b.height }
