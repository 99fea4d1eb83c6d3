package strata

import "sync"

// Block owns one fixed 8x8 run of cells, the unit of load and serialization.
// The cell count and byte layout never change after load; only cell contents
// mutate. Cells are stored row-major within the block, matching the packed
// layout: record offset = (localY*BlockWidth + localX) * CellBytes.
type Block struct {
	bx, by int
	cells  [CellsPerBlock]Cell

	// mu serializes cell mutation against flush. The block table lock in Map
	// orders block creation; this lock orders content access.
	mu    sync.Mutex
	dirty bool
}

// BlockCoord identifies a block within the grid.
type BlockCoord struct {
	BX, BY int
}

// newBlock creates a block with every cell positioned but zero-valued.
func newBlock(bx, by int) *Block {
	b := &Block{bx: bx, by: by}
	for i := range b.cells {
		b.cells[i].x = bx*BlockWidth + i%BlockWidth
		b.cells[i].y = by*BlockHeight + i/BlockWidth
	}
	return b
}

// BX returns the block's grid x coordinate.
func (b *Block) BX() int { return b.bx }

// BY returns the block's grid y coordinate.
func (b *Block) BY() int { return b.by }

// Dirty reports whether the block has unflushed changes.
func (b *Block) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// cellAt returns the cell at local coordinates within the block.
func (b *Block) cellAt(lx, ly int) *Cell {
	return &b.cells[ly*BlockWidth+lx]
}

// decode loads every cell's value from one packed block span.
func (b *Block) decode(buf []byte) error {
	if len(buf) < BlockBytes {
		return &MalformedRecordError{What: "block", Want: BlockBytes, Got: len(buf)}
	}
	for i := range b.cells {
		v, err := DecodeCellValue(buf[i*CellBytes:])
		if err != nil {
			return err
		}
		b.cells[i].val = v
	}
	return nil
}

// encode serializes the block into buf, which must hold BlockBytes.
// Caller holds b.mu.
func (b *Block) encode(buf []byte) {
	for i := range b.cells {
		PutCellValue(buf[i*CellBytes:], b.cells[i].val)
	}
}
