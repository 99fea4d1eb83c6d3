package strata

import "sync"

// Overlay stages proposed cell values ("ghosts") against a Map without
// touching canonical storage until CommitAll. Ghosts are keyed by canonical
// cell identity, so two tools staging the same cell cannot silently
// collide: the last value staged wins and no history is kept.
//
// The overlay assumes one writer per editing session (one active tool
// gesture at a time). Reads — Effective, Staged, Snapshot — may be served
// concurrently from a render thread; they take the read lock.
type Overlay struct {
	m *Map

	mu     sync.RWMutex
	ghosts map[*Cell]CellValue
}

// NewOverlay creates an empty overlay bound to m. Canonical storage is
// reachable from the overlay only through CommitAll.
func NewOverlay(m *Map) *Overlay {
	return &Overlay{
		m:      m,
		ghosts: make(map[*Cell]CellValue),
	}
}

// Stage creates or replaces the ghost for c. Canonical storage is
// untouched; consumers reading through Effective now see the staged value.
func (o *Overlay) Stage(c *Cell, tileID uint16, elevation int8) {
	o.mu.Lock()
	o.ghosts[c] = CellValue{TileID: tileID, Elevation: elevation}
	o.mu.Unlock()
}

// Staged returns the ghost value for c, if one is staged.
func (o *Overlay) Staged(c *Cell) (CellValue, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.ghosts[c]
	return v, ok
}

// StagedCount returns the number of cells with a staged ghost.
func (o *Overlay) StagedCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.ghosts)
}

// Effective returns the ghost value if c is staged, else the canonical
// value. This is the read contract every consumer must use so in-progress
// edits are visible to dependent calculations without mutating the source
// of truth.
func (o *Overlay) Effective(c *Cell) CellValue {
	o.mu.RLock()
	v, ok := o.ghosts[c]
	o.mu.RUnlock()
	if ok {
		return v
	}
	return c.Value()
}

// Snapshot returns a stable copy of the staged set for preview iteration.
func (o *Overlay) Snapshot() map[*Cell]CellValue {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[*Cell]CellValue, len(o.ghosts))
	for c, v := range o.ghosts {
		out[c] = v
	}
	return out
}

// DiscardAll removes every ghost without writing anything. This is the
// abort-preview path; canonical storage is untouched.
func (o *Overlay) DiscardAll() {
	o.mu.Lock()
	o.ghosts = make(map[*Cell]CellValue)
	o.mu.Unlock()
}

// CommitAll writes every staged ghost into canonical storage through the
// Map and clears the staged set. Partial success is explicit: cells that
// fail to write are reported in a CommitError and their ghosts remain
// staged, so the caller can retry or discard. Committing an empty staged
// set writes nothing and returns (0, nil).
//
// The overlay lock is not held across the canonical writes, so the Map's
// elevation-change sink may read back through Effective. A ghost stays
// staged until its write lands, so such a read observes the same value the
// commit is writing.
func (o *Overlay) CommitAll() (int, error) {
	o.mu.RLock()
	staged := make(map[*Cell]CellValue, len(o.ghosts))
	for c, v := range o.ghosts {
		staged[c] = v
	}
	o.mu.RUnlock()

	committed := 0
	var failures []CommitFailure
	written := make([]*Cell, 0, len(staged))
	for c, v := range staged {
		if err := o.m.SetCell(c.X(), c.Y(), v.TileID, v.Elevation); err != nil {
			failures = append(failures, CommitFailure{X: c.X(), Y: c.Y(), Err: err})
			continue
		}
		written = append(written, c)
		committed++
	}

	o.mu.Lock()
	for _, c := range written {
		// A ghost restaged with a new value mid-commit stays staged; only
		// the value that actually landed is cleared.
		if cur, ok := o.ghosts[c]; ok && cur == staged[c] {
			delete(o.ghosts, c)
		}
	}
	o.mu.Unlock()

	if len(failures) > 0 {
		return committed, &CommitError{Failures: failures}
	}
	return committed, nil
}
