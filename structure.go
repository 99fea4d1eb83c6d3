package strata

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// absentOffset is the index sentinel marking an unused structure slot.
const absentOffset = 0xFFFFFFFF

// StructureComponent is one placement record inside a decoded structure:
// the tile to place and its signed local offsets relative to the structure
// origin. Components preserve on-disk order, which fixes downstream draw
// and processing order.
type StructureComponent struct {
	TileID  uint16
	OffsetX int16
	OffsetY int16
	OffsetZ int16
	Flags   uint32
}

// Visible reports whether the component is placeable/visible. Any non-zero
// flag value means visible in the legacy format.
func (c StructureComponent) Visible() bool { return c.Flags != 0 }

// indexEntry maps a structure identifier (implied by slot position) to its
// span in the data file.
type indexEntry struct {
	offset uint32
	length uint32
	extra  uint32
}

func (e indexEntry) absent() bool {
	return e.offset == absentOffset || e.length == 0
}

// StructureOptions configures LoadStructures.
type StructureOptions struct {
	// Index source (exactly one must be provided)
	IndexPath   string
	IndexSource ByteSource

	// Data source (exactly one must be provided)
	DataPath   string
	DataSource ByteSource

	// CacheMaxCost bounds the decode cache, measured in components.
	// Zero selects a default suitable for a full legacy structure set.
	CacheMaxCost int64

	// Logger overrides the default logrus standard logger.
	Logger logrus.FieldLogger
}

const defaultStructureCacheCost = 1 << 20

// StructureLibrary decodes structures from an index+data file pair. The
// index is read fully at load time; data spans decode lazily on first
// access and the decoded component lists are cached per identifier for the
// lifetime of the library. Safe for concurrent readers: racing first
// accesses to one identifier converge on a single decode.
type StructureLibrary struct {
	data     ByteSource
	ownsData bool
	entries  []indexEntry
	log      logrus.FieldLogger

	cache *ristretto.Cache[uint32, []StructureComponent]
	group singleflight.Group

	mu     sync.RWMutex
	closed bool
}

// LoadStructures reads the index fully, builds the in-memory span table and
// returns the library. No data record is decoded eagerly.
func LoadStructures(options StructureOptions) (*StructureLibrary, error) {
	if (options.IndexPath == "") == (options.IndexSource == nil) {
		if options.IndexSource == nil {
			return nil, ErrNoDataSource
		}
		return nil, ErrMultipleDataSources
	}
	if (options.DataPath == "") == (options.DataSource == nil) {
		if options.DataSource == nil {
			return nil, ErrNoDataSource
		}
		return nil, ErrMultipleDataSources
	}

	index := options.IndexSource
	ownsIndex := false
	if options.IndexPath != "" {
		src, err := OpenFileSourceReadOnly(options.IndexPath)
		if err != nil {
			return nil, err
		}
		index = src
		ownsIndex = true
	}
	if ownsIndex {
		defer index.Close()
	}

	entries, err := readIndex(index)
	if err != nil {
		return nil, err
	}

	lib := &StructureLibrary{
		entries: entries,
		log:     ensureLogger(options.Logger),
	}

	if options.DataSource != nil {
		lib.data = options.DataSource
	} else {
		src, err := OpenFileSourceReadOnly(options.DataPath)
		if err != nil {
			return nil, err
		}
		lib.data = src
		lib.ownsData = true
	}

	maxCost := options.CacheMaxCost
	if maxCost <= 0 {
		maxCost = defaultStructureCacheCost
	}
	cache, err := ristretto.NewCache[uint32, []StructureComponent](&ristretto.Config[uint32, []StructureComponent]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		if lib.ownsData {
			lib.data.Close()
		}
		return nil, err
	}
	lib.cache = cache

	lib.log.Debugf("structure index loaded: %d slots", len(entries))
	return lib, nil
}

// readIndex parses the whole index file into the span table. The index is
// a fixed-stride slot array, so a size that is not a multiple of the stride
// is malformed.
func readIndex(src ByteSource) ([]indexEntry, error) {
	size, err := src.Size()
	if err != nil {
		return nil, &IOError{Op: "stat structure index", Err: err}
	}
	if size%IndexEntryBytes != 0 {
		return nil, &MalformedRecordError{
			What: "structure index",
			Want: int(size/IndexEntryBytes+1) * IndexEntryBytes,
			Got:  int(size),
		}
	}

	buf := make([]byte, size)
	if size > 0 {
		if _, err := src.ReadAt(buf, 0); err != nil {
			return nil, &IOError{Op: "read structure index", Err: err}
		}
	}

	entries := make([]indexEntry, size/IndexEntryBytes)
	for i := range entries {
		entries[i] = decodeIndexEntry(buf[i*IndexEntryBytes:])
	}
	return entries, nil
}

// Count returns the number of identifier slots in the index.
func (l *StructureLibrary) Count() int { return len(l.entries) }

// IsValid is a cheap structural check — index bounds plus a non-trivial
// span — usable before paying the decode cost.
func (l *StructureLibrary) IsValid(id uint32) bool {
	if int64(id) >= int64(len(l.entries)) {
		return false
	}
	return !l.entries[id].absent()
}

// Components returns the ordered component list for id, decoding it on
// first access and caching the result. An absent slot yields an empty list
// and no error. An identifier beyond the index table yields ErrOutOfRange.
// A read or decode failure is scoped to this id: other identifiers keep
// loading and this one can be retried.
func (l *StructureLibrary) Components(id uint32) ([]StructureComponent, error) {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	l.mu.RUnlock()

	if int64(id) >= int64(len(l.entries)) {
		return nil, fmt.Errorf("structure %d: %w", id, ErrOutOfRange)
	}
	entry := l.entries[id]
	if entry.absent() {
		return nil, nil
	}

	if comps, ok := l.cache.Get(id); ok {
		return comps, nil
	}

	v, err, _ := l.group.Do(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		if comps, ok := l.cache.Get(id); ok {
			return comps, nil
		}
		comps, err := l.decode(id, entry)
		if err != nil {
			return nil, err
		}
		l.cache.Set(id, comps, int64(len(comps)))
		l.cache.Wait()
		return comps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]StructureComponent), nil
}

// decode reads exactly entry.length bytes at entry.offset and decodes the
// span into components.
func (l *StructureLibrary) decode(id uint32, entry indexEntry) ([]StructureComponent, error) {
	buf := make([]byte, entry.length)
	if _, err := l.data.ReadAt(buf, int64(entry.offset)); err != nil {
		return nil, &IOError{Op: fmt.Sprintf("read structure %d", id), Err: err}
	}
	comps, err := DecodeComponents(buf)
	if err != nil {
		return nil, fmt.Errorf("structure %d: %w", id, err)
	}
	l.log.Debugf("decoded structure %d: %d components", id, len(comps))
	return comps, nil
}

// Reload drops the cached component list for id, forcing a re-decode on
// next access. Used after the data file pair is regenerated.
func (l *StructureLibrary) Reload(id uint32) {
	l.cache.Del(id)
	l.cache.Wait()
}

// Close releases the library: the decode cache and any owned data source.
func (l *StructureLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.cache.Close()
	if l.ownsData {
		return l.data.Close()
	}
	return nil
}
