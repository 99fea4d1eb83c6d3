package strata

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ByteSource abstracts the seekable storage behind a map or structure file.
// The library provides file-backed and in-memory implementations; hosts with
// custom protocols (archives, network shares) supply their own.
type ByteSource interface {
	// ReadAt fills p from the span starting at off. Follows the io.ReaderAt
	// contract: a read short of len(p) returns an error.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p at off, growing the source if it supports growth.
	WriteAt(p []byte, off int64) (int, error)

	// Size returns the current length of the source in bytes.
	Size() (int64, error)

	// Close releases the source.
	Close() error
}

// FileSource is a ByteSource backed by a local file.
type FileSource struct {
	f *os.File
}

// OpenFileSource opens path read-write, creating it if absent.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, &IOError{Op: fmt.Sprintf("open %s", path), Err: err}
	}
	return &FileSource{f: f}, nil
}

// OpenFileSourceReadOnly opens path for reading only. WriteAt fails.
func OpenFileSourceReadOnly(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: fmt.Sprintf("open %s", path), Err: err}
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *FileSource) WriteAt(p []byte, off int64) (int, error) {
	return s.f.WriteAt(p, off)
}

func (s *FileSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FileSource) Close() error {
	return s.f.Close()
}

// MemorySource is a ByteSource over a byte slice, for scratch maps and
// tests. WriteAt grows the backing slice as needed.
type MemorySource struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemorySource wraps data in a MemorySource. The source takes ownership
// of the slice.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

// NewBlankSource creates a zero-filled MemorySource of the given size.
func NewBlankSource(size int) *MemorySource {
	return &MemorySource{data: make([]byte, size)}
}

func (s *MemorySource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (s *MemorySource) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &IOError{Op: "write", Err: fmt.Errorf("negative offset %d", off)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	return copy(s.data[off:], p), nil
}

func (s *MemorySource) Size() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

func (s *MemorySource) Close() error { return nil }

// Bytes returns a copy of the source's current contents.
func (s *MemorySource) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}
