// Package mmapdev exposes a memory-mapped image file as a read-only device. It is used by tools which must
// inspect the filesystem without any chance of modifying it.
package mmapdev

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

var _ io.ReadWriteSeeker = &MmapDev{}

// ErrReadOnly is returned on every write attempt.
var ErrReadOnly = errors.New("device is read-only")

// MmapDev is a read-only device backed by memory-mapped file.
type MmapDev struct {
	reader *mmap.ReaderAt
	offset int64
}

// Open maps the image file.
func Open(path string) (*MmapDev, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MmapDev{reader: reader}, nil
}

// Seek seeks the position.
func (md *MmapDev) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = md.offset + offset
	case io.SeekEnd:
		offset = md.Size() + offset
	default:
		return 0, errors.Errorf("invalid whence: %d", whence)
	}

	if offset < 0 || offset > md.Size() {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}

	md.offset = offset
	return offset, nil
}

// Read reads mapped data.
func (md *MmapDev) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := md.reader.ReadAt(p, md.offset)
	md.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Write always fails.
func (md *MmapDev) Write(p []byte) (int, error) {
	return 0, errors.WithStack(ErrReadOnly)
}

// Sync does nothing, there is nothing to flush.
func (md *MmapDev) Sync() error {
	return nil
}

// Size returns the byte size of the mapped file.
func (md *MmapDev) Size() int64 {
	return int64(md.reader.Len())
}

// Close unmaps the file.
func (md *MmapDev) Close() error {
	return errors.WithStack(md.reader.Close())
}
