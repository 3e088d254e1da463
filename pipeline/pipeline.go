// Package pipeline runs read and write transactions on files.
package pipeline

import (
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
	"github.com/outofforest/histfs/mapper"
	"github.com/outofforest/histfs/snapshot"
)

// Pipeline executes file transactions.
type Pipeline struct {
	dev       blocks.ReadWriter
	alloc     blocks.Allocator
	inodes    inode.Store
	mapper    *mapper.Mapper
	snapshots *snapshot.Engine
	logger    *slog.Logger
	now       func() time.Time
}

// New creates new pipeline.
func New(dev blocks.ReadWriter, alloc blocks.Allocator, inodes inode.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		dev:       dev,
		alloc:     alloc,
		inodes:    inodes,
		mapper:    mapper.New(dev, alloc, logger),
		snapshots: snapshot.New(dev, alloc, inodes, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Begin starts write transaction covering length bytes at offset. It checks that there is enough space,
// takes the snapshot and allocates all the blocks in the range.
func (p *Pipeline) Begin(rec *inode.Record, offset, length int64) error {
	if offset < 0 || length < 0 {
		return errors.Errorf("invalid range, offset: %d, length: %d", offset, length)
	}
	if offset > blocks.MaxFileSize || length > blocks.MaxFileSize-offset {
		return errors.Wrapf(errs.ErrOutOfSpace, "write of %d bytes at %d exceeds maximum file size %d", length,
			offset, blocks.MaxFileSize)
	}

	ib, err := blocks.ReadIndex(p.dev, rec.IndexBlock)
	if err != nil {
		return err
	}
	if ib.Trailer.Kind != blocks.Unversioned && !rec.CanWrite {
		return errors.Wrapf(errs.ErrReadOnlyVersion, "inode %d is pinned to historical version", rec.Ino)
	}
	first, last, empty := blockRange(offset, length)

	var needed uint64
	if !empty {
		for logical := first; logical <= last; logical++ {
			if ib.Slots[logical] == blocks.NoBlock {
				needed++
			}
		}
	}
	if ib.Trailer.Kind != blocks.Unversioned {
		needed += uint64(ib.Allocated()) + 1
	}
	if nFree := p.alloc.NFree(); needed > nFree {
		return errors.Wrapf(errs.ErrOutOfSpace, "transaction needs %d blocks, %d are free", needed, nFree)
	}

	if err := p.snapshots.Take(rec); err != nil {
		return err
	}

	if empty {
		return nil
	}
	for logical := first; logical <= last; logical++ {
		if _, _, err := p.mapper.Resolve(rec, logical, true); err != nil {
			p.logger.Error("Materializing block failed, version is incomplete", "ino", rec.Ino,
				"logical", logical, "error", err)
			return err
		}
	}
	return nil
}

// Write writes data at offset as a single transaction. Empty write changes nothing.
func (p *Pipeline) Write(rec *inode.Record, offset int64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if err := p.Begin(rec, offset, int64(len(data))); err != nil {
		return 0, err
	}

	ib, err := blocks.ReadIndex(p.dev, rec.IndexBlock)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, blocks.BlockSize)
	var written int
	for written < len(data) {
		pos := offset + int64(written)
		logical := uint32(pos / blocks.BlockSize)
		inBlock := int(pos % blocks.BlockSize)
		address := ib.Slots[logical]

		n := min(blocks.BlockSize-inBlock, len(data)-written)
		if n < blocks.BlockSize {
			if err := p.dev.ReadBlock(address, buf); err != nil {
				return written, errs.IO("read data", uint32(address), err)
			}
		}
		copy(buf[inBlock:], data[written:written+n])
		if err := p.dev.WriteBlock(address, buf); err != nil {
			p.logger.Error("Writing data failed, version is incomplete", "ino", rec.Ino, "address", address,
				"error", err)
			return written, errs.IO("write data", uint32(address), err)
		}
		written += n
	}

	size := max(int64(rec.Size), offset+int64(len(data)))
	if err := p.End(rec, size); err != nil {
		return written, err
	}
	return written, nil
}

// End completes the transaction setting new size of the file. Blocks beyond the new size are released.
func (p *Pipeline) End(rec *inode.Record, size int64) error {
	if size < 0 || size > blocks.MaxFileSize {
		return errors.Errorf("invalid file size %d", size)
	}

	ib, err := blocks.ReadIndex(p.dev, rec.IndexBlock)
	if err != nil {
		return err
	}

	var released []blocks.BlockAddress
	if size < int64(rec.Size) {
		count := blockCount(size)
		for logical := count; logical < blocks.DataSlots; logical++ {
			if ib.Slots[logical] != blocks.NoBlock {
				released = append(released, ib.Slots[logical])
				ib.Slots[logical] = blocks.NoBlock
			}
		}
		if tail := size % blocks.BlockSize; tail != 0 && ib.Slots[count-1] != blocks.NoBlock {
			if err := p.zeroTail(ib.Slots[count-1], int(tail)); err != nil {
				return err
			}
		}
		if len(released) > 0 {
			if err := blocks.WriteIndex(p.dev, rec.IndexBlock, ib); err != nil {
				return err
			}
		}
	}

	updated := *rec
	updated.Size = uint64(size)
	updated.Blocks = uint32(ib.Allocated())
	now := p.now().UnixNano()
	updated.MTime = now
	updated.CTime = now
	updated.Incomplete = false
	if err := p.inodes.Persist(&updated); err != nil {
		return err
	}
	*rec = updated

	for _, address := range released {
		if err := p.alloc.Free(address); err != nil {
			return err
		}
	}
	if len(released) > 0 {
		p.logger.Debug("File truncated", "ino", rec.Ino, "size", size, "releasedBlocks", len(released))
	}
	return nil
}

// Read reads data of the active version at offset. Holes are read as zeros.
func (p *Pipeline) Read(rec *inode.Record, offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, errors.Errorf("invalid offset %d", offset)
	}
	if offset >= int64(rec.Size) {
		return 0, io.EOF
	}

	ib, err := blocks.ReadIndex(p.dev, rec.IndexBlock)
	if err != nil {
		return 0, err
	}

	toRead := int(min(int64(len(data)), int64(rec.Size)-offset))
	buf := make([]byte, blocks.BlockSize)
	var read int
	for read < toRead {
		pos := offset + int64(read)
		inBlock := int(pos % blocks.BlockSize)
		n := min(blocks.BlockSize-inBlock, toRead-read)

		if address := ib.Slots[pos/blocks.BlockSize]; address == blocks.NoBlock {
			clear(data[read : read+n])
		} else {
			if err := p.dev.ReadBlock(address, buf); err != nil {
				return read, errs.IO("read data", uint32(address), err)
			}
			copy(data[read:read+n], buf[inBlock:])
		}
		read += n
	}

	if read < len(data) {
		return read, io.EOF
	}
	return read, nil
}

// Truncate sets the size of the file. The snapshot is taken like for any other write.
func (p *Pipeline) Truncate(rec *inode.Record, size int64) error {
	if size < 0 {
		return errors.Errorf("invalid file size %d", size)
	}
	if size > blocks.MaxFileSize {
		return errors.Wrapf(errs.ErrOutOfSpace, "size %d exceeds maximum file size %d", size, blocks.MaxFileSize)
	}
	if err := p.Begin(rec, size, 0); err != nil {
		return err
	}
	return p.End(rec, size)
}

func (p *Pipeline) zeroTail(address blocks.BlockAddress, from int) error {
	buf := make([]byte, blocks.BlockSize)
	if err := p.dev.ReadBlock(address, buf); err != nil {
		return errs.IO("read data", uint32(address), err)
	}
	clear(buf[from:])
	return errs.IO("write data", uint32(address), p.dev.WriteBlock(address, buf))
}

func blockRange(offset, length int64) (first, last uint32, empty bool) {
	if length == 0 {
		return 0, 0, true
	}
	return uint32(offset / blocks.BlockSize), uint32((offset + length - 1) / blocks.BlockSize), false
}

func blockCount(size int64) uint32 {
	return uint32((size + blocks.BlockSize - 1) / blocks.BlockSize)
}
