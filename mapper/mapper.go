// Package mapper translates logical blocks of a file into physical blocks of the device.
package mapper

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
)

// Mapper resolves logical blocks using the active index block of the file.
type Mapper struct {
	dev    blocks.ReadWriter
	alloc  blocks.Allocator
	logger *slog.Logger
}

// New creates new mapper.
func New(dev blocks.ReadWriter, alloc blocks.Allocator, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mapper{
		dev:    dev,
		alloc:  alloc,
		logger: logger,
	}
}

// Resolve returns physical block backing the logical block. If block is not allocated and allowAllocate is
// false, found is false. Otherwise new zeroed block is allocated and stored in the index block.
func (m *Mapper) Resolve(
	rec *inode.Record,
	logical uint32,
	allowAllocate bool,
) (address blocks.BlockAddress, found bool, err error) {
	if logical >= blocks.DataSlots {
		return blocks.NoBlock, false, errors.Wrapf(errs.ErrFileTooLarge, "logical block %d is beyond the last slot %d",
			logical, blocks.DataSlots-1)
	}

	ib, err := blocks.ReadIndex(m.dev, rec.IndexBlock)
	if err != nil {
		return blocks.NoBlock, false, err
	}

	if address := ib.Slots[logical]; address != blocks.NoBlock {
		return address, true, nil
	}
	if !allowAllocate {
		return blocks.NoBlock, false, nil
	}

	address, err = m.alloc.Allocate()
	if err != nil {
		return blocks.NoBlock, false, err
	}

	ib.Slots[logical] = address
	if err := blocks.Zero(m.dev, address); err != nil {
		return blocks.NoBlock, false, m.release(address, err)
	}
	if err := blocks.WriteIndex(m.dev, rec.IndexBlock, ib); err != nil {
		return blocks.NoBlock, false, m.release(address, err)
	}

	m.logger.Debug("Block allocated", "ino", rec.Ino, "logical", logical, "address", address)
	return address, true, nil
}

func (m *Mapper) release(address blocks.BlockAddress, cause error) error {
	if err := m.alloc.Free(address); err != nil {
		m.logger.Error("Releasing block failed", "address", address, "error", err)
	}
	return cause
}
