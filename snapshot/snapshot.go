// Package snapshot closes the current version of a file and opens a new writable one.
package snapshot

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
)

// Engine takes snapshots of files.
type Engine struct {
	dev    blocks.ReadWriter
	alloc  blocks.Allocator
	inodes inode.Store
	logger *slog.Logger
}

// New creates new snapshot engine.
func New(dev blocks.ReadWriter, alloc blocks.Allocator, inodes inode.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		dev:    dev,
		alloc:  alloc,
		inodes: inodes,
		logger: logger,
	}
}

// Required returns the number of blocks the snapshot of the file needs.
func (e *Engine) Required(rec *inode.Record) (uint64, error) {
	ib, err := blocks.ReadIndex(e.dev, rec.IndexBlock)
	if err != nil {
		return 0, err
	}
	if ib.Trailer.Kind == blocks.Unversioned {
		return 0, nil
	}
	return uint64(ib.Allocated()) + 1, nil
}

// Take is called once per write transaction, before data are written. On the first write the chain is
// started. Later, index block and all the data blocks are copied into the new version, and the old one
// becomes read-only history. The new version stays marked as incomplete until the transaction ends.
func (e *Engine) Take(rec *inode.Record) error {
	ib, err := blocks.ReadIndex(e.dev, rec.IndexBlock)
	if err != nil {
		return err
	}

	if ib.Trailer.Kind == blocks.Unversioned {
		return e.start(rec, ib)
	}

	if !rec.CanWrite {
		return errors.Wrapf(errs.ErrReadOnlyVersion, "inode %d is pinned to historical version", rec.Ino)
	}

	s := &attempt{engine: e}
	updated, err := s.copyVersion(rec, ib)
	if err != nil {
		s.rollback()
		return err
	}

	*rec = updated
	e.logger.Info("Snapshot taken", "ino", rec.Ino, "versions", rec.NbVersions, "indexBlock", rec.IndexBlock,
		"copiedBlocks", len(s.allocated)-1)
	return nil
}

func (e *Engine) start(rec *inode.Record, ib blocks.IndexBlock) error {
	ib.Trailer = blocks.RootTrailer()
	if err := blocks.WriteIndex(e.dev, rec.IndexBlock, ib); err != nil {
		return err
	}

	updated := *rec
	updated.LastIndexBlock = rec.IndexBlock
	updated.CanWrite = true
	updated.NbVersions = 0
	updated.Incomplete = true
	if err := e.inodes.Persist(&updated); err != nil {
		return err
	}

	*rec = updated
	e.logger.Info("Version chain started", "ino", rec.Ino, "indexBlock", rec.IndexBlock)
	return nil
}

type attempt struct {
	engine    *Engine
	allocated []blocks.BlockAddress
}

func (a *attempt) allocate() (blocks.BlockAddress, error) {
	address, err := a.engine.alloc.Allocate()
	if err != nil {
		return blocks.NoBlock, err
	}
	a.allocated = append(a.allocated, address)
	return address, nil
}

func (a *attempt) copyVersion(rec *inode.Record, ib blocks.IndexBlock) (inode.Record, error) {
	newAddress, err := a.allocate()
	if err != nil {
		return inode.Record{}, err
	}

	newIndex := blocks.IndexBlock{Trailer: blocks.PreviousTrailer(rec.IndexBlock)}
	p := make([]byte, blocks.BlockSize)
	err = ib.Each(func(slot int, address blocks.BlockAddress) error {
		copyAddress, err := a.allocate()
		if err != nil {
			return err
		}
		if err := a.engine.dev.ReadBlock(address, p); err != nil {
			return errs.IO("read data", uint32(address), err)
		}
		if err := a.engine.dev.WriteBlock(copyAddress, p); err != nil {
			return errs.IO("write data", uint32(copyAddress), err)
		}
		newIndex.Slots[slot] = copyAddress
		return nil
	})
	if err != nil {
		return inode.Record{}, err
	}

	if err := blocks.WriteIndex(a.engine.dev, newAddress, newIndex); err != nil {
		return inode.Record{}, err
	}

	updated := *rec
	updated.IndexBlock = newAddress
	updated.LastIndexBlock = newAddress
	updated.NbVersions++
	updated.Incomplete = true
	if err := a.engine.inodes.Persist(&updated); err != nil {
		return inode.Record{}, err
	}
	return updated, nil
}

func (a *attempt) rollback() {
	for _, address := range a.allocated {
		if err := a.engine.alloc.Free(address); err != nil {
			a.engine.logger.Error("Returning block to allocator failed", "address", address, "error", err)
		}
	}
	a.engine.logger.Warn("Snapshot rolled back", "releasedBlocks", len(a.allocated))
}
