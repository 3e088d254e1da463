package inode

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/persistence"
)

var _ Store = &Table{}

// Table is the inode store kept in the inode table blocks of the device.
type Table struct {
	mu sync.Mutex

	dev     blocks.ReadWriter
	start   blocks.BlockAddress
	nInodes uint32
	buf     []byte
}

// NewTable returns inode table described by the superblock.
func NewTable(dev blocks.ReadWriter, sb persistence.Superblock) *Table {
	return &Table{
		dev:     dev,
		start:   sb.InodeTableStart,
		nInodes: sb.NInodes,
		buf:     make([]byte, blocks.BlockSize),
	}
}

// Create takes a free inode and persists the record in it.
func (t *Table) Create(rec *Record) error {
	if !rec.InUse() {
		return errors.New("record of new inode must have mode set")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for ino := Ino(1); uint32(ino) <= t.nInodes; ino++ {
		existing, err := t.load(ino)
		if err != nil {
			return err
		}
		if existing.InUse() {
			continue
		}

		rec.Ino = ino
		return t.persist(rec)
	}
	return errors.Wrapf(errs.ErrNoInode, "all %d inodes are in use", t.nInodes)
}

// Load loads the record of existing file.
func (t *Table) Load(ino Ino) (Record, error) {
	if err := t.validate(ino); err != nil {
		return Record{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.load(ino)
	if err != nil {
		return Record{}, err
	}
	if !rec.InUse() {
		return Record{}, errors.Wrapf(errs.ErrNoInode, "inode %d is free", ino)
	}
	return rec, nil
}

// Persist stores the record.
func (t *Table) Persist(rec *Record) error {
	if err := t.validate(rec.Ino); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.persist(rec)
}

// Free releases the inode.
func (t *Table) Free(ino Ino) error {
	if err := t.validate(ino); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.persist(&Record{Ino: ino})
}

// Range calls fn for every inode in use.
func (t *Table) Range(fn func(rec Record) error) error {
	for ino := Ino(1); uint32(ino) <= t.nInodes; ino++ {
		t.mu.Lock()
		rec, err := t.load(ino)
		t.mu.Unlock()

		if err != nil {
			return err
		}
		if !rec.InUse() {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) validate(ino Ino) error {
	if ino == 0 || uint32(ino) > t.nInodes {
		return errors.Wrapf(errs.ErrNoInode, "inode %d is out of range [1, %d]", ino, t.nInodes)
	}
	return nil
}

func (t *Table) locate(ino Ino) (blocks.BlockAddress, int) {
	index := uint32(ino) - 1
	return t.start + blocks.BlockAddress(index/blocks.InodesPerBlock),
		int(index%blocks.InodesPerBlock) * blocks.InodeSize
}

func (t *Table) load(ino Ino) (Record, error) {
	address, offset := t.locate(ino)
	if err := t.dev.ReadBlock(address, t.buf); err != nil {
		return Record{}, errs.IO("read inode", uint32(address), err)
	}
	return Decode(ino, t.buf[offset:offset+blocks.InodeSize])
}

func (t *Table) persist(rec *Record) error {
	address, offset := t.locate(rec.Ino)
	if err := t.dev.ReadBlock(address, t.buf); err != nil {
		return errs.IO("read inode", uint32(address), err)
	}
	if err := rec.Encode(t.buf[offset : offset+blocks.InodeSize]); err != nil {
		return err
	}
	return errs.IO("write inode", uint32(address), t.dev.WriteBlock(address, t.buf))
}
