package inode

import (
	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
)

// Ino is the inode number. Inodes are numbered from 1.
type Ino uint32

// ModeRegular is the mode of regular files. Record with mode 0 is free.
const ModeRegular uint32 = 0o100644

// Record is the persisted file metadata.
type Record struct {
	// Ino is not stored, it is set when record is loaded.
	Ino Ino

	Mode   uint32
	Blocks uint32
	Size   uint64

	// IndexBlock is the index block used by reads and writes.
	IndexBlock blocks.BlockAddress

	// LastIndexBlock is the index block of the newest version.
	LastIndexBlock blocks.BlockAddress

	NbVersions uint32
	CanWrite   bool

	// Incomplete is set when data of the newest version were not fully written after snapshot.
	Incomplete bool

	MTime int64
	CTime int64
}

// InUse tells if record describes existing file.
func (r *Record) InUse() bool {
	return r.Mode != 0
}

// record is the on-disk layout of the inode.
type record struct {
	Mode           uint32
	Blocks         uint32
	Size           uint64
	IndexBlock     blocks.BlockAddress
	LastIndexBlock blocks.BlockAddress
	NbVersions     uint32
	CanWrite       bool
	Incomplete     bool
	MTime          int64
	CTime          int64
	_              [16]byte
}

// Encode serializes record into inode-sized buffer.
func (r *Record) Encode(p []byte) error {
	if len(p) != blocks.InodeSize {
		return errors.Errorf("invalid inode buffer size %d", len(p))
	}

	clear(p)
	raw := photon.NewFromBytes[record](p).V
	raw.Mode = r.Mode
	raw.Blocks = r.Blocks
	raw.Size = r.Size
	raw.IndexBlock = r.IndexBlock
	raw.LastIndexBlock = r.LastIndexBlock
	raw.NbVersions = r.NbVersions
	raw.CanWrite = r.CanWrite
	raw.Incomplete = r.Incomplete
	raw.MTime = r.MTime
	raw.CTime = r.CTime
	return nil
}

// Decode deserializes record.
func Decode(ino Ino, p []byte) (Record, error) {
	if len(p) != blocks.InodeSize {
		return Record{}, errors.Errorf("invalid inode buffer size %d", len(p))
	}

	raw := photon.NewFromBytes[record](p).V
	return Record{
		Ino:            ino,
		Mode:           raw.Mode,
		Blocks:         raw.Blocks,
		Size:           raw.Size,
		IndexBlock:     raw.IndexBlock,
		LastIndexBlock: raw.LastIndexBlock,
		NbVersions:     raw.NbVersions,
		CanWrite:       raw.CanWrite,
		Incomplete:     raw.Incomplete,
		MTime:          raw.MTime,
		CTime:          raw.CTime,
	}, nil
}

// Store loads and persists file metadata records.
type Store interface {
	// Create takes a free inode and persists the record in it. Ino of the record is set.
	Create(rec *Record) error

	// Load loads the record of existing file.
	Load(ino Ino) (Record, error)

	// Persist stores the record.
	Persist(rec *Record) error

	// Free releases the inode.
	Free(ino Ino) error

	// Range calls fn for every inode in use, in ascending order.
	Range(fn func(rec Record) error) error
}
