package persistence

import (
	"io"

	"github.com/google/uuid"
	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
)

const (
	// minNBlocks specifies the minimum amount of blocks which must fit into device.
	minNBlocks = 32

	// histfsSubject defines an identifier used to detect if histfs exists on the device.
	histfsSubject uint64 = 0b0100100001001001010100110101010001000110010100110000000000000001

	// superblockChecksumOffset is the offset of the checksum field in encoded superblock.
	superblockChecksumOffset = 56
)

// Dev is the interface required from the device.
type Dev interface {
	io.ReadWriteSeeker
	Sync() error
	Size() int64
}

// ErrAlreadyInitialized is returned if during initialization, another histfs instance is detected on the device.
var ErrAlreadyInitialized = errors.New("histfs has been already initialized on the provided device")

// Superblock is the starting block of the store. It describes the layout of the device.
type Superblock struct {
	Magic            uint64
	ID               uuid.UUID
	NBlocks          uint32
	NInodes          uint32
	InodeTableStart  blocks.BlockAddress
	InodeTableBlocks uint32
	BitmapStart      blocks.BlockAddress
	BitmapBlocks     uint32
	DataStart        blocks.BlockAddress
	Checksum         blocks.Hash
}

// ComputeChecksum computes checksum of the superblock. Checksum field itself is not covered.
func (sb Superblock) ComputeChecksum() blocks.Hash {
	return blocks.Checksum(photon.NewFromValue(&sb).B[:superblockChecksumOffset])
}

// Encode serializes superblock into the block-sized buffer, computing the checksum.
func (sb *Superblock) Encode(p []byte) {
	clear(p)
	sb.Checksum = sb.ComputeChecksum()
	*photon.NewFromBytes[Superblock](p).V = *sb
}

// DecodeSuperblock deserializes superblock.
func DecodeSuperblock(p []byte) Superblock {
	return *photon.NewFromBytes[Superblock](p).V
}

// Initialize initializes new histfs storage. Inode table and bitmap regions are zeroed, marking reserved
// blocks in the bitmap is left to the allocator.
func Initialize(dev Dev, nInodes uint32, overwrite bool) error {
	if err := validateDev(dev, overwrite); err != nil {
		return err
	}
	if nInodes == 0 {
		return errors.New("number of inodes must be positive")
	}

	nBlocks := uint32(dev.Size() / blocks.BlockSize)
	sb := Superblock{
		Magic:            histfsSubject,
		ID:               uuid.New(),
		NBlocks:          nBlocks,
		NInodes:          nInodes,
		InodeTableStart:  1,
		InodeTableBlocks: (nInodes + blocks.InodesPerBlock - 1) / blocks.InodesPerBlock,
		BitmapBlocks:     (nBlocks + blocks.BitsPerBlock - 1) / blocks.BitsPerBlock,
	}
	sb.BitmapStart = sb.InodeTableStart + blocks.BlockAddress(sb.InodeTableBlocks)
	sb.DataStart = sb.BitmapStart + blocks.BlockAddress(sb.BitmapBlocks)

	if uint32(sb.DataStart)+minNBlocks/2 > nBlocks {
		return errors.Errorf("device is too small for %d inodes, metadata occupies %d out of %d blocks",
			nInodes, sb.DataStart, nBlocks)
	}

	zero := make([]byte, blocks.BlockSize)
	for address := sb.InodeTableStart; address < sb.DataStart; address++ {
		if err := writeAt(dev, address, zero); err != nil {
			return err
		}
	}

	p := make([]byte, blocks.BlockSize)
	sb.Encode(p)
	if err := writeAt(dev, 0, p); err != nil {
		return err
	}

	return errors.WithStack(dev.Sync())
}

func validateDev(dev Dev, overwrite bool) error {
	size := dev.Size()
	nBlocks := uint64(size / blocks.BlockSize)

	if nBlocks < minNBlocks {
		return errors.Errorf("device is too small, minimum size is: %d bytes, provided: %d", minNBlocks*blocks.BlockSize, size)
	}
	if nBlocks > 1<<31-1 {
		return errors.Errorf("device is too large, maximum number of blocks is %d, provided: %d", 1<<31-1, nBlocks)
	}

	sb, err := loadSuperblock(dev)
	if err != nil {
		return err
	}

	if sb.Magic == histfsSubject && !overwrite {
		return errors.WithStack(ErrAlreadyInitialized)
	}

	return nil
}

func loadSuperblock(dev Dev) (Superblock, error) {
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return Superblock{}, errors.WithStack(err)
	}

	p := make([]byte, blocks.BlockSize)
	if _, err := io.ReadFull(dev, p); err != nil {
		return Superblock{}, errors.WithStack(err)
	}

	return DecodeSuperblock(p), nil
}

func writeAt(dev Dev, address blocks.BlockAddress, p []byte) error {
	if _, err := dev.Seek(int64(address)*blocks.BlockSize, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := dev.Write(p); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
