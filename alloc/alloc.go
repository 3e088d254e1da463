package alloc

import (
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/persistence"
)

const wordsPerBlock = blocks.BlockSize / 8

// bitmapBlock is the on-disk layout of bitmap block.
type bitmapBlock struct {
	Words [wordsPerBlock]uint64
}

var _ blocks.Allocator = &Allocator{}

// Allocator allocates blocks using the free-block bitmap stored on the device. Every change to the bitmap is
// written back before the call returns.
type Allocator struct {
	mu     sync.Mutex
	dev    blocks.ReadWriter
	sb     persistence.Superblock
	logger *slog.Logger

	bits   *bitset.BitSet
	search uint
	nFree  uint64
}

// Format writes the initial bitmap. Blocks occupied by metadata and bits beyond the end of device are marked
// as used.
func Format(dev blocks.Writer, sb persistence.Superblock) error {
	bits := bitset.From(make([]uint64, int(sb.BitmapBlocks)*wordsPerBlock))
	for i := uint(0); i < uint(sb.DataStart); i++ {
		bits.Set(i)
	}
	for i := uint(sb.NBlocks); i < bits.Len(); i++ {
		bits.Set(i)
	}

	for i := uint32(0); i < sb.BitmapBlocks; i++ {
		if err := writeBitmapBlock(dev, sb, bits, i); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the bitmap from the device.
func Load(dev blocks.ReadWriter, sb persistence.Superblock, logger *slog.Logger) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	words := make([]uint64, int(sb.BitmapBlocks)*wordsPerBlock)
	p := make([]byte, blocks.BlockSize)
	for i := uint32(0); i < sb.BitmapBlocks; i++ {
		address := sb.BitmapStart + blocks.BlockAddress(i)
		if err := dev.ReadBlock(address, p); err != nil {
			return nil, errs.IO("read bitmap", uint32(address), err)
		}
		copy(words[int(i)*wordsPerBlock:], photon.NewFromBytes[bitmapBlock](p).V.Words[:])
	}

	bits := bitset.From(words)
	for i := uint(0); i < uint(sb.DataStart); i++ {
		if !bits.Test(i) {
			return nil, errors.Errorf("reserved block %d is marked as free in the bitmap", i)
		}
	}

	a := &Allocator{
		dev:    dev,
		sb:     sb,
		logger: logger,
		bits:   bits,
		search: uint(sb.DataStart),
		nFree:  uint64(bits.Len() - bits.Count()),
	}
	logger.Debug("Bitmap loaded", "blocks", sb.NBlocks, "free", a.nFree)
	return a, nil
}

// Allocate allocates a free block.
func (a *Allocator) Allocate() (blocks.BlockAddress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bit, found := a.bits.NextClear(a.search)
	if !found || bit >= uint(a.sb.NBlocks) {
		bit, found = a.bits.NextClear(uint(a.sb.DataStart))
	}
	if !found || bit >= uint(a.sb.NBlocks) {
		a.logger.Warn("No space on device", "blocks", a.sb.NBlocks)
		return blocks.NoBlock, errors.WithStack(errs.ErrOutOfSpace)
	}

	a.bits.Set(bit)
	if err := writeBitmapBlock(a.dev, a.sb, a.bits, uint32(bit/blocks.BitsPerBlock)); err != nil {
		a.bits.Clear(bit)
		return blocks.NoBlock, err
	}

	a.search = bit + 1
	a.nFree--
	return blocks.BlockAddress(bit), nil
}

// Free returns block to the pool of free blocks.
func (a *Allocator) Free(address blocks.BlockAddress) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	bit := uint(address)
	if address < a.sb.DataStart || uint32(address) >= a.sb.NBlocks {
		return errors.Errorf("block %d can't be freed, it is outside of data area", address)
	}
	if !a.bits.Test(bit) {
		return errors.Errorf("block %d is already free", address)
	}

	a.bits.Clear(bit)
	if err := writeBitmapBlock(a.dev, a.sb, a.bits, uint32(bit/blocks.BitsPerBlock)); err != nil {
		a.bits.Set(bit)
		return err
	}

	if bit < a.search {
		a.search = bit
	}
	a.nFree++
	return nil
}

// NFree returns the number of free blocks.
func (a *Allocator) NFree() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.nFree
}

// IsAllocated tells if block is marked as used.
func (a *Allocator) IsAllocated(address blocks.BlockAddress) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.bits.Test(uint(address))
}

func writeBitmapBlock(dev blocks.Writer, sb persistence.Superblock, bits *bitset.BitSet, index uint32) error {
	block := photon.NewFromValue(&bitmapBlock{})
	copy(block.V.Words[:], bits.Bytes()[int(index)*wordsPerBlock:])

	address := sb.BitmapStart + blocks.BlockAddress(index)
	return errs.IO("write bitmap", uint32(address), dev.WriteBlock(address, block.B))
}
