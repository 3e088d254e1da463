package persistence

import (
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/pkg/memdev"
)

const (
	devSize = 1024 * 1024 * 10 // 10MiB
	nInodes = 128
)

func TestInit(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(devSize)
	requireT.NoError(Initialize(dev, nInodes, false))

	_, err := dev.Seek(0, io.SeekStart)
	requireT.NoError(err)

	p := make([]byte, blocks.BlockSize)
	_, err = io.ReadFull(dev, p)
	requireT.NoError(err)

	sb := DecodeSuperblock(p)
	requireT.Equal(histfsSubject, sb.Magic)
	requireT.EqualValues(devSize/blocks.BlockSize, sb.NBlocks)
	requireT.EqualValues(nInodes, sb.NInodes)
	requireT.EqualValues(1, sb.InodeTableStart)
	requireT.EqualValues(2, sb.InodeTableBlocks)
	requireT.EqualValues(3, sb.BitmapStart)
	requireT.EqualValues(1, sb.BitmapBlocks)
	requireT.EqualValues(4, sb.DataStart)

	checksum := sb.Checksum
	sb.Encode(make([]byte, blocks.BlockSize))
	requireT.Equal(checksum, sb.Checksum)
}

func TestOverwrite(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(devSize)
	requireT.NoError(Initialize(dev, nInodes, false))

	previous, err := loadSuperblock(dev)
	requireT.NoError(err)

	requireT.ErrorIs(Initialize(dev, nInodes, false), ErrAlreadyInitialized)

	same, err := loadSuperblock(dev)
	requireT.NoError(err)
	requireT.Equal(previous, same)

	requireT.NoError(Initialize(dev, nInodes, true))

	next, err := loadSuperblock(dev)
	requireT.NoError(err)
	requireT.NotEqual(previous.ID, next.ID)
	requireT.NotEqual(previous.Checksum, next.Checksum)
	requireT.Equal(previous.NBlocks, next.NBlocks)
}

func TestTooSmall(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(minNBlocks * blocks.BlockSize)
	requireT.NoError(Initialize(dev, nInodes, true))

	dev = memdev.New(minNBlocks*blocks.BlockSize - 1)
	requireT.Error(Initialize(dev, nInodes, true))

	dev = memdev.New(minNBlocks * blocks.BlockSize)
	requireT.Error(Initialize(dev, 64*minNBlocks, true))
}

func TestSuperblockEncoding(t *testing.T) {
	requireT := require.New(t)

	requireT.EqualValues(64, unsafe.Sizeof(Superblock{}))
	requireT.EqualValues(superblockChecksumOffset, unsafe.Offsetof(Superblock{}.Checksum))

	sb := Superblock{
		Magic:            histfsSubject,
		NBlocks:          100,
		NInodes:          64,
		InodeTableStart:  1,
		InodeTableBlocks: 1,
		BitmapStart:      2,
		BitmapBlocks:     1,
		DataStart:        3,
	}
	p := make([]byte, blocks.BlockSize)
	for i := range p {
		p[i] = 0xff
	}
	sb.Encode(p)
	requireT.Equal(make([]byte, blocks.BlockSize-64), p[64:])

	decoded := DecodeSuperblock(p)
	requireT.Equal(sb, decoded)
	requireT.Equal(decoded.Checksum, decoded.ComputeChecksum())

	decoded.NBlocks++
	requireT.NotEqual(sb.Checksum, decoded.ComputeChecksum())
}
