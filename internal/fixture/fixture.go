// Package fixture builds formatted in-memory devices for tests.
package fixture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/histfs/alloc"
	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/inode"
	"github.com/outofforest/histfs/persistence"
	"github.com/outofforest/histfs/pkg/faultdev"
	"github.com/outofforest/histfs/pkg/memdev"
)

// NInodes is the number of inodes created on fixture devices.
const NInodes = 64

// Env is the set of components built on top of formatted in-memory device.
type Env struct {
	Dev    *faultdev.FaultDev
	Store  *persistence.Store
	Alloc  *alloc.Allocator
	Inodes *inode.Table
}

// New formats in-memory device of nBlocks blocks.
func New(t *testing.T, nBlocks int64) *Env {
	requireT := require.New(t)

	dev := faultdev.New(memdev.New(nBlocks * blocks.BlockSize))
	requireT.NoError(persistence.Initialize(dev, NInodes, false))
	store, err := persistence.OpenStore(dev)
	requireT.NoError(err)

	sb := store.Superblock()
	requireT.NoError(alloc.Format(store, sb))
	a, err := alloc.Load(store, sb, nil)
	requireT.NoError(err)

	return &Env{
		Dev:    dev,
		Store:  store,
		Alloc:  a,
		Inodes: inode.NewTable(store, sb),
	}
}

// NewFile creates inode with fresh index block.
func (e *Env) NewFile(t *testing.T) inode.Record {
	requireT := require.New(t)

	address, err := e.Alloc.Allocate()
	requireT.NoError(err)
	requireT.NoError(blocks.Zero(e.Store, address))

	rec := inode.Record{
		Mode:           inode.ModeRegular,
		IndexBlock:     address,
		LastIndexBlock: address,
		CanWrite:       true,
	}
	requireT.NoError(e.Inodes.Create(&rec))
	return rec
}

// WriteData writes block filled with b.
func (e *Env) WriteData(t *testing.T, address blocks.BlockAddress, b byte) {
	p := make([]byte, blocks.BlockSize)
	for i := range p {
		p[i] = b
	}
	require.NoError(t, e.Store.WriteBlock(address, p))
}

// ReadData reads the block.
func (e *Env) ReadData(t *testing.T, address blocks.BlockAddress) []byte {
	p := make([]byte, blocks.BlockSize)
	require.NoError(t, e.Store.ReadBlock(address, p))
	return p
}

// Index reads index block.
func (e *Env) Index(t *testing.T, address blocks.BlockAddress) blocks.IndexBlock {
	ib, err := blocks.ReadIndex(e.Store, address)
	require.NoError(t, err)
	return ib
}
