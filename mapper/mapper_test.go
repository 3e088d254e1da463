package mapper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/internal/fixture"
)

func TestResolve(t *testing.T) {
	requireT := require.New(t)

	env := fixture.New(t, 64)
	rec := env.NewFile(t)
	m := New(env.Store, env.Alloc, nil)

	_, found, err := m.Resolve(&rec, 3, false)
	requireT.NoError(err)
	requireT.False(found)

	nFree := env.Alloc.NFree()
	address, found, err := m.Resolve(&rec, 3, true)
	requireT.NoError(err)
	requireT.True(found)
	requireT.Equal(nFree-1, env.Alloc.NFree())
	requireT.Equal(make([]byte, blocks.BlockSize), env.ReadData(t, address))
	requireT.Equal(address, env.Index(t, rec.IndexBlock).Slots[3])

	address2, found, err := m.Resolve(&rec, 3, true)
	requireT.NoError(err)
	requireT.True(found)
	requireT.Equal(address, address2)
	requireT.Equal(nFree-1, env.Alloc.NFree())
}

func TestResolveTooLarge(t *testing.T) {
	requireT := require.New(t)

	env := fixture.New(t, 64)
	rec := env.NewFile(t)
	m := New(env.Store, env.Alloc, nil)

	_, _, err := m.Resolve(&rec, blocks.DataSlots-1, true)
	requireT.NoError(err)

	_, _, err = m.Resolve(&rec, blocks.DataSlots, true)
	requireT.ErrorIs(err, errs.ErrFileTooLarge)
	_, _, err = m.Resolve(&rec, blocks.TrailerSlot+5, false)
	requireT.ErrorIs(err, errs.ErrFileTooLarge)
}

func TestResolveOutOfSpace(t *testing.T) {
	requireT := require.New(t)

	env := fixture.New(t, 32)
	rec := env.NewFile(t)
	m := New(env.Store, env.Alloc, nil)

	for env.Alloc.NFree() > 0 {
		_, err := env.Alloc.Allocate()
		requireT.NoError(err)
	}

	_, _, err := m.Resolve(&rec, 0, true)
	requireT.ErrorIs(err, errs.ErrOutOfSpace)
	requireT.Equal(blocks.NoBlock, env.Index(t, rec.IndexBlock).Slots[0])
}

func TestResolveIndexWriteFailure(t *testing.T) {
	requireT := require.New(t)

	env := fixture.New(t, 64)
	rec := env.NewFile(t)
	m := New(env.Store, env.Alloc, nil)
	nFree := env.Alloc.NFree()

	// Bitmap and zeroing succeed, index write fails.
	env.Dev.FailWriteOnce(2)
	_, _, err := m.Resolve(&rec, 0, true)
	requireT.ErrorIs(err, errs.ErrIO)
	requireT.Equal(nFree, env.Alloc.NFree())
	requireT.Equal(blocks.NoBlock, env.Index(t, rec.IndexBlock).Slots[0])
}
