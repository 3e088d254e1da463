package version

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/chain"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
	"github.com/outofforest/histfs/internal/fixture"
	"github.com/outofforest/histfs/mapper"
	"github.com/outofforest/histfs/snapshot"
)

type testEnv struct {
	*fixture.Env
	c *Controller
}

// newFile creates file having one version per content byte, the last byte being the newest version.
func newFile(t *testing.T, contents ...byte) (*testEnv, inode.Record) {
	requireT := require.New(t)

	env := fixture.New(t, 128)
	e := snapshot.New(env.Store, env.Alloc, env.Inodes, nil)
	m := mapper.New(env.Store, env.Alloc, nil)

	rec := env.NewFile(t)
	for _, b := range contents {
		requireT.NoError(e.Take(&rec))
		address, _, err := m.Resolve(&rec, 0, true)
		requireT.NoError(err)
		env.WriteData(t, address, b)
	}

	return &testEnv{
		Env: env,
		c:   New(env.Store, env.Alloc, env.Inodes, nil),
	}, rec
}

func (e *testEnv) content(t *testing.T, rec inode.Record) byte {
	address := e.Index(t, rec.IndexBlock).Slots[0]
	require.NotEqual(t, blocks.NoBlock, address)
	return e.ReadData(t, address)[0]
}

func (e *testEnv) requirePersisted(t *testing.T, rec inode.Record) {
	loaded, err := e.Inodes.Load(rec.Ino)
	require.NoError(t, err)
	require.Equal(t, rec, loaded)
}

func TestSelectAndRelease(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B', 'C')
	requireT.EqualValues(2, rec.NbVersions)
	last := rec.LastIndexBlock
	state := ActiveState()

	for n, expected := range []byte{'C', 'B', 'A'} {
		requireT.NoError(env.c.Select(&rec, &state, int64(n)))
		requireT.Equal(PinnedState(uint32(n)), state)
		requireT.Equal(expected, env.content(t, rec))
		requireT.Equal(n == 0, rec.CanWrite)
		requireT.Equal(last, rec.LastIndexBlock)
		env.requirePersisted(t, rec)
	}

	nFree := env.Alloc.NFree()
	requireT.NoError(env.c.Release(&rec, &state))
	requireT.Equal(ActiveState(), state)
	requireT.Equal(last, rec.IndexBlock)
	requireT.True(rec.CanWrite)
	requireT.Equal(byte('C'), env.content(t, rec))
	requireT.Equal(nFree, env.Alloc.NFree())
	env.requirePersisted(t, rec)
}

func TestSelectOutOfRange(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B', 'C')
	state := ActiveState()
	before := rec

	for _, n := range []int64{-1, 3, 5} {
		err := env.c.Select(&rec, &state, n)
		requireT.ErrorIs(err, errs.ErrInvalidVersion)

		var versionErr *errs.VersionError
		requireT.True(errors.As(err, &versionErr))
		requireT.Equal(n, versionErr.Requested)
		requireT.EqualValues(2, versionErr.Max)

		requireT.Equal(before, rec)
		requireT.Equal(ActiveState(), state)
		env.requirePersisted(t, rec)
	}
}

func TestSelectExhaustedChain(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B')
	rec.NbVersions = 4
	requireT.NoError(env.Inodes.Persist(&rec))
	before := rec
	state := ActiveState()

	requireT.ErrorIs(env.c.Select(&rec, &state, 3), errs.ErrInvalidVersion)
	requireT.Equal(before, rec)
	requireT.Equal(ActiveState(), state)
	env.requirePersisted(t, rec)
}

func TestStateOf(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B', 'C')
	state, err := StateOf(env.Store, &rec)
	requireT.NoError(err)
	requireT.Equal(ActiveState(), state)

	requireT.NoError(env.c.Select(&rec, &state, 2))
	loaded, err := env.Inodes.Load(rec.Ino)
	requireT.NoError(err)
	state, err = StateOf(env.Store, &loaded)
	requireT.NoError(err)
	requireT.Equal(PinnedState(2), state)
	requireT.Equal("pinned(2)", state.String())
}

func TestRestoreAndPrune(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B', 'C')
	versions, err := chain.List(env.Store, rec.LastIndexBlock)
	requireT.NoError(err)
	requireT.Len(versions, 3)

	state := ActiveState()
	requireT.NoError(env.c.Select(&rec, &state, 2))

	// Version 0 holds one data block and the index block.
	nFree := env.Alloc.NFree()
	size := rec.Size
	requireT.NoError(env.c.RestoreAndPrune(&rec, &state, 1))
	requireT.Equal(size, rec.Size)
	requireT.Equal(nFree+2, env.Alloc.NFree())
	requireT.False(env.Alloc.IsAllocated(versions[0]))

	requireT.Equal(ActiveState(), state)
	requireT.EqualValues(1, rec.NbVersions)
	requireT.Equal(versions[1], rec.LastIndexBlock)
	requireT.Equal(versions[1], rec.IndexBlock)
	requireT.True(rec.CanWrite)
	requireT.Equal(byte('B'), env.content(t, rec))
	env.requirePersisted(t, rec)

	remaining, err := chain.List(env.Store, rec.LastIndexBlock)
	requireT.NoError(err)
	requireT.Equal(versions[1:], remaining)

	requireT.Equal(make([]byte, blocks.BlockSize), env.ReadData(t, versions[0]))
}

func TestRestoreAndPruneToNewest(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B')
	state := ActiveState()
	requireT.NoError(env.c.Select(&rec, &state, 1))

	nFree := env.Alloc.NFree()
	requireT.NoError(env.c.RestoreAndPrune(&rec, &state, 0))
	requireT.Equal(nFree, env.Alloc.NFree())
	requireT.EqualValues(1, rec.NbVersions)
	requireT.Equal(rec.LastIndexBlock, rec.IndexBlock)
	requireT.True(rec.CanWrite)
	requireT.Equal(ActiveState(), state)
}

func TestPartialPrune(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B', 'C')
	versions, err := chain.List(env.Store, rec.LastIndexBlock)
	requireT.NoError(err)

	rec.NbVersions = 6
	requireT.NoError(env.Inodes.Persist(&rec))
	state := ActiveState()

	nFree := env.Alloc.NFree()
	err = env.c.RestoreAndPrune(&rec, &state, 5)
	requireT.ErrorIs(err, errs.ErrPartialPrune)

	var pruneErr *errs.PartialPruneError
	requireT.True(errors.As(err, &pruneErr))
	requireT.EqualValues(5, pruneErr.Requested)
	requireT.EqualValues(2, pruneErr.Reached)

	requireT.Equal(nFree+4, env.Alloc.NFree())
	requireT.Equal(versions[2], rec.LastIndexBlock)
	requireT.Equal(versions[2], rec.IndexBlock)
	requireT.Zero(rec.NbVersions)
	requireT.Equal(byte('A'), env.content(t, rec))
	env.requirePersisted(t, rec)
}

func TestPruneOutOfRange(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B')
	state := PinnedState(1)
	before := rec

	requireT.ErrorIs(env.c.RestoreAndPrune(&rec, &state, 2), errs.ErrInvalidVersion)
	requireT.Equal(before, rec)
	requireT.Equal(PinnedState(1), state)
}

func TestDispatch(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B', 'C')
	state := ActiveState()

	requireT.NoError(env.c.Dispatch(&rec, &state, CmdChangeVersion, "0x2"))
	requireT.Equal(PinnedState(2), state)

	requireT.NoError(env.c.Dispatch(&rec, &state, CmdChangeVersion, "1\n"))
	requireT.Equal(PinnedState(1), state)

	requireT.ErrorIs(env.c.Dispatch(&rec, &state, CmdChangeVersion, "one"), errs.ErrInvalidVersion)
	requireT.ErrorIs(env.c.Dispatch(&rec, &state, CmdReleaseVersion, ""), errs.ErrInvalidVersion)
	requireT.Equal(PinnedState(1), state)

	requireT.NoError(env.c.Dispatch(&rec, &state, CmdReleaseVersion, "42"))
	requireT.Equal(ActiveState(), state)

	requireT.NoError(env.c.Dispatch(&rec, &state, CmdRestoreVersion, "1"))
	requireT.EqualValues(1, rec.NbVersions)
	requireT.Equal(byte('B'), env.content(t, rec))

	requireT.ErrorIs(env.c.Dispatch(&rec, &state, Command(7), "0"), ErrUnknownCommand)
}

func TestSelectPersistFailure(t *testing.T) {
	requireT := require.New(t)

	env, rec := newFile(t, 'A', 'B')
	state := ActiveState()
	before := rec

	env.Dev.FailWriteOnce(0)
	requireT.ErrorIs(env.c.Select(&rec, &state, 1), errs.ErrIO)
	requireT.Equal(before, rec)
	requireT.Equal(ActiveState(), state)
	env.requirePersisted(t, rec)
}
