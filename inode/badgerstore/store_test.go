package badgerstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
)

func newStore(t *testing.T, nInodes uint32) *Store {
	s, err := Open(Config{NInodes: nInodes})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestLifecycle(t *testing.T) {
	requireT := require.New(t)

	s := newStore(t, 3)

	rec1 := inode.Record{Mode: inode.ModeRegular, IndexBlock: 5, LastIndexBlock: 5, CanWrite: true}
	requireT.NoError(s.Create(&rec1))
	requireT.EqualValues(1, rec1.Ino)

	rec2 := inode.Record{Mode: inode.ModeRegular, IndexBlock: 6, LastIndexBlock: 6}
	requireT.NoError(s.Create(&rec2))
	requireT.EqualValues(2, rec2.Ino)

	rec2.NbVersions = 2
	rec2.Incomplete = true
	requireT.NoError(s.Persist(&rec2))

	loaded, err := s.Load(2)
	requireT.NoError(err)
	requireT.Equal(rec2, loaded)

	requireT.NoError(s.Free(1))
	_, err = s.Load(1)
	requireT.ErrorIs(err, errs.ErrNoInode)

	var inos []inode.Ino
	requireT.NoError(s.Range(func(rec inode.Record) error {
		inos = append(inos, rec.Ino)
		return nil
	}))
	requireT.Equal([]inode.Ino{2}, inos)
}

func TestExhausted(t *testing.T) {
	requireT := require.New(t)

	s := newStore(t, 2)
	for range 2 {
		requireT.NoError(s.Create(&inode.Record{Mode: inode.ModeRegular}))
	}
	requireT.ErrorIs(s.Create(&inode.Record{Mode: inode.ModeRegular}), errs.ErrNoInode)

	_, err := s.Load(3)
	requireT.ErrorIs(err, errs.ErrNoInode)
}

func TestInvalidConfig(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}
