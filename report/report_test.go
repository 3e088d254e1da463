package report

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/internal/fixture"
	"github.com/outofforest/histfs/pipeline"
)

func TestReport(t *testing.T) {
	requireT := require.New(t)

	env := fixture.New(t, 128)
	p := pipeline.New(env.Store, env.Alloc, env.Inodes, nil)

	rec1 := env.NewFile(t)
	for _, s := range []string{"A", "B", "C"} {
		_, err := p.Write(&rec1, 0, []byte(s))
		requireT.NoError(err)
	}
	rec2 := env.NewFile(t)

	r := New(env.Store, env.Inodes)

	versions, nbVersions, err := r.Chain(rec1.Ino)
	requireT.NoError(err)
	requireT.EqualValues(2, nbVersions)
	requireT.Len(versions, 3)
	requireT.Equal(rec1.LastIndexBlock, versions[0])

	files, err := r.Build(Options{Digests: true})
	requireT.NoError(err)
	requireT.Len(files, 2)
	requireT.Equal(rec1.Ino, files[0].Ino)
	requireT.Equal(versions, files[0].Chain)
	requireT.Len(files[0].Digests, 3)
	requireT.NotEqual(files[0].Digests[0], files[0].Digests[1])
	requireT.Len(files[1].Chain, 1)

	buf := &bytes.Buffer{}
	requireT.NoError(Write(buf, files, Options{}))
	requireT.Equal(fmt.Sprintf("inode:%d | versions:3 | index blocks:{%d,%d,%d}\ninode:%d | versions:1 | index blocks:{%d}\n",
		rec1.Ino, versions[0], versions[1], versions[2], rec2.Ino, rec2.IndexBlock), buf.String())

	line := Line(files[0], Options{Details: true})
	requireT.Contains(line, fmt.Sprintf("active:%d | writable:true | incomplete:false", rec1.IndexBlock))

	_, _, err = r.Chain(rec2.Ino + 1)
	requireT.ErrorIs(err, errs.ErrNoInode)
}

func TestDigestIsStable(t *testing.T) {
	requireT := require.New(t)

	env := fixture.New(t, 128)
	p := pipeline.New(env.Store, env.Alloc, env.Inodes, nil)

	rec := env.NewFile(t)
	_, err := p.Write(&rec, 0, []byte("same"))
	requireT.NoError(err)
	_, err = p.Write(&rec, 0, []byte("same"))
	requireT.NoError(err)

	files, err := New(env.Store, env.Inodes).Build(Options{Digests: true})
	requireT.NoError(err)
	requireT.Len(files, 1)
	requireT.Equal(files[0].Digests[0], files[0].Digests[1])
}
