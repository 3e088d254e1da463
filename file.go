package histfs

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
	"github.com/outofforest/histfs/version"
)

var (
	_ io.ReaderAt = &File{}
	_ io.WriterAt = &File{}
)

// ErrClosed is returned when closed file handle is used.
var ErrClosed = errors.New("file is closed")

// fileState is shared by all the handles of the same file. Its mutex serializes all the operations on the file.
type fileState struct {
	ino inode.Ino

	mu      sync.Mutex
	rec     inode.Record
	state   version.State
	refs    int
	removed bool
}

// File is the handle of open file.
type File struct {
	fs     *FileSystem
	st     *fileState
	closed bool
}

// Ino returns inode number of the file.
func (f *File) Ino() inode.Ino {
	return f.st.ino
}

// ReadAt reads data of the visible version.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := f.do(func(st *fileState) error {
		var err error
		n, err = f.fs.pipeline.Read(&st.rec, off, p)
		return err
	})
	return n, err
}

// WriteAt writes data as a new version of the file.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	var n int
	err := f.do(func(st *fileState) error {
		var err error
		n, err = f.fs.pipeline.Write(&st.rec, off, p)
		return err
	})
	return n, err
}

// Truncate changes the size of the file as a new version.
func (f *File) Truncate(size int64) error {
	return f.do(func(st *fileState) error {
		return f.fs.pipeline.Truncate(&st.rec, size)
	})
}

// Size returns the size of the visible version.
func (f *File) Size() int64 {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	return int64(f.st.rec.Size)
}

// State returns the version state of the file.
func (f *File) State() version.State {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	return f.st.state
}

// Record returns the metadata of the file.
func (f *File) Record() inode.Record {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	return f.st.rec
}

// Select makes version n visible.
func (f *File) Select(n int64) error {
	return f.do(func(st *fileState) error {
		return f.fs.versions.Select(&st.rec, &st.state, n)
	})
}

// RestoreAndPrune discards all the versions newer than n.
func (f *File) RestoreAndPrune(n int64) error {
	return f.do(func(st *fileState) error {
		return f.fs.versions.RestoreAndPrune(&st.rec, &st.state, n)
	})
}

// Release makes the newest version visible again.
func (f *File) Release() error {
	return f.do(func(st *fileState) error {
		return f.fs.versions.Release(&st.rec, &st.state)
	})
}

// Ioctl executes version-control command passed the way control channel delivers it.
func (f *File) Ioctl(cmd version.Command, arg string) error {
	return f.do(func(st *fileState) error {
		return f.fs.versions.Dispatch(&st.rec, &st.state, cmd, arg)
	})
}

// Close closes the handle.
func (f *File) Close() error {
	if f.closed {
		return errors.WithStack(ErrClosed)
	}
	f.closed = true
	f.fs.close(f.st)
	return nil
}

func (f *File) do(fn func(st *fileState) error) error {
	if f.closed {
		return errors.WithStack(ErrClosed)
	}

	f.st.mu.Lock()
	defer f.st.mu.Unlock()

	if f.st.removed {
		return errors.Wrapf(errs.ErrNoInode, "inode %d has been removed", f.st.ino)
	}
	return fn(f.st)
}
