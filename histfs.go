// Package histfs is the block storage keeping the history of every file. Each write transaction snapshots
// the file, so any older version may be viewed or restored later.
package histfs

import (
	"log/slog"
	"sync"

	"github.com/outofforest/histfs/alloc"
	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/cache"
	"github.com/outofforest/histfs/chain"
	"github.com/outofforest/histfs/inode"
	"github.com/outofforest/histfs/persistence"
	"github.com/outofforest/histfs/pipeline"
	"github.com/outofforest/histfs/report"
	"github.com/outofforest/histfs/version"
)

// Config configures mounted filesystem.
type Config struct {
	Cache cache.Config

	// Inodes replaces the inode table of the device if set.
	Inodes inode.Store

	Logger *slog.Logger
}

// Format creates empty filesystem on the device.
func Format(dev persistence.Dev, nInodes uint32, overwrite bool) error {
	if err := persistence.Initialize(dev, nInodes, overwrite); err != nil {
		return err
	}
	store, err := persistence.OpenStore(dev)
	if err != nil {
		return err
	}
	if err := alloc.Format(store, store.Superblock()); err != nil {
		return err
	}
	return store.Sync()
}

// FileSystem is the mounted histfs.
type FileSystem struct {
	store     *persistence.Store
	cache     *cache.Cache
	alloc     *cachedAllocator
	inodes    inode.Store
	pipeline  *pipeline.Pipeline
	versions  *version.Controller
	reporter  *report.Reporter
	logger    *slog.Logger
	closeOnce sync.Once

	mu    sync.Mutex
	files map[inode.Ino]*fileState
}

// Mount mounts filesystem stored on the device.
func Mount(dev persistence.Dev, config Config) (*FileSystem, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := persistence.OpenStore(dev)
	if err != nil {
		return nil, err
	}
	sb := store.Superblock()

	c := cache.New(store, config.Cache)
	a, err := alloc.Load(c, sb, logger.WithGroup("alloc"))
	if err != nil {
		c.Stop()
		return nil, err
	}
	allocator := &cachedAllocator{Allocator: a, cache: c}

	inodes := config.Inodes
	if inodes == nil {
		inodes = inode.NewTable(c, sb)
	}

	logger.Info("Filesystem mounted", "id", sb.ID, "blocks", sb.NBlocks, "inodes", sb.NInodes,
		"free", a.NFree())

	return &FileSystem{
		store:    store,
		cache:    c,
		alloc:    allocator,
		inodes:   inodes,
		pipeline: pipeline.New(c, allocator, inodes, logger.WithGroup("pipeline")),
		versions: version.New(c, allocator, inodes, logger.WithGroup("version")),
		reporter: report.New(c, inodes),
		logger:   logger,
		files:    map[inode.Ino]*fileState{},
	}, nil
}

// Create creates new empty file and opens it.
func (fs *FileSystem) Create() (*File, error) {
	address, err := fs.alloc.Allocate()
	if err != nil {
		return nil, err
	}
	if err := blocks.Zero(fs.cache, address); err != nil {
		return nil, fs.release(address, err)
	}

	rec := inode.Record{
		Mode:           inode.ModeRegular,
		IndexBlock:     address,
		LastIndexBlock: address,
		CanWrite:       true,
	}
	if err := fs.inodes.Create(&rec); err != nil {
		return nil, fs.release(address, err)
	}

	fs.logger.Debug("File created", "ino", rec.Ino, "indexBlock", address)
	return fs.Open(rec.Ino)
}

// Open opens existing file. All the handles of the same file share its state.
func (fs *FileSystem) Open(ino inode.Ino) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	st, exists := fs.files[ino]
	if !exists {
		rec, err := fs.inodes.Load(ino)
		if err != nil {
			return nil, err
		}
		state, err := version.StateOf(fs.cache, &rec)
		if err != nil {
			return nil, err
		}
		st = &fileState{ino: ino, rec: rec, state: state}
		fs.files[ino] = st
	}
	st.refs++

	return &File{fs: fs, st: st}, nil
}

// Remove deletes the file together with all its versions. Files can't be opened until removal completes.
func (fs *FileSystem) Remove(ino inode.Ino) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	st, open := fs.files[ino]
	if open {
		st.mu.Lock()
		defer st.mu.Unlock()
	}

	rec, err := fs.inodes.Load(ino)
	if err != nil {
		return err
	}
	versions, err := chain.List(fs.cache, rec.LastIndexBlock)
	if err != nil {
		return err
	}

	if err := fs.inodes.Free(ino); err != nil {
		return err
	}
	if open {
		st.removed = true
		delete(fs.files, ino)
	}

	var freed int
	for _, address := range versions {
		ib, err := blocks.ReadIndex(fs.cache, address)
		if err != nil {
			return err
		}
		err = ib.Each(func(slot int, data blocks.BlockAddress) error {
			if err := fs.alloc.Free(data); err != nil {
				return err
			}
			freed++
			return nil
		})
		if err != nil {
			return err
		}
		if err := fs.alloc.Free(address); err != nil {
			return err
		}
		freed++
	}

	fs.logger.Info("File removed", "ino", ino, "versions", len(versions), "freedBlocks", freed)
	return nil
}

// Report describes version chains of all the files.
func (fs *FileSystem) Report(opts report.Options) ([]report.File, error) {
	return fs.reporter.Build(opts)
}

// Chain returns index blocks of the file versions, from the newest one, and the number of versions.
func (fs *FileSystem) Chain(ino inode.Ino) ([]blocks.BlockAddress, uint32, error) {
	return fs.reporter.Chain(ino)
}

// NFree returns the number of free blocks.
func (fs *FileSystem) NFree() uint64 {
	return fs.alloc.NFree()
}

// Sync flushes device buffers.
func (fs *FileSystem) Sync() error {
	return fs.store.Sync()
}

// Close syncs the device and stops the cache.
func (fs *FileSystem) Close() error {
	var err error
	fs.closeOnce.Do(func() {
		err = fs.store.Sync()
		fs.cache.Stop()
		fs.logger.Info("Filesystem closed")
	})
	return err
}

func (fs *FileSystem) close(st *fileState) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	st.refs--
	if st.refs == 0 && fs.files[st.ino] == st {
		delete(fs.files, st.ino)
	}
}

func (fs *FileSystem) release(address blocks.BlockAddress, cause error) error {
	if err := fs.alloc.Free(address); err != nil {
		fs.logger.Error("Releasing block failed", "address", address, "error", err)
	}
	return cause
}

// cachedAllocator drops freed blocks from cache.
type cachedAllocator struct {
	*alloc.Allocator
	cache *cache.Cache
}

func (a *cachedAllocator) Free(address blocks.BlockAddress) error {
	if err := a.Allocator.Free(address); err != nil {
		return err
	}
	a.cache.Forget(address)
	return nil
}
