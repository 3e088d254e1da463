package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs"
	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/cache"
	"github.com/outofforest/histfs/config"
	"github.com/outofforest/histfs/inode"
	"github.com/outofforest/histfs/inode/badgerstore"
	"github.com/outofforest/histfs/persistence"
	"github.com/outofforest/histfs/pkg/filedev"
	"github.com/outofforest/histfs/pkg/mmapdev"
	"github.com/outofforest/histfs/report"
	"github.com/outofforest/histfs/version"
)

var errUsage = errors.New("invalid arguments")

var (
	pinnedColor     = color.New(color.FgHiYellow)
	incompleteColor = color.New(color.FgHiRed, color.Bold)
	inodeColor      = color.New(color.FgHiCyan, color.Bold)
)

type command func(env *env, args []string) error

var commands = map[string]command{
	"mkfs":     mkfs,
	"create":   create,
	"write":    write,
	"cat":      cat,
	"truncate": truncate,
	"select":   ioctl(version.CmdChangeVersion),
	"restore":  ioctl(version.CmdRestoreVersion),
	"release":  release,
	"stat":     stat,
	"rm":       remove,
	"report":   printReport,
}

type env struct {
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
}

func run(cfg *config.Config, logger *slog.Logger, stdin io.Reader, stdout io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.Wrap(errUsage, "command is missing")
	}
	cmd, exists := commands[args[0]]
	if !exists {
		return errors.Wrapf(errUsage, "unknown command %q", args[0])
	}
	return cmd(&env{
		cfg:    cfg,
		logger: logger,
		stdin:  stdin,
		stdout: stdout,
	}, args[1:])
}

func mkfs(e *env, args []string) error {
	flags := flag.NewFlagSet("mkfs", flag.ContinueOnError)
	overwrite := flags.Bool("overwrite", false, "Overwrite existing filesystem")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if e.cfg.Device.Blocks == 0 {
		return errors.Wrap(errUsage, "device.blocks must be set to create the image")
	}

	dev, err := filedev.Open(e.cfg.Device.Path, e.cfg.Device.Blocks*blocks.BlockSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := histfs.Format(dev, e.cfg.Device.Inodes, *overwrite); err != nil {
		return err
	}
	e.logger.Info("Filesystem created", "path", e.cfg.Device.Path, "blocks", e.cfg.Device.Blocks,
		"inodes", e.cfg.Device.Inodes)
	return nil
}

func create(e *env, args []string) error {
	if len(args) != 0 {
		return errors.Wrap(errUsage, "create takes no arguments")
	}
	return e.withFS(func(fs *histfs.FileSystem) error {
		f, err := fs.Create()
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = fmt.Fprintln(e.stdout, f.Ino())
		return errors.WithStack(err)
	})
}

func write(e *env, args []string) error {
	if len(args) != 3 {
		return errors.Wrap(errUsage, "write requires <ino> <offset> <data|->")
	}
	offset, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.Wrapf(errUsage, "invalid offset %q", args[1])
	}
	data := []byte(args[2])
	if args[2] == "-" {
		data, err = io.ReadAll(e.stdin)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return e.withFile(args[0], func(f *histfs.File) error {
		_, err := f.WriteAt(data, offset)
		return err
	})
}

func cat(e *env, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(errUsage, "cat requires <ino>")
	}
	return e.withFile(args[0], func(f *histfs.File) error {
		data := make([]byte, f.Size())
		n, err := f.ReadAt(data, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		_, err = e.stdout.Write(data[:n])
		return errors.WithStack(err)
	})
}

func truncate(e *env, args []string) error {
	if len(args) != 2 {
		return errors.Wrap(errUsage, "truncate requires <ino> <size>")
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return errors.Wrapf(errUsage, "invalid size %q", args[1])
	}
	return e.withFile(args[0], func(f *histfs.File) error {
		return f.Truncate(size)
	})
}

func ioctl(cmd version.Command) command {
	return func(e *env, args []string) error {
		if len(args) != 2 {
			return errors.Wrap(errUsage, "<ino> <version> are required")
		}
		return e.withFile(args[0], func(f *histfs.File) error {
			return f.Ioctl(cmd, args[1])
		})
	}
}

func release(e *env, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(errUsage, "release requires <ino>")
	}
	return e.withFile(args[0], func(f *histfs.File) error {
		return f.Ioctl(version.CmdReleaseVersion, "0")
	})
}

func stat(e *env, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(errUsage, "stat requires <ino>")
	}
	return e.withFile(args[0], func(f *histfs.File) error {
		rec := f.Record()
		_, err := fmt.Fprintf(e.stdout, "inode:%d | size:%d | blocks:%d | versions:%d | state:%s\n",
			rec.Ino, rec.Size, rec.Blocks, rec.NbVersions, f.State())
		return errors.WithStack(err)
	})
}

func remove(e *env, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(errUsage, "rm requires <ino>")
	}
	ino, err := parseIno(args[0])
	if err != nil {
		return err
	}
	return e.withFS(func(fs *histfs.FileSystem) error {
		return fs.Remove(ino)
	})
}

// printReport reads the image through read-only mapping, so it is safe to run it on the image in use.
func printReport(e *env, args []string) error {
	flags := flag.NewFlagSet("report", flag.ContinueOnError)
	var opts report.Options
	flags.BoolVar(&opts.Details, "details", false, "Print active index block and flags")
	flags.BoolVar(&opts.Digests, "digests", false, "Print content digest of every version")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}

	dev, err := mmapdev.Open(e.cfg.Device.Path)
	if err != nil {
		return err
	}
	defer dev.Close()

	store, err := persistence.OpenStore(dev)
	if err != nil {
		return err
	}

	var inodes inode.Store = inode.NewTable(store, store.Superblock())
	if e.cfg.Metadata.Backend == config.BackendBadger {
		bs, err := e.openBadger()
		if err != nil {
			return err
		}
		defer bs.Close()
		inodes = bs
	}

	files, err := report.New(store, inodes).Build(opts)
	if err != nil {
		return err
	}
	for _, f := range files {
		c := color.New(color.Reset)
		switch {
		case f.Incomplete:
			c = incompleteColor
		case len(f.Chain) > 0 && f.Active != f.Chain[0]:
			c = pinnedColor
		}
		if _, err := inodeColor.Fprintf(e.stdout, "[%d] ", f.Ino); err != nil {
			return errors.WithStack(err)
		}
		if _, err := c.Fprintln(e.stdout, report.Line(f, opts)); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (e *env) openBadger() (*badgerstore.Store, error) {
	if e.cfg.Metadata.BadgerDir == "" {
		return nil, errors.Wrap(errUsage, "metadata.badgerDir must be set for badger backend")
	}
	return badgerstore.Open(badgerstore.Config{
		Dir:     e.cfg.Metadata.BadgerDir,
		NInodes: e.cfg.Device.Inodes,
		Logger:  e.logger,
	})
}

func (e *env) withFS(fn func(fs *histfs.FileSystem) error) (retErr error) {
	dev, err := filedev.Open(e.cfg.Device.Path, 0)
	if err != nil {
		return err
	}
	defer dev.Close()

	fsConfig := histfs.Config{
		Cache: cache.Config{
			Capacity: e.cfg.Cache.Capacity,
			TTL:      e.cfg.Cache.TTL,
		},
		Logger: e.logger,
	}
	if e.cfg.Metadata.Backend == config.BackendBadger {
		bs, err := e.openBadger()
		if err != nil {
			return err
		}
		defer bs.Close()
		fsConfig.Inodes = bs
	}

	fs, err := histfs.Mount(dev, fsConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := fs.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	return fn(fs)
}

func (e *env) withFile(arg string, fn func(f *histfs.File) error) error {
	ino, err := parseIno(arg)
	if err != nil {
		return err
	}
	return e.withFS(func(fs *histfs.FileSystem) error {
		f, err := fs.Open(ino)
		if err != nil {
			return err
		}
		defer f.Close()

		return fn(f)
	})
}

func parseIno(arg string) (inode.Ino, error) {
	ino, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(errUsage, "invalid inode number %q", arg)
	}
	return inode.Ino(ino), nil
}
