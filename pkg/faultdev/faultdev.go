// Package faultdev wraps a device and injects I/O failures. It is used by tests covering rollback paths.
package faultdev

import (
	"io"

	"github.com/pkg/errors"
)

// ErrInjected is the error returned by failing operations.
var ErrInjected = errors.New("injected i/o failure")

// Dev is the device being wrapped.
type Dev interface {
	io.ReadWriteSeeker
	Sync() error
	Size() int64
}

// FaultDev passes operations to the wrapped device until the configured budget is exhausted.
type FaultDev struct {
	dev Dev

	readsLeft  int
	writesLeft int
	writeOnce  bool
}

// New returns new faultdev which does not fail until armed.
func New(dev Dev) *FaultDev {
	return &FaultDev{
		dev:        dev,
		readsLeft:  -1,
		writesLeft: -1,
	}
}

// FailReadsAfter makes all the reads fail after n more successful ones.
func (fd *FaultDev) FailReadsAfter(n int) {
	fd.readsLeft = n
}

// FailWritesAfter makes all the writes fail after n more successful ones.
func (fd *FaultDev) FailWritesAfter(n int) {
	fd.writesLeft = n
	fd.writeOnce = false
}

// FailWriteOnce makes the write following n successful ones fail. Writes after that one succeed.
func (fd *FaultDev) FailWriteOnce(n int) {
	fd.writesLeft = n
	fd.writeOnce = true
}

// Heal disables failure injection.
func (fd *FaultDev) Heal() {
	fd.readsLeft = -1
	fd.writesLeft = -1
	fd.writeOnce = false
}

// Seek seeks the position.
func (fd *FaultDev) Seek(offset int64, whence int) (int64, error) {
	return fd.dev.Seek(offset, whence)
}

// Read reads data from the wrapped device.
func (fd *FaultDev) Read(p []byte) (int, error) {
	if fd.readsLeft == 0 {
		return 0, errors.WithStack(ErrInjected)
	}
	if fd.readsLeft > 0 {
		fd.readsLeft--
	}
	return fd.dev.Read(p)
}

// Write writes data to the wrapped device.
func (fd *FaultDev) Write(p []byte) (int, error) {
	if fd.writesLeft == 0 {
		if fd.writeOnce {
			fd.writesLeft = -1
		}
		return 0, errors.WithStack(ErrInjected)
	}
	if fd.writesLeft > 0 {
		fd.writesLeft--
	}
	return fd.dev.Write(p)
}

// Sync syncs the wrapped device.
func (fd *FaultDev) Sync() error {
	return fd.dev.Sync()
}

// Size returns the size of the wrapped device.
func (fd *FaultDev) Size() int64 {
	return fd.dev.Size()
}
