package memdev

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeek(t *testing.T) {
	assertT := assert.New(t)

	dev := newDev()

	o, err := dev.Seek(-1, io.SeekStart)
	assertT.Error(err)
	assertT.EqualValues(0, o)

	o, err = dev.Seek(11, io.SeekStart)
	assertT.Error(err)
	assertT.EqualValues(0, o)

	o, err = dev.Seek(7, io.SeekStart)
	assertT.NoError(err)
	assertT.EqualValues(7, o)

	o, err = dev.Seek(-2, io.SeekCurrent)
	assertT.NoError(err)
	assertT.EqualValues(5, o)

	// Failed seek does not move the offset.

	_, err = dev.Seek(6, io.SeekCurrent)
	assertT.Error(err)
	o, err = dev.Seek(0, io.SeekCurrent)
	assertT.NoError(err)
	assertT.EqualValues(5, o)

	o, err = dev.Seek(-10, io.SeekEnd)
	assertT.NoError(err)
	assertT.EqualValues(0, o)

	o, err = dev.Seek(1, io.SeekEnd)
	assertT.Error(err)
	assertT.EqualValues(0, o)

	_, err = dev.Seek(0, 42)
	assertT.Error(err)
}

func TestRead(t *testing.T) {
	assertT := assert.New(t)

	dev := newDev()

	n, err := dev.Read(nil)
	assertT.NoError(err)
	assertT.EqualValues(0, n)

	buf := make([]byte, 3)
	n, err = dev.Read(buf)
	assertT.NoError(err)
	assertT.EqualValues(3, n)
	assertT.EqualValues([]byte{0x00, 0x01, 0x02}, buf)

	_, err = dev.Seek(-1, io.SeekEnd)
	assertT.NoError(err)
	n, err = dev.Read(buf)
	assertT.NoError(err)
	assertT.EqualValues(1, n)
	assertT.EqualValues([]byte{0x09, 0x01, 0x02}, buf)

	n, err = dev.Read(buf)
	assertT.ErrorIs(err, io.EOF)
	assertT.EqualValues(0, n)

	_, err = dev.Seek(0, io.SeekStart)
	assertT.NoError(err)
	full := make([]byte, 10)
	n, err = io.ReadFull(dev, full)
	assertT.NoError(err)
	assertT.EqualValues(10, n)
	assertT.Equal(dev.Bytes(), full)
}

func TestWrite(t *testing.T) {
	assertT := assert.New(t)

	dev := newDev()

	n, err := dev.Write(nil)
	assertT.NoError(err)
	assertT.EqualValues(0, n)

	buf := []byte{0x10, 0x11, 0x12}
	n, err = dev.Write(buf)
	assertT.NoError(err)
	assertT.EqualValues(3, n)
	assertT.EqualValues([]byte{0x10, 0x11, 0x12, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}, dev.Bytes())

	_, err = dev.Seek(2, io.SeekStart)
	assertT.NoError(err)
	n, err = dev.Write(buf)
	assertT.NoError(err)
	assertT.EqualValues(3, n)
	assertT.EqualValues([]byte{0x10, 0x11, 0x10, 0x11, 0x12, 0x05, 0x06, 0x07, 0x08, 0x09}, dev.Bytes())

	_, err = dev.Seek(-1, io.SeekEnd)
	assertT.NoError(err)
	n, err = dev.Write(buf)
	assertT.ErrorIs(err, io.ErrShortWrite)
	assertT.EqualValues(1, n)
	assertT.EqualValues([]byte{0x10, 0x11, 0x10, 0x11, 0x12, 0x05, 0x06, 0x07, 0x08, 0x10}, dev.Bytes())
}

func TestSync(t *testing.T) {
	assertT := assert.New(t)

	dev := newDev()
	assertT.NoError(dev.Sync())
	assertT.NoError(dev.Sync())
	assertT.Equal(2, dev.Syncs())
	assertT.EqualValues(10, dev.Size())
}

func newDev() *MemDev {
	const size = 10

	dev := New(size)
	for i := 0; i < size; i++ {
		dev.data[i] = byte(i)
	}

	return dev
}
