package blocks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/outofforest/histfs/blocks"
)

func TestGeometry(t *testing.T) {
	assert.EqualValues(t, 1024, blocks.SlotsPerIndexBlock)
	assert.EqualValues(t, blocks.SlotsPerIndexBlock-1, blocks.DataSlots)
	assert.EqualValues(t, blocks.DataSlots, blocks.TrailerSlot)
	assert.EqualValues(t, blocks.DataSlots*blocks.BlockSize, blocks.MaxFileSize)
	assert.LessOrEqual(t, blocks.SlotsPerIndexBlock*blocks.AddressSize, blocks.BlockSize)
}

func TestChecksum(t *testing.T) {
	p := []byte("histfs")
	checksum := blocks.Checksum(p)

	assert.NoError(t, blocks.VerifyChecksum(1, p, checksum))
	assert.Error(t, blocks.VerifyChecksum(1, p, checksum+1))
}
