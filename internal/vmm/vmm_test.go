package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseTracksUsedPageCount(t *testing.T) {
	v := New(1024)
	assert.Equal(t, 0, v.UsedPageCount())

	frames, err := v.AcquirePageFrames4K(3)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, 3, v.UsedPageCount())

	v.ReleasePageFrames4K(frames)
	assert.Equal(t, 0, v.UsedPageCount())
}

func TestFramesAreDistinctAndPageAligned(t *testing.T) {
	v := New(1024)
	frames, err := v.AcquirePageFrames4K(4)
	require.NoError(t, err)
	for i := 1; i < len(frames); i++ {
		assert.Equal(t, uintptr(PageSize), frames[i]-frames[i-1])
	}
}

func TestMapMemorySharesLiveMemoryAcrossMappers(t *testing.T) {
	v := New(1024)
	frames, err := v.AcquirePageFrames4K(1)
	require.NoError(t, err)

	vaddr1, err := v.MapMemory(1, frames, false)
	require.NoError(t, err)
	v.ByteView(vaddr1)[0] = 0xAA

	vaddr2, err := v.MapMemory(2, frames, false)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), v.ByteView(vaddr2)[0])
}

func TestReleaseThenByteViewReturnsNil(t *testing.T) {
	v := New(1024)
	frames, err := v.AcquirePageFrames4K(1)
	require.NoError(t, err)
	v.ReleasePageFrames4K(frames)
	assert.Nil(t, v.ByteView(frames[0]))
}

func TestAcquireZeroPagesIsAnError(t *testing.T) {
	v := New(1024)
	_, err := v.AcquirePageFrames4K(0)
	assert.Error(t, err)
}
