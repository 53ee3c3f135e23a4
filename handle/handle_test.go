package handle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndRelease(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	h := reg.Create(KindResult, "image/png", []byte("png-bytes"))

	assert.Equal(t, 1, reg.Live())
	assert.Equal(t, KindResult, h.Kind())
	assert.Equal(t, "image/png", h.MediaType())
	assert.Equal(t, 9, h.Size())
	assert.True(t, strings.HasPrefix(h.URL(), "blob:"))
	assert.Equal(t, []byte("png-bytes"), h.Bytes())

	got, ok := reg.Lookup(h.URL())
	require.True(t, ok)
	assert.Same(t, h, got)

	got, ok = reg.Lookup(h.ID())
	require.True(t, ok)
	assert.Same(t, h, got)

	reg.Release(h)
	assert.Equal(t, 0, reg.Live())
	assert.True(t, h.Released())
	assert.Nil(t, h.Bytes())
	assert.Empty(t, h.DataURI())
	assert.Equal(t, 9, h.Size())

	_, ok = reg.Lookup(h.ID())
	assert.False(t, ok)

	// double release and nil are safe
	reg.Release(h)
	reg.Release(nil)
	assert.Equal(t, 0, reg.Live())
}

func TestHandle_DataURI(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	h := reg.Create(KindPreview, "image/png", []byte{0x01, 0x02, 0x03})
	assert.Equal(t, "data:image/png;base64,AQID", h.DataURI())
}

func TestRegistry_UniqueIDs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		h := reg.Create(KindPreview, "image/png", nil)
		require.False(t, seen[h.ID()], "duplicate id %s", h.ID())
		seen[h.ID()] = true
	}
	assert.Equal(t, 100, reg.Live())
}

func TestSlot_ReplaceReleasesPredecessor(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	slot := NewSlot(reg)
	assert.Nil(t, slot.Get())

	a := reg.Create(KindPreview, "image/png", []byte("a"))
	slot.Set(a)
	assert.Same(t, a, slot.Get())
	assert.Equal(t, 1, reg.Live())

	b := reg.Create(KindPreview, "image/png", []byte("b"))
	slot.Set(b)
	assert.Same(t, b, slot.Get())
	assert.True(t, a.Released())
	assert.False(t, b.Released())
	assert.Equal(t, 1, reg.Live())

	// setting the same handle again does not release it
	slot.Set(b)
	assert.False(t, b.Released())

	slot.Clear()
	assert.Nil(t, slot.Get())
	assert.True(t, b.Released())
	assert.Equal(t, 0, reg.Live())

	slot.Clear()
	assert.Equal(t, 0, reg.Live())
}
