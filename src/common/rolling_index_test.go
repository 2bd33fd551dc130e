package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingIndex(t *testing.T) {
	size := 10
	r := NewRollingIndex[string]("test", size)
	assert.Equal(t, -1, r.LastIndex())

	for i := 0; i < 3*size; i++ {
		require.NoError(t, r.Set(fmt.Sprintf("item%d", i), i))
	}
	assert.Equal(t, 3*size-1, r.LastIndex())

	// the window rolled once, when item 20 was appended
	_, err := r.GetItem(9)
	assert.True(t, IsStore(err, TooLate))

	for _, i := range []int{10, 17, 29} {
		item, err := r.GetItem(i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("item%d", i), item)
	}

	_, err = r.GetItem(30)
	assert.True(t, IsStore(err, KeyNotFound))

	assert.True(t, IsStore(r.Set("gap", 31), SkippedIndex))
	assert.True(t, IsStore(r.Set("old", 3), TooLate))

	require.NoError(t, r.Set("updated", 26))
	item, err := r.GetItem(26)
	require.NoError(t, err)
	assert.Equal(t, "updated", item)

	tail, err := r.Since(26)
	require.NoError(t, err)
	assert.Equal(t, []string{"item27", "item28", "item29"}, tail)

	tail, err = r.Since(29)
	require.NoError(t, err)
	assert.Empty(t, tail)

	_, err = r.Since(5)
	assert.True(t, IsStore(err, TooLate))
}

func TestRollingIndexStartsAnywhere(t *testing.T) {
	r := NewRollingIndex[int]("test", 2)

	require.NoError(t, r.Set(100, 100))
	require.NoError(t, r.Set(101, 101))
	assert.Equal(t, 101, r.LastIndex())

	_, err := r.GetItem(99)
	assert.True(t, IsStore(err, TooLate))

	v, err := r.GetItem(100)
	require.NoError(t, err)
	assert.Equal(t, 100, v)
}
