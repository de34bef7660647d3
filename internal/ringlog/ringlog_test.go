package ringlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndAt(t *testing.T) {
	l := New[string](0)
	i0 := l.Append("a")
	i1 := l.Append("b")

	v, err := l.At(i0)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = l.At(i1)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestCapacityEvictsOldest(t *testing.T) {
	l := New[int](3)
	for i := 0; i < 5; i++ {
		l.Append(i)
	}
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []int{2, 3, 4}, l.All())

	_, err := l.At(0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentBoundedByLen(t *testing.T) {
	l := New[int](0)
	l.Append(1)
	l.Append(2)
	assert.Equal(t, []int{1, 2}, l.Recent(10))
	assert.Equal(t, []int{2}, l.Recent(1))
}

func TestCountMatching(t *testing.T) {
	l := New[int](0)
	for _, v := range []int{1, 2, 3, 4, 5} {
		l.Append(v)
	}
	odd := l.CountMatching(func(v int) bool { return v%2 == 1 })
	assert.Equal(t, 3, odd)
}

func TestClearKeepsIndexMonotone(t *testing.T) {
	l := New[int](0)
	l.Append(1)
	l.Append(2)
	l.Clear()
	assert.Equal(t, 0, l.Len())

	idx := l.Append(3)
	assert.Equal(t, int64(2), idx)
}
