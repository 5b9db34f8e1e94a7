package dvr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentListOrdering(t *testing.T) {
	var list segmentList[int]
	assert.True(t, list.Empty())

	list.PushFront(0)
	list.PushFront(1)
	list.PushFront(2)

	newest, ok := list.Newest()
	require.True(t, ok)
	assert.Equal(t, 2, newest)

	oldest, ok := list.Oldest()
	require.True(t, ok)
	assert.Equal(t, 0, oldest)
	assert.Equal(t, 3, list.Len())
}

func TestSegmentListPopBack(t *testing.T) {
	var list segmentList[int]
	list.PushFront(0)
	list.PushFront(1)

	item, ok := list.PopBack()
	require.True(t, ok)
	assert.Equal(t, 0, item)

	item, ok = list.PopBack()
	require.True(t, ok)
	assert.Equal(t, 1, item)

	_, ok = list.PopBack()
	assert.False(t, ok)
}

func TestSegmentListReverseEach(t *testing.T) {
	var list segmentList[int]
	for i := 0; i < 4; i++ {
		list.PushFront(i)
	}

	var visited []int
	list.ReverseEach(func(item int) bool {
		visited = append(visited, item)
		return true
	})
	assert.Equal(t, []int{0, 1, 2, 3}, visited)

	// Early termination.
	visited = nil
	list.ReverseEach(func(item int) bool {
		visited = append(visited, item)
		return item < 1
	})
	assert.Equal(t, []int{0, 1}, visited)
}

func TestSegmentListFind(t *testing.T) {
	var list segmentList[int]
	list.PushFront(10)
	list.PushFront(20)

	item, ok := list.Find(func(v int) bool { return v == 10 })
	require.True(t, ok)
	assert.Equal(t, 10, item)

	_, ok = list.Find(func(v int) bool { return v == 99 })
	assert.False(t, ok)
}

func TestSegmentListClear(t *testing.T) {
	var list segmentList[int]
	list.PushFront(1)
	list.Clear()
	assert.True(t, list.Empty())
}
