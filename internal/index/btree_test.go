package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_InsertFind(t *testing.T) {
	ix := New("users", "id")
	ix.Insert(float64(1), RowRef{Page: 1})
	ix.Insert(float64(2), RowRef{Page: 1})
	ix.Insert(float64(2), RowRef{Page: 2})

	assert.Equal(t, []RowRef{{Page: 1}}, ix.Find(float64(1)))
	assert.ElementsMatch(t, []RowRef{{Page: 1}, {Page: 2}}, ix.Find(float64(2)))
	assert.Empty(t, ix.Find(float64(3)))
}

func TestIndex_NumericKeysNormalize(t *testing.T) {
	ix := New("t", "n")
	ix.Insert(int64(5), RowRef{Page: 3})
	// decoded JSON rows carry float64; both spellings must hit the same key
	assert.Equal(t, []RowRef{{Page: 3}}, ix.Find(float64(5)))
}

func TestIndex_DeleteRemovesOneRef(t *testing.T) {
	ix := New("t", "k")
	ix.Insert("a", RowRef{Page: 1})
	ix.Insert("a", RowRef{Page: 2})

	ix.Delete("a", RowRef{Page: 1})
	assert.Equal(t, []RowRef{{Page: 2}}, ix.Find("a"))

	ix.Delete("a", RowRef{Page: 2})
	assert.Empty(t, ix.Find("a"))
	assert.Zero(t, ix.Stats().Keys)
}

func TestIndex_DeleteAbsentIsNoop(t *testing.T) {
	ix := New("t", "k")
	ix.Delete("ghost", RowRef{Page: 9})
	assert.Zero(t, ix.Stats().Entries)
}

func TestIndex_RangeInclusive(t *testing.T) {
	ix := New("t", "n")
	for i := 1; i <= 9; i++ {
		ix.Insert(float64(i), RowRef{Page: uint32(i)})
	}
	var keys []float64
	ix.Range(float64(3), float64(6), func(key any, _ RowRef) bool {
		keys = append(keys, key.(float64))
		return true
	})
	assert.Equal(t, []float64{3, 4, 5, 6}, keys)
}

func TestIndex_RangeEarlyStop(t *testing.T) {
	ix := New("t", "n")
	for i := 0; i < 10; i++ {
		ix.Insert(float64(i), RowRef{Page: uint32(i)})
	}
	seen := 0
	ix.Range(float64(0), float64(9), func(any, RowRef) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)
}

func TestIndex_Stats(t *testing.T) {
	ix := New("users", "age")
	ix.Insert(float64(30), RowRef{Page: 1})
	ix.Insert(float64(30), RowRef{Page: 2})
	ix.Insert(float64(40), RowRef{Page: 1})

	s := ix.Stats()
	assert.Equal(t, "users", s.Table)
	assert.Equal(t, "age", s.Field)
	assert.Equal(t, 2, s.Keys)
	assert.Equal(t, 3, s.Entries)
}

func TestCompare_CrossTypeOrdering(t *testing.T) {
	require.Negative(t, Compare(nil, false))
	require.Negative(t, Compare(false, true))
	require.Negative(t, Compare(true, float64(0)))
	require.Negative(t, Compare(float64(10), "10"))
	require.Negative(t, Compare(float64(2), float64(10)))
	require.Positive(t, Compare("b", "a"))
	require.Zero(t, Compare(int64(3), float64(3)))
	require.Zero(t, Compare(nil, nil))
}

func TestEqual_NumericNormalization(t *testing.T) {
	assert.True(t, Equal(int64(1), float64(1)))
	assert.False(t, Equal("1", float64(1)))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, false))
}
