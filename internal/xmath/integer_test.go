package xmath_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/erigontech/move-indexer/internal/xmath"
)

func TestSafeAdd(t *testing.T) {
	sum, overflow := xmath.SafeAdd(1, 2)
	assert.False(t, overflow)
	assert.Equal(t, uint64(3), sum)

	_, overflow = xmath.SafeAdd(math.MaxUint64, 1)
	assert.True(t, overflow)
}

func TestSafeMul(t *testing.T) {
	product, overflow := xmath.SafeMul(3, 4)
	assert.False(t, overflow)
	assert.Equal(t, uint64(12), product)

	_, overflow = xmath.SafeMul(math.MaxUint64, 2)
	assert.True(t, overflow)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, xmath.CeilDiv(7, 3))
	assert.Equal(t, 2, xmath.CeilDiv(6, 3))
	assert.Equal(t, 0, xmath.CeilDiv(5, 0))
}

func TestChunks(t *testing.T) {
	bounds := xmath.Chunks(7, 3)
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 7}}, bounds)

	assert.Nil(t, xmath.Chunks(0, 3))

	single := xmath.Chunks(5, 0)
	assert.Equal(t, [][2]int{{0, 5}}, single)
}
