package placer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateReturnsRequestedCellWhenFree(t *testing.T) {
	pos, ok := Allocate(Grid{Cols: 6, Rows: 6}, Pos{Col: 2, Row: 3}, map[Pos]bool{})
	assert.True(t, ok)
	assert.Equal(t, Pos{Col: 2, Row: 3}, pos)
}

func TestAllocateWalksToNextFreeCellSameRow(t *testing.T) {
	occupied := map[Pos]bool{{Col: 2, Row: 3}: true}
	pos, ok := Allocate(Grid{Cols: 6, Rows: 6}, Pos{Col: 2, Row: 3}, occupied)
	assert.True(t, ok)
	assert.Equal(t, Pos{Col: 3, Row: 3}, pos)
}

func TestAllocateSkipsMultipleOccupiedCells(t *testing.T) {
	occupied := map[Pos]bool{
		{Col: 2, Row: 3}: true,
		{Col: 3, Row: 3}: true,
	}
	pos, ok := Allocate(Grid{Cols: 6, Rows: 6}, Pos{Col: 2, Row: 3}, occupied)
	assert.True(t, ok)
	assert.Equal(t, Pos{Col: 4, Row: 3}, pos)
}

func TestAllocateWrapsAroundWhenRowExhausted(t *testing.T) {
	occupied := map[Pos]bool{}
	for col := 4; col < 6; col++ {
		occupied[Pos{Col: col, Row: 5}] = true
	}
	pos, ok := Allocate(Grid{Cols: 6, Rows: 6}, Pos{Col: 4, Row: 5}, occupied)
	assert.True(t, ok)
	assert.Equal(t, Pos{Col: 0, Row: 0}, pos)
}

func TestAllocateReturnsFalseWhenGridFull(t *testing.T) {
	grid := Grid{Cols: 2, Rows: 2}
	occupied := map[Pos]bool{
		{Col: 0, Row: 0}: true,
		{Col: 1, Row: 0}: true,
		{Col: 0, Row: 1}: true,
		{Col: 1, Row: 1}: true,
	}
	_, ok := Allocate(grid, Pos{Col: 0, Row: 0}, occupied)
	assert.False(t, ok)
}
