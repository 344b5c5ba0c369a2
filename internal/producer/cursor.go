// internal/producer/cursor.go
package producer

import (
	"sync"

	"distributed-matmul/internal/domain"
)

// cursor hands out output cells in row-major order, each exactly once, paired
// with a strictly increasing job id starting at 0.
type cursor struct {
	mu        sync.Mutex
	rows      int
	cols      int
	row       int
	col       int
	nextJobID int
}

func newCursor(rows, cols int) *cursor {
	return &cursor{rows: rows, cols: cols}
}

// next claims the current cell and advances. ok is false once the grid is exhausted.
func (c *cursor) next() (cell domain.Cell, jobID int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.row >= c.rows {
		return domain.Cell{}, 0, false
	}
	cell = domain.Cell{Row: c.row, Col: c.col}
	jobID = c.nextJobID
	c.nextJobID++

	c.col++
	if c.col == c.cols {
		c.col = 0
		c.row++
	}
	return cell, jobID, true
}

// claimed returns how many cells have been handed out.
func (c *cursor) claimed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextJobID
}
