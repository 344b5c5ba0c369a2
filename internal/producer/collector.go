// internal/producer/collector.go
package producer

import (
	"fmt"
	"sync/atomic"

	"distributed-matmul/internal/domain"
)

// collector writes responses into the output matrix at the coordinates the
// response carries. Each cell accepts exactly one write.
type collector struct {
	out     *domain.Matrix
	written []atomic.Bool
}

func newCollector(out *domain.Matrix) *collector {
	return &collector{
		out:     out,
		written: make([]atomic.Bool, out.Rows*out.Cols),
	}
}

func (c *collector) store(resp *domain.Message) error {
	cell := resp.Cell()
	if resp.Type != domain.MessageTypeResponse || len(resp.Payload) != 1 {
		return fmt.Errorf("%w: malformed response for job %d", domain.ErrUnexpectedResponse, resp.JobID)
	}
	if !c.out.Contains(cell) {
		return fmt.Errorf("%w: job %d targets %s outside %dx%d", domain.ErrUnexpectedResponse, resp.JobID, cell, c.out.Rows, c.out.Cols)
	}
	if !c.written[cell.Row*c.out.Cols+cell.Col].CompareAndSwap(false, true) {
		return fmt.Errorf("%w: job %d targets %s which is already written", domain.ErrUnexpectedResponse, resp.JobID, cell)
	}
	c.out.Data[cell.Row][cell.Col] = resp.Sum()
	return nil
}

// missing lists cells that never received a value. Call only after all tasks finished.
func (c *collector) missing() []domain.Cell {
	var cells []domain.Cell
	for i := range c.written {
		if !c.written[i].Load() {
			cells = append(cells, domain.Cell{Row: i / c.out.Cols, Col: i % c.out.Cols})
		}
	}
	return cells
}
