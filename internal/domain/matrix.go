// internal/domain/matrix.go
package domain

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when A.cols != B.rows.
var ErrDimensionMismatch = errors.New("matrix dimensions are not compatible")

// Cell addresses one element of the output matrix.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// Matrix is a dense rows x cols grid of integers stored row-major.
type Matrix struct {
	Rows int
	Cols int
	Data [][]int
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid matrix shape %dx%d: rows and cols must be positive", rows, cols)
	}
	data := make([][]int, rows)
	for i := range data {
		data[i] = make([]int, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// MatrixFromRows builds a matrix from a rectangular slice of rows.
func MatrixFromRows(rows [][]int) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("matrix must have at least one row and one column")
	}
	m, err := NewMatrix(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != m.Cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), m.Cols)
		}
		copy(m.Data[i], row)
	}
	return m, nil
}

// Row returns row i.
func (m *Matrix) Row(i int) []int {
	return m.Data[i]
}

// Column copies column j into a new slice.
func (m *Matrix) Column(j int) []int {
	col := make([]int, m.Rows)
	for i := 0; i < m.Rows; i++ {
		col[i] = m.Data[i][j]
	}
	return col
}

// Contains reports whether c lies inside the grid.
func (m *Matrix) Contains(c Cell) bool {
	return c.Row >= 0 && c.Row < m.Rows && c.Col >= 0 && c.Col < m.Cols
}

// Equal reports whether both matrices have the same shape and values.
func (m *Matrix) Equal(o *Matrix) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Rows != o.Rows || m.Cols != o.Cols {
		return false
	}
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			if m.Data[i][j] != o.Data[i][j] {
				return false
			}
		}
	}
	return true
}

// CheckConformable verifies that a*b is defined.
func CheckConformable(a, b *Matrix) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil operand", ErrDimensionMismatch)
	}
	if a.Cols != b.Rows {
		return fmt.Errorf("%w: %dx%d * %dx%d", ErrDimensionMismatch, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	return nil
}
