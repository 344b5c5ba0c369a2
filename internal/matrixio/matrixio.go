// Package matrixio reads and writes the plain-text matrix format:
// a "rows cols" header followed by rows*cols whitespace-separated integers
// in row-major order.
package matrixio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"distributed-matmul/internal/domain"
)

// Read parses one matrix from r.
func Read(r io.Reader) (*domain.Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func(what string) (int, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("unexpected end of input reading %s", what)
		}
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", what, sc.Text(), err)
		}
		return v, nil
	}

	rows, err := next("row count")
	if err != nil {
		return nil, err
	}
	cols, err := next("column count")
	if err != nil {
		return nil, err
	}
	m, err := domain.NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if m.Data[i][j], err = next(fmt.Sprintf("element (%d,%d)", i, j)); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// ReadFile parses the matrix stored at path.
func ReadFile(path string) (*domain.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix file: %w", err)
	}
	defer f.Close()

	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix from %s: %w", path, err)
	}
	return m, nil
}

// WriteFlat writes every value followed by a space, with no row breaks.
func WriteFlat(w io.Writer, m *domain.Matrix) error {
	bw := bufio.NewWriter(w)
	for _, row := range m.Data {
		for _, v := range row {
			bw.WriteString(strconv.Itoa(v))
			bw.WriteByte(' ')
		}
	}
	return bw.Flush()
}

// WriteFile writes m to path in flat form.
func WriteFile(path string, m *domain.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteFlat(f, m); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return f.Close()
}

// Print writes m row by row, framed by blank lines.
func Print(w io.Writer, m *domain.Matrix) error {
	bw := bufio.NewWriter(w)
	bw.WriteByte('\n')
	for _, row := range m.Data {
		for _, v := range row {
			bw.WriteString(strconv.Itoa(v))
			bw.WriteByte(' ')
		}
		bw.WriteByte('\n')
	}
	bw.WriteByte('\n')
	return bw.Flush()
}
