package model

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/mat"
)

// NewMatrix allocates a zeroed, contiguous rows x cols matrix.
func NewMatrix(rows, cols int) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: make([]float32, rows*cols)}
}

// Clone returns a contiguous copy of g.
func Clone(g blas32.General) blas32.General {
	out := NewMatrix(g.Rows, g.Cols)
	for i := 0; i < g.Rows; i++ {
		copy(out.Data[i*out.Stride:i*out.Stride+g.Cols], g.Data[i*g.Stride:i*g.Stride+g.Cols])
	}
	return out
}

// Row returns a view of row i.
func Row(g blas32.General, i int) []float32 {
	return g.Data[i*g.Stride : i*g.Stride+g.Cols]
}

// Vector views a contiguous matrix as a flat vector.
func Vector(g blas32.General) blas32.Vector {
	return blas32.Vector{N: g.Rows * g.Cols, Data: g.Data, Inc: 1}
}

// AsMatrix coerces a minibatch into a fresh float32 matrix. It accepts
// blas32.General, any gonum mat.Matrix, and rectangular [][]float64 or
// [][]float32 slices.
func AsMatrix(x any) (blas32.General, error) {
	switch v := x.(type) {
	case blas32.General:
		if v.Rows <= 0 || v.Cols <= 0 || len(v.Data) < (v.Rows-1)*v.Stride+v.Cols {
			return blas32.General{}, fmt.Errorf("%w: malformed %dx%d matrix", ErrConversion, v.Rows, v.Cols)
		}
		return Clone(v), nil
	case mat.Matrix:
		r, c := v.Dims()
		if r == 0 || c == 0 {
			return blas32.General{}, fmt.Errorf("%w: empty matrix", ErrConversion)
		}
		out := NewMatrix(r, c)
		for i := 0; i < r; i++ {
			row := Row(out, i)
			for j := range row {
				row[j] = float32(v.At(i, j))
			}
		}
		return out, nil
	case [][]float64:
		cols, err := rectangular(len(v), func(i int) int { return len(v[i]) })
		if err != nil {
			return blas32.General{}, err
		}
		out := NewMatrix(len(v), cols)
		for i, src := range v {
			row := Row(out, i)
			for j, x := range src {
				row[j] = float32(x)
			}
		}
		return out, nil
	case [][]float32:
		cols, err := rectangular(len(v), func(i int) int { return len(v[i]) })
		if err != nil {
			return blas32.General{}, err
		}
		out := NewMatrix(len(v), cols)
		for i, src := range v {
			copy(Row(out, i), src)
		}
		return out, nil
	default:
		return blas32.General{}, fmt.Errorf("%w: unsupported type %T", ErrConversion, x)
	}
}

func rectangular(rows int, width func(int) int) (int, error) {
	if rows == 0 {
		return 0, fmt.Errorf("%w: no rows", ErrConversion)
	}
	cols := width(0)
	if cols == 0 {
		return 0, fmt.Errorf("%w: no columns", ErrConversion)
	}
	for i := 1; i < rows; i++ {
		if width(i) != cols {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrConversion, i, width(i), cols)
		}
	}
	return cols, nil
}
