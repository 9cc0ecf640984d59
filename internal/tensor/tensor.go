package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape lists the size of every dimension of a tensor.
type Shape []int

// Size returns the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Int64 converts the shape for backends that describe dimensions as int64.
func (s Shape) Int64() []int64 {
	out := make([]int64, len(s))
	for i, d := range s {
		out[i] = int64(d)
	}
	return out
}

// FromInt64 builds a Shape from int64 dimensions.
func FromInt64(dims []int64) Shape {
	out := make(Shape, len(dims))
	for i, d := range dims {
		out[i] = int(d)
	}
	return out
}

// Tensor is a dense row-major float32 array with an explicit shape.
type Tensor struct {
	Shape Shape
	Data  []float32
}

// New wraps data with shape, rejecting a backing slice of the wrong length.
func New(shape Shape, data []float32) (Tensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return Tensor{}, fmt.Errorf("invalid dimension %d in shape %s", d, shape)
		}
	}
	if len(data) != shape.Size() {
		return Tensor{}, fmt.Errorf("shape %s needs %d values, got %d", shape, shape.Size(), len(data))
	}
	return Tensor{Shape: append(Shape(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape Shape) Tensor {
	return Tensor{Shape: append(Shape(nil), shape...), Data: make([]float32, shape.Size())}
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int {
	return len(t.Shape)
}

// Flatten returns the values as a vector when every dimension but one has size 1.
func (t Tensor) Flatten() ([]float32, error) {
	wide := 0
	for _, d := range t.Shape {
		if d != 1 {
			wide++
		}
	}
	if wide > 1 {
		return nil, fmt.Errorf("tensor of shape %s is not a vector", t.Shape)
	}
	return t.Data, nil
}
