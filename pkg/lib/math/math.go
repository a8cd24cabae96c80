package math

import (
	"golang.org/x/exp/constraints"
)

// Number is a constraint that permits any numeric type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Min returns the minimum of the provided values.
func Min[T constraints.Ordered](values ...T) T {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// Max returns the maximum of the provided values.
func Max[T constraints.Ordered](values ...T) T {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Abs returns the absolute value of the provided number.
func Abs[T Number](value T) T {
	if value < 0 {
		return -value
	}
	return value
}
