//go:build unit || !integration

package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert.Equal(t, 1, Min(3, 1, 5, 2))
	assert.Equal(t, -10, Min(-5, 2, -10, 7))
	assert.Equal(t, 5, Min(5))
	assert.Equal(t, 1.23, Min(3.14, 1.23, 5.67))
	assert.Equal(t, "apple", Min("apricot", "banana", "apple"))
}

func TestMax(t *testing.T) {
	assert.Equal(t, 5, Max(3, 1, 5, 2))
	assert.Equal(t, 7, Max(-5, 2, -10, 7))
	assert.Equal(t, 5, Max(5))
	assert.Equal(t, 5.67, Max(3.14, 1.23, 5.67))
	assert.Equal(t, "banana", Max("apricot", "banana", "apple"))
}

func TestAbs(t *testing.T) {
	assert.Equal(t, 5, Abs(5))
	assert.Equal(t, 5, Abs(-5))
	assert.Equal(t, 0, Abs(0))
	assert.Equal(t, 3.14, Abs(-3.14))
}
