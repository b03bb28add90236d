package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMath(t *testing.T) {
	{
		for p := -10; p <= 10; p++ {
			assert.InDelta(t, math.Pow(1.3, float64(p)), POW(1.3, p), 1e-12)
		}
	}
	{
		assert.Equal(t, 24, Prod([]int{2, 3, 4}))
		assert.Equal(t, 1, Prod(nil))
		assert.Equal(t, []int{12, 4, 1}, Strides([]int{2, 3, 4}))
		assert.Equal(t, 3., MaxAbs([]float64{1, -3, 2}))
		assert.Equal(t, []float64{2, 2}, ConstArray(2, 2))
	}
	{
		assert.False(t, HasNaN([]float64{1, 2}))
		assert.True(t, HasNaN([]float64{1, math.Inf(-1)}))
		assert.Contains(t, GetMemUsage().String(), "MiB")
	}
}
