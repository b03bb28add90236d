package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gospectral/parallel"
)

func TestParseInts(t *testing.T) {
	v, err := parseInts(" 17, 18,19,")
	assert.NoError(t, err)
	assert.Equal(t, []int{17, 18, 19}, v)
	v, err = parseInts("")
	assert.NoError(t, err)
	assert.Nil(t, v)
	_, err = parseInts("8,x")
	assert.Error(t, err)
}

func TestSolve(t *testing.T) {
	fileInput := []byte(`
Title: Test Case
Equation: Helmholtz
Shift: 1.5
Procs: 2
Axes:
  - Family: Legendre
    Size: 16
    BC: Dirichlet
  - Family: Fourier
    Size: 12
    Domain: [0, 1]
`)
	file := filepath.Join(t.TempDir(), "problem.yaml")
	require.NoError(t, os.WriteFile(file, fileInput, 0o644))
	pp, err := processInput(file)
	require.NoError(t, err)
	assert.Equal(t, 16, pp.Axes[0].Size)
	{
		res, err := solveOnce(pp)
		require.NoError(t, err)
		assert.Equal(t, []int{16, 12}, res.N)
		assert.Less(t, res.U.LInf, 1e-8)
		var buf bytes.Buffer
		printResult(&buf, res)
		assert.Contains(t, buf.String(), "LInf error")
	}
	{
		res, err := solveOnce(pp.Resized(8))
		require.NoError(t, err)
		assert.Equal(t, []int{8, 4}, res.N)
	}
	_, err = processInput("")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		procs int
		shape []int
		slab  bool
	}{
		{1, []int{5, 6}, false},
		{4, []int{17, 18, 19}, false},
		{3, []int{7, 9, 4}, true},
		{6, []int{5, 7, 8, 3}, false},
	} {
		w, err := parallel.NewWorld(tc.procs)
		require.NoError(t, err)
		assert.NoError(t, w.Run(func(c *parallel.Comm) error {
			return roundTrip(c, tc.shape, tc.slab)
		}), "%v on %d", tc.shape, tc.procs)
	}
	w, err := parallel.NewWorld(1)
	require.NoError(t, err)
	assert.Error(t, w.Run(func(c *parallel.Comm) error { return roundTrip(c, []int{8}, false) }))
}

func TestTransformLoop(t *testing.T) {
	w, err := parallel.NewWorld(2)
	require.NoError(t, err)
	assert.NoError(t, w.Run(func(c *parallel.Comm) error { return transformLoop(c, []int{8, 9, 6}, 2, 1) }))
	assert.NoError(t, w.Run(func(c *parallel.Comm) error { return transformLoop(c, []int{8, 9, 6}, 2, 1.5) }))
}
