package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sweep.csv")
	var data = "N,L2,LInf,Cond\n"
	for _, n := range []int{8, 12, 16} {
		e := math.Exp(-1.5 * float64(n))
		data += csvLine(n, e)
	}
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	cs, err := readCSV(file)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 12, 16}, cs.n)
	assert.InDelta(t, 1.5, rate(cs.n[:2], cs.l2[:2]), 1e-6)
	assert.InDelta(t, 1.5, fit(cs.n, cs.linf), 1e-6)
	_, err = readCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func csvLine(n int, e float64) string {
	return fmt.Sprintf("%d,%.12e,%.12e,1.0e+00\n", n, e, 2*e)
}
