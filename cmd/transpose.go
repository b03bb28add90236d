/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/utils"
)

// TransposeCmd represents the transpose command
var TransposeCmd = &cobra.Command{
	Use:   "transpose",
	Short: "Check pencil redistribution round trips on a global shape",
	Long: `
Distributes a global array over the ranks, transposes it until every axis has
been complete once, then walks back to the starting layout. Every layout is
gathered and compared with the global array.

gospectral transpose --shape 17,18,19 --procs 4`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			shapeS, _ = cmd.Flags().GetString("shape")
			slab, _   = cmd.Flags().GetBool("slab")
			procs     = viper.GetInt("procs")
			shape     []int
			w         *parallel.World
		)
		if shape, err = parseInts(shapeS); err != nil {
			return
		}
		if procs == 0 {
			procs = 1
		}
		if w, err = parallel.NewWorld(procs); err != nil {
			return
		}
		start := time.Now()
		if err = w.Run(func(c *parallel.Comm) error {
			return roundTrip(c, shape, slab)
		}); err != nil {
			return
		}
		fmt.Printf("%v over %d ranks: every layout matches, %v\n", shape, procs, time.Since(start))
		return
	},
}

func init() {
	rootCmd.AddCommand(TransposeCmd)
	TransposeCmd.Flags().String("shape", "17,18,19", "global array shape")
	TransposeCmd.Flags().Bool("slab", false, "split a single axis instead of a pencil grid")
}

func roundTrip(c *parallel.Comm, shape []int, slab bool) (err error) {
	var (
		d    = len(shape)
		dims []int
		grid *parallel.ProcessGrid
		p    *parallel.Pencil
		a    *parallel.Array
	)
	if d < 2 {
		return fmt.Errorf("shape %v: need at least two axes", shape)
	}
	if dims = parallel.BalancedDims(c.Size(), d-1); slab {
		dims = []int{c.Size()}
	}
	if grid, err = parallel.NewProcessGrid(c, dims); err != nil {
		return
	}
	if p, err = parallel.NewPencil(grid, shape, 0); err != nil {
		return
	}
	global := make([]float64, utils.Prod(shape))
	for i := range global {
		global[i] = float64(i)
	}
	if a, err = parallel.FromGlobal(p, global); err != nil {
		return
	}
	check := func(a *parallel.Array) (err error) {
		{ // local block against the global array, before any gather
			var (
				local, _ = a.Pencil.Local()
				idx      = make([]int, d)
			)
			for n := range a.Data {
				for ax, r := d-1, n; ax >= 0; ax-- {
					idx[ax] = a.Pencil.GlobalIndex(ax, r%local[ax])
					r /= local[ax]
				}
				flat := 0
				for ax := range idx {
					flat = flat*shape[ax] + idx[ax]
				}
				if a.Data[n] != global[flat] {
					return fmt.Errorf("rank %d %s: element %v is %g, want %g", c.Rank(), a.Pencil, idx, a.Data[n], global[flat])
				}
			}
		}
		var g []float64
		if g, err = a.Gather(); err != nil {
			return
		}
		for i := range g {
			if g[i] != global[i] {
				return fmt.Errorf("%s: element %d is %g, want %g", a.Pencil, i, g[i], global[i])
			}
		}
		if c.Rank() == 0 {
			utils.Logger().Debug("layout matches", zap.Stringer("pencil", a.Pencil))
		}
		return
	}
	var trail [][2]int
	for axis := 1; axis < d; axis++ {
		if a.Pencil.Aligned(axis) {
			continue
		}
		recv := -1
		for r := 0; r < d && recv < 0; r++ {
			if r != axis && a.Pencil.Aligned(r) {
				recv = r
			}
		}
		var q *parallel.Pencil
		if q, err = a.Pencil.Transpose(axis, recv); err != nil {
			return
		}
		if a, err = parallel.Redistribute(a, q); err != nil {
			return
		}
		if err = check(a); err != nil {
			return
		}
		trail = append(trail, [2]int{axis, recv})
	}
	for i := len(trail) - 1; i >= 0; i-- {
		var q *parallel.Pencil
		if q, err = a.Pencil.Transpose(trail[i][1], trail[i][0]); err != nil {
			return
		}
		if a, err = parallel.Redistribute(a, q); err != nil {
			return
		}
		if err = check(a); err != nil {
			return
		}
	}
	if !a.Pencil.Equal(p) {
		return fmt.Errorf("round trip ended in %s, want %s", a.Pencil, p)
	}
	return
}
