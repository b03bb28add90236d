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
	"math"
	"time"

	perf "github.com/hodgesds/perf-utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notargets/gospectral/basis"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/space"
	"github.com/notargets/gospectral/types"
	"github.com/notargets/gospectral/utils"
)

// BenchCmd represents the bench command
var BenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Time forward and backward tensor transforms",
	Long: `
Times round trips of the distributed tensor transform on Chebyshev Dirichlet
axes with a Fourier last axis. With --padding above one each round trip also
squares the field on the padded grid, the dealiased quadratic product of a
pseudo-spectral nonlinear term. Hardware counters are added where the kernel
allows perf events.

gospectral bench --shape 64,64,64 --iterations 10 --procs 4 --padding 1.5`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			shapeS, _ = cmd.Flags().GetString("shape")
			iters, _  = cmd.Flags().GetInt("iterations")
			pad, _    = cmd.Flags().GetFloat64("padding")
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
		run := func() error {
			return w.Run(func(c *parallel.Comm) error { return transformLoop(c, shape, iters, pad) })
		}
		start := time.Now()
		if err = run(); err != nil {
			return
		}
		elapsed := time.Since(start)
		fmt.Printf("%v over %d ranks: %d round trips in %v, %v each\n",
			shape, procs, iters, elapsed, elapsed/time.Duration(max(iters, 1)))
		fmt.Println(utils.GetMemUsage())
		counters := []struct {
			name    string
			measure func(func() error) (*perf.ProfileValue, error)
		}{
			{"instructions", perf.CPUInstructions},
			{"cycles", perf.CPUCycles},
			{"cache misses", perf.CacheMiss},
		}
		for _, ctr := range counters {
			pv, perr := ctr.measure(run)
			if perr != nil {
				utils.Logger().Warn("perf counter unavailable", zap.String("counter", ctr.name), zap.Error(perr))
				continue
			}
			fmt.Printf("%14d\t= %s (calling thread)\n", pv.Value, ctr.name)
		}
		return
	},
}

func init() {
	rootCmd.AddCommand(BenchCmd)
	BenchCmd.Flags().String("shape", "32,32,32", "global physical shape")
	BenchCmd.Flags().IntP("iterations", "n", 10, "forward and backward round trips")
	BenchCmd.Flags().Float64("padding", 1, "grid refinement of a dealiased product per round trip, 1 for none")
}

func transformLoop(c *parallel.Comm, shape []int, iters int, padding float64) (err error) {
	spaces := make([]*space.FunctionSpace, len(shape))
	for a, n := range shape {
		var b *basis.Basis
		if a == len(shape)-1 {
			b, err = basis.New(types.Fourier, n, types.BCPure)
		} else {
			b, err = basis.New(types.Chebyshev, n, types.BCDirichlet)
		}
		if err != nil {
			return
		}
		if spaces[a], err = space.NewFunctionSpace(b); err != nil {
			return
		}
	}
	T, err := space.NewTensorProductSpace(c, spaces, space.Padding(max(padding, 1)))
	if err != nil {
		return
	}
	u := T.NewArray(false)
	T.Fill(u, func(x []float64) (v float64) {
		v = 1
		for _, xi := range x {
			v *= math.Cos(xi)
		}
		return
	})
	for i := 0; i < iters; i++ {
		var uc *parallel.Array
		if uc, err = T.Forward(u); err != nil {
			return
		}
		if padding > 1 {
			if uc, err = dealiasedSquare(T, uc); err != nil {
				return
			}
		}
		if u, err = T.Backward(uc); err != nil {
			return
		}
	}
	if utils.HasNaN(u.Data) {
		err = fmt.Errorf("rank %d: transform round trip produced non-finite values", c.Rank())
	}
	return
}

// dealiasedSquare returns the coefficients of u*u formed on the padded grid.
func dealiasedSquare(T *space.TensorProductSpace, uc *parallel.Array) (*parallel.Array, error) {
	up, err := T.BackwardPadded(uc)
	if err != nil {
		return nil, err
	}
	for i, v := range up.Data {
		up.Data[i] = v * v
	}
	return T.ForwardPadded(up)
}
