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
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notargets/gospectral/InputParameters"
	"github.com/notargets/gospectral/equations"
	"github.com/notargets/gospectral/parallel"
	"github.com/notargets/gospectral/solver"
	"github.com/notargets/gospectral/utils"
)

// SolveCmd represents the solve command
var SolveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a manufactured model problem and report its error",
	Long: `
Solves the problem described in a YAML input file against a manufactured exact
solution and prints the L2 and maximum errors. With --sweep the axes are resized
so the first takes each value in turn, and the errors are written as CSV for
convOrder.

gospectral solve -I problem.yaml --sweep 8,12,16,20`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			file, _  = cmd.Flags().GetString("inputConditionsFile")
			sweep, _ = cmd.Flags().GetString("sweep")
			pp       *InputParameters.ProblemParameters
			sizes    []int
		)
		if pp, err = processInput(file); err != nil {
			return
		}
		if sizes, err = parseInts(sweep); err != nil {
			return
		}
		if len(sizes) == 0 {
			pp.Print()
			var res equations.Result
			if res, err = solveOnce(pp); err != nil {
				return
			}
			printResult(os.Stdout, res)
			if ill := res.Report.Err(); ill != nil {
				utils.Logger().Warn("advisory", zap.Error(ill))
			}
			return
		}
		fmt.Println("N,L2,LInf,Cond")
		for _, n := range sizes {
			var res equations.Result
			if res, err = solveOnce(pp.Resized(n)); err != nil {
				return
			}
			fmt.Printf("%d,%.6e,%.6e,%.3e\n", res.N[0], res.U.L2, res.U.LInf, res.Report.Cond)
		}
		return
	},
}

func init() {
	rootCmd.AddCommand(SolveCmd)
	SolveCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file describing the equation and the bases of each axis")
	SolveCmd.Flags().String("sweep", "", "comma separated sizes of the first axis; other axes keep their offsets")
}

func processInput(file string) (pp *InputParameters.ProblemParameters, err error) {
	if len(file) == 0 {
		exampleFile := `
########################################
Title: "Dirichlet Poisson"
Equation: Poisson # Helmholtz, Biharmonic, Stokes
Shift: 0
Procs: 1
Axes:
  - Family: Legendre
    Size: 24
    BC: Dirichlet
  - Family: Chebyshev
    Size: 25
    BC: Dirichlet
    Domain: [0, 2]
########################################
`
		fmt.Printf("Example File:%s\n", exampleFile)
		return nil, fmt.Errorf("must supply an input parameters file (-I, --inputConditionsFile)")
	}
	var data []byte
	if data, err = os.ReadFile(file); err != nil {
		return
	}
	pp = &InputParameters.ProblemParameters{}
	err = pp.Parse(data)
	return
}

// solveOnce runs the problem on an in-process world. The command line
// settings take precedence over the file.
func solveOnce(pp *InputParameters.ProblemParameters) (res equations.Result, err error) {
	var (
		p     *equations.Problem
		w     *parallel.World
		procs = pp.Procs
		mu    sync.Mutex
	)
	if n := viper.GetInt("procs"); n > 0 {
		procs = n
	}
	if p, err = pp.Problem(); err != nil {
		return
	}
	topts, err := pp.TensorOptions()
	if err != nil {
		return
	}
	sopts, err := pp.SolverOptions()
	if err != nil {
		return
	}
	if pp.CondThreshold == 0 {
		sopts = append(sopts, solver.WithCondThreshold(viper.GetFloat64("condThreshold")))
	}
	if w, err = parallel.NewWorld(procs); err != nil {
		return
	}
	err = w.Run(func(c *parallel.Comm) error {
		r, err := p.Run(c, topts, sopts...)
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			mu.Lock()
			res = r
			mu.Unlock()
		}
		return nil
	})
	return
}

func printResult(w io.Writer, res equations.Result) {
	fmt.Fprintf(w, "N = %v\n", res.N)
	fmt.Fprintf(w, "%12.5e\t= L2 error\n", res.U.L2)
	fmt.Fprintf(w, "%12.5e\t= LInf error\n", res.U.LInf)
	if res.P != (equations.Norms{}) {
		fmt.Fprintf(w, "%12.5e\t= pressure L2 error\n", res.P.L2)
		fmt.Fprintf(w, "%12.5e\t= pressure LInf error\n", res.P.LInf)
	}
	fmt.Fprintf(w, "%12.5e\t= condition estimate (%s)\n", res.Report.Cond, res.Report.Operator)
}
