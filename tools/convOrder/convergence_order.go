package main

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

var (
	csvFile string
)

func main() {
	csvFilePtr := flag.String("csvFile", csvFile, "file written by gospectral solve --sweep")
	flag.Parse()
	csvFile = *csvFilePtr
	if len(csvFile) == 0 {
		flag.Usage()
		os.Exit(1)
	}
	fmt.Printf("Input file: %v\n", csvFile)
	cs, err := readCSV(csvFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("N, L2, LInf, rate(L2), rate(LInf)")
	for i := range cs.n {
		if i == 0 {
			fmt.Printf("%d, %10.3e, %10.3e\n", cs.n[i], cs.l2[i], cs.linf[i])
			continue
		}
		fmt.Printf("%d, %10.3e, %10.3e, %6.3f, %6.3f\n", cs.n[i], cs.l2[i], cs.linf[i],
			rate(cs.n[i-1:i+1], cs.l2[i-1:i+1]), rate(cs.n[i-1:i+1], cs.linf[i-1:i+1]))
	}
	if len(cs.n) > 2 {
		fmt.Printf("fitted geometric rate: L2 %6.3f, LInf %6.3f\n", fit(cs.n, cs.l2), fit(cs.n, cs.linf))
	}
}

// ConvergenceStudy holds errors for increasing N. Spectral errors fall as
// exp(-sigma N); the rates reported are sigma.
type ConvergenceStudy struct {
	n        []int
	l2, linf []float64
}

func (cs *ConvergenceStudy) Add(n int, l2, linf float64) {
	cs.n = append(cs.n, n)
	cs.l2 = append(cs.l2, l2)
	cs.linf = append(cs.linf, linf)
}

func rate(n []int, e []float64) float64 {
	return -math.Log(e[1]/e[0]) / float64(n[1]-n[0])
}

// fit is the least squares slope of -log(e) against N.
func fit(n []int, e []float64) float64 {
	x, y := make([]float64, len(n)), make([]float64, len(n))
	for i := range n {
		x[i], y[i] = float64(n[i]), -math.Log(e[i])
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	return beta
}

func readCSV(csvFile string) (cs *ConvergenceStudy, err error) {
	var (
		records [][]string
		f       *os.File
	)
	if f, err = os.Open(csvFile); err != nil {
		return
	}
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	if records, err = r.ReadAll(); err != nil {
		return
	}
	cs = &ConvergenceStudy{}
	for i, rec := range records {
		if i == 0 {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: want N,L2,LInf, have %v", i+1, rec)
		}
		var (
			n        int
			l2, linf float64
		)
		if n, err = strconv.Atoi(rec[0]); err != nil {
			return
		}
		if l2, err = strconv.ParseFloat(rec[1], 64); err != nil {
			return
		}
		if linf, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return
		}
		cs.Add(n, l2, linf)
	}
	return
}
