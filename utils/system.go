package utils

import (
	"fmt"
	"math"
	"runtime"
)

// MemUsage is a snapshot of the Go heap in MiB.
type MemUsage struct {
	Alloc, TotalAlloc, Sys uint64
	NumGC                  uint32
}

func GetMemUsage() (mu MemUsage) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	bToMb := func(b uint64) uint64 {
		return b / 1024 / 1024
	}
	return MemUsage{bToMb(m.Alloc), bToMb(m.TotalAlloc), bToMb(m.Sys), m.NumGC}
}

func (mu MemUsage) String() string {
	return fmt.Sprintf("Alloc = %v MiB TotalAlloc = %v MiB Sys = %v MiB NumGC = %v",
		mu.Alloc, mu.TotalAlloc, mu.Sys, mu.NumGC)
}

// HasNaN reports whether any entry is NaN or infinite.
func HasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
