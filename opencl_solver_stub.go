//go:build !opencl

package main

import "errors"

// newOpenCLSolver reports that device acceleration was compiled out. The
// CPU backend remains available through newSolver.
func newOpenCLSolver(g grid, vol *materialVolume, p simParams) (waveSolver, error) {
	return nil, errors.New("OpenCL support is not enabled; rebuild with -tags opencl")
}
