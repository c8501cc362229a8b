package main

import (
	"fmt"
	"runtime"
	"sync"
)

// waveSolver abstracts the backend that advances the field state by one time
// step. Step runs the stress pass followed by the velocity pass over the
// whole grid and is fully synchronized on return; every other method is only
// valid between steps.
type waveSolver interface {
	// Step advances the simulation by one leapfrog pair.
	Step() error
	// InjectPulse adds an isotropic stress pulse to the three normal
	// stress components of one cell.
	InjectPulse(idx int, magnitude float64) error
	// ProbeVelocity reads the velocity vector of one cell.
	ProbeVelocity(idx int) (vx, vy, vz float64, err error)
	// ReadVelocity copies the three velocity component fields back to
	// host slices.
	ReadVelocity() (vx, vy, vz []float64, err error)
	// ReadStress copies the six stress component fields back to host
	// slices in sxx, syy, szz, sxy, sxz, syz order.
	ReadStress() ([6][]float64, error)
	// ReadDamage copies the damage field back to a host slice.
	ReadDamage() ([]float64, error)
	// Reset zeroes every mutable field buffer, keeping labels and
	// density.
	Reset() error
	// Close releases backend resources. Safe to call more than once.
	Close()
	// DeviceName identifies the executing backend.
	DeviceName() string
}

// newSolver selects the backend. The accelerated path is attempted first
// when requested; on failure the caller decides whether to fall back.
func newSolver(g grid, vol *materialVolume, p simParams, useDevice bool) (waveSolver, error) {
	if useDevice {
		return newOpenCLSolver(g, vol, p)
	}
	return newCPUSolver(g, vol, p), nil
}

// cpuSolver runs both kernels on the host, partitioning the linear cell
// range across worker goroutines per pass. In-place updates are race free:
// the stress pass reads only velocity and writes only stress, the velocity
// pass reads only stress and writes only velocity.
type cpuSolver struct {
	g       grid
	vol     *materialVolume
	fields  *fieldState
	params  simParams
	workers int
}

func newCPUSolver(g grid, vol *materialVolume, p simParams) *cpuSolver {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &cpuSolver{
		g:       g,
		vol:     vol,
		fields:  newFieldState(g.cells()),
		params:  p,
		workers: workers,
	}
}

// dispatch applies one per-cell kernel to every cell, split into contiguous
// chunks across the worker pool, and waits for all workers to finish.
func (s *cpuSolver) dispatch(kernel func(idx int, g grid, vol *materialVolume, f *fieldState, p simParams)) {
	n := s.g.cells()
	chunk := (n + s.workers - 1) / s.workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				kernel(i, s.g, s.vol, s.fields, s.params)
			}
		}(start, end)
	}
	wg.Wait()
}

func (s *cpuSolver) Step() error {
	s.dispatch(updateStressCell)
	s.dispatch(updateVelocityCell)
	return nil
}

func (s *cpuSolver) InjectPulse(idx int, magnitude float64) error {
	if idx < 0 || idx >= s.fields.n {
		return fmt.Errorf("pulse cell %d outside grid of %d cells", idx, s.fields.n)
	}
	s.fields.sxx[idx] += magnitude
	s.fields.syy[idx] += magnitude
	s.fields.szz[idx] += magnitude
	return nil
}

func (s *cpuSolver) ProbeVelocity(idx int) (vx, vy, vz float64, err error) {
	if idx < 0 || idx >= s.fields.n {
		return 0, 0, 0, fmt.Errorf("probe cell %d outside grid of %d cells", idx, s.fields.n)
	}
	vx, vy, vz = s.fields.velocityAt(idx)
	return vx, vy, vz, nil
}

func (s *cpuSolver) ReadVelocity() (vx, vy, vz []float64, err error) {
	return copyField(s.fields.vx), copyField(s.fields.vy), copyField(s.fields.vz), nil
}

func (s *cpuSolver) ReadStress() ([6][]float64, error) {
	return [6][]float64{
		copyField(s.fields.sxx), copyField(s.fields.syy), copyField(s.fields.szz),
		copyField(s.fields.sxy), copyField(s.fields.sxz), copyField(s.fields.syz),
	}, nil
}

func (s *cpuSolver) ReadDamage() ([]float64, error) {
	return copyField(s.fields.damage), nil
}

func (s *cpuSolver) Reset() error {
	s.fields.reset()
	return nil
}

func (s *cpuSolver) Close() {}

func (s *cpuSolver) DeviceName() string {
	return fmt.Sprintf("CPU (%d workers)", s.workers)
}

func copyField(src []float64) []float64 {
	dst := make([]float64, len(src))
	copy(dst, src)
	return dst
}
