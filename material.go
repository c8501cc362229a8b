package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// materialVolume holds the per-cell label and density fields. Label 0 marks
// inactive cells that are excluded from every update. Read-only once built.
type materialVolume struct {
	g       grid
	labels  []uint8
	density []float32

	active  int
	rhoMin  float64
	rhoMean float64
}

// newMaterialVolume validates and wraps the host label and density arrays.
// When selected is non-zero, cells carrying any other label are deactivated,
// mirroring the per-material selection of the upstream segmentation tooling.
// The input slices are copied so later mutation by the caller cannot corrupt
// a run.
func newMaterialVolume(g grid, labels []uint8, density []float32, selected uint8) (*materialVolume, error) {
	n := g.cells()
	if len(labels) != n {
		return nil, fmt.Errorf("label volume has %d cells, grid needs %d", len(labels), n)
	}
	if len(density) != n {
		return nil, fmt.Errorf("density volume has %d cells, grid needs %d", len(density), n)
	}
	v := &materialVolume{
		g:       g,
		labels:  make([]uint8, n),
		density: make([]float32, n),
	}
	copy(v.labels, labels)
	copy(v.density, density)
	if selected != 0 {
		for i, l := range v.labels {
			if l != selected {
				v.labels[i] = 0
			}
		}
	}

	rhos := make([]float64, 0, n)
	for i, l := range v.labels {
		if l == 0 {
			continue
		}
		rho := float64(v.density[i])
		if rho <= 0 || math.IsNaN(rho) {
			x, y, z := g.coords(i)
			return nil, fmt.Errorf("active cell (%d,%d,%d) has non-positive density %g", x, y, z, rho)
		}
		rhos = append(rhos, rho)
	}
	if len(rhos) == 0 {
		return nil, fmt.Errorf("no active cells: label volume is empty after selection")
	}
	v.active = len(rhos)
	v.rhoMin = floats.Min(rhos)
	v.rhoMean = stat.Mean(rhos, nil)
	return v, nil
}

// homogeneousVolume builds a volume with a single label filling the whole
// interior of the grid at a uniform density. Used by the CLI benchmark mode
// and by tests.
func homogeneousVolume(g grid, rho float64) *materialVolume {
	n := g.cells()
	labels := make([]uint8, n)
	density := make([]float32, n)
	for z := 0; z < g.nz; z++ {
		for y := 0; y < g.ny; y++ {
			for x := 0; x < g.nx; x++ {
				i := g.index(x, y, z)
				labels[i] = 1
				density[i] = float32(rho)
			}
		}
	}
	v, err := newMaterialVolume(g, labels, density, 0)
	if err != nil {
		// Uniform positive density cannot fail validation.
		panic(err)
	}
	return v
}

// pWaveSpeed returns the compressional wave velocity for the given elastic
// constants and density.
func pWaveSpeed(lambda, mu, rho float64) float64 {
	return math.Sqrt((lambda + 2*mu) / rho)
}

// sWaveSpeed returns the shear wave velocity.
func sWaveSpeed(mu, rho float64) float64 {
	return math.Sqrt(mu / rho)
}
