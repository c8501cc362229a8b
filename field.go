package main

import "gonum.org/v1/gonum/floats"

// fieldState stores the mutable per-cell simulation state: the velocity
// vector, the six independent components of the symmetric stress tensor, and
// the scalar damage. All buffers share the grid's linear cell layout and
// start at zero.
type fieldState struct {
	n int

	vx, vy, vz []float64

	sxx, syy, szz []float64
	sxy, sxz, syz []float64

	damage []float64
}

func newFieldState(n int) *fieldState {
	return &fieldState{
		n:      n,
		vx:     make([]float64, n),
		vy:     make([]float64, n),
		vz:     make([]float64, n),
		sxx:    make([]float64, n),
		syy:    make([]float64, n),
		szz:    make([]float64, n),
		sxy:    make([]float64, n),
		sxz:    make([]float64, n),
		syz:    make([]float64, n),
		damage: make([]float64, n),
	}
}

// buffers returns every mutable field buffer in a fixed order: velocity,
// stress, damage.
func (f *fieldState) buffers() [][]float64 {
	return [][]float64{f.vx, f.vy, f.vz, f.sxx, f.syy, f.szz, f.sxy, f.sxz, f.syz, f.damage}
}

// reset zeroes all field buffers, returning the state to the
// post-construction zero condition.
func (f *fieldState) reset() {
	for _, buf := range f.buffers() {
		clear(buf)
	}
}

// velocityAt returns the velocity vector of one cell.
func (f *fieldState) velocityAt(idx int) (vx, vy, vz float64) {
	return f.vx[idx], f.vy[idx], f.vz[idx]
}

// kineticEnergyAt returns the instantaneous kinetic energy density
// 0.5*rho*|v|^2 at one cell.
func (f *fieldState) kineticEnergyAt(idx int, rho float64) float64 {
	vx, vy, vz := f.velocityAt(idx)
	return 0.5 * rho * (vx*vx + vy*vy + vz*vz)
}

// totalEnergy sums the kinetic and linear-elastic strain energy over all
// active cells. The strain energy uses the undamaged moduli, so this is a
// diagnostic for the elastic regime rather than an exact invariant of the
// damaged scheme.
func (f *fieldState) totalEnergy(vol *materialVolume, p simParams) float64 {
	kinetic := 0.0
	strain := 0.0
	// Compliance factors for isotropic linear elasticity.
	invMu := 1 / (4 * p.mu0)
	traceFactor := p.lambda0 / (3*p.lambda0 + 2*p.mu0)
	for i, l := range vol.labels {
		if l == 0 {
			continue
		}
		rho := float64(vol.density[i])
		kinetic += f.kineticEnergyAt(i, rho)
		tr := f.sxx[i] + f.syy[i] + f.szz[i]
		ss := f.sxx[i]*f.sxx[i] + f.syy[i]*f.syy[i] + f.szz[i]*f.szz[i] +
			2*(f.sxy[i]*f.sxy[i]+f.sxz[i]*f.sxz[i]+f.syz[i]*f.syz[i])
		strain += invMu * (ss - traceFactor*tr*tr)
	}
	cellVolume := p.dx * p.dx * p.dx
	return (kinetic + strain) * cellVolume
}

// maxAbsVelocity returns the largest velocity component magnitude across the
// grid. Used as a cheap stability diagnostic.
func (f *fieldState) maxAbsVelocity() float64 {
	m := 0.0
	for _, buf := range [][]float64{f.vx, f.vy, f.vz} {
		if len(buf) == 0 {
			continue
		}
		lo, hi := floats.Min(buf), floats.Max(buf)
		if -lo > m {
			m = -lo
		}
		if hi > m {
			m = hi
		}
	}
	return m
}
