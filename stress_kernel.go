package main

import "math"

// updateStressCell performs the constitutive update for a single cell:
// velocity-gradient finite differences, explicit stress integration with
// damage-scaled moduli, then the optional Mohr-Coulomb and tensile-damage
// corrections. Cells with label 0 and cells on the outer boundary layer are
// skipped.
func updateStressCell(idx int, g grid, vol *materialVolume, f *fieldState, p simParams) {
	if vol.labels[idx] == 0 {
		return
	}
	x, y, z := g.coords(idx)
	if g.isBoundary(x, y, z) {
		return
	}

	sx := 1
	sy := g.nx
	sz := g.nx * g.ny
	inv2dx := 1 / (2 * p.dx)

	// Central differences of the velocity field across the six axis
	// neighbors give the velocity gradient.
	dvxdx := (f.vx[idx+sx] - f.vx[idx-sx]) * inv2dx
	dvxdy := (f.vx[idx+sy] - f.vx[idx-sy]) * inv2dx
	dvxdz := (f.vx[idx+sz] - f.vx[idx-sz]) * inv2dx
	dvydx := (f.vy[idx+sx] - f.vy[idx-sx]) * inv2dx
	dvydy := (f.vy[idx+sy] - f.vy[idx-sy]) * inv2dx
	dvydz := (f.vy[idx+sz] - f.vy[idx-sz]) * inv2dx
	dvzdx := (f.vz[idx+sx] - f.vz[idx-sx]) * inv2dx
	dvzdy := (f.vz[idx+sy] - f.vz[idx-sy]) * inv2dx
	dvzdz := (f.vz[idx+sz] - f.vz[idx-sz]) * inv2dx

	theta := dvxdx + dvydy + dvzdz

	// Damage degrades the moduli uniformly.
	intact := 1.0
	if p.brittle {
		intact = 1 - f.damage[idx]
	}
	lambdaEff := intact * p.lambda0
	muEff := intact * p.mu0

	f.sxx[idx] += p.dt * (lambdaEff*theta + 2*muEff*dvxdx)
	f.syy[idx] += p.dt * (lambdaEff*theta + 2*muEff*dvydy)
	f.szz[idx] += p.dt * (lambdaEff*theta + 2*muEff*dvzdz)
	f.sxy[idx] += p.dt * muEff * (dvxdy + dvydx)
	f.sxz[idx] += p.dt * muEff * (dvxdz + dvzdx)
	f.syz[idx] += p.dt * muEff * (dvydz + dvzdy)

	if p.plastic {
		applyPlasticReturn(idx, f, p)
	}
	if p.brittle {
		applyTensileDamage(idx, f, p)
	}
}

// applyPlasticReturn applies the single-increment Mohr-Coulomb radial return.
// This is deliberately not an iterative consistency-enforcing return mapping;
// the softening factor 1 - dt*f/tau is a calibrated approximation.
func applyPlasticReturn(idx int, f *fieldState, p simParams) {
	mean := (f.sxx[idx] + f.syy[idx] + f.szz[idx]) / 3
	pm := mean - p.confining

	dxx := f.sxx[idx] - mean
	dyy := f.syy[idx] - mean
	dzz := f.szz[idx] - mean
	sxy := f.sxy[idx]
	sxz := f.sxz[idx]
	syz := f.syz[idx]

	j2 := 0.5*(dxx*dxx+dyy*dyy+dzz*dzz) + sxy*sxy + sxz*sxz + syz*syz
	tau := math.Sqrt(j2)

	yield := tau - pm*p.sinPhi - p.cohesion*p.cosPhi
	if yield <= 0 {
		return
	}
	scale := 1 - p.dt*yield/(tau+plasticEpsilon)
	if scale < 0 {
		scale = 0
	}
	// Scale the deviatoric part, keep the mean stress unchanged.
	f.sxx[idx] = dxx*scale + mean
	f.syy[idx] = dyy*scale + mean
	f.szz[idx] = dzz*scale + mean
	f.sxy[idx] = sxy * scale
	f.sxz[idx] = sxz * scale
	f.syz[idx] = syz * scale
}

// applyTensileDamage accumulates damage when the maximum principal stress
// exceeds the tensile strength and degrades the full stress tensor by the
// new (1-D) factor. Damage never decreases and is clamped to [0, 1].
func applyTensileDamage(idx int, f *fieldState, p simParams) {
	d := f.damage[idx]
	if d >= 1 {
		return
	}
	sigMax := maxPrincipalStress(f.sxx[idx], f.syy[idx], f.szz[idx], f.sxy[idx], f.sxz[idx], f.syz[idx])
	if sigMax <= p.tensile {
		return
	}
	var excess float64
	if p.tensile > 0 {
		excess = (sigMax - p.tensile) / p.tensile
	} else {
		// Zero tensile strength: any tension fully damages the cell.
		excess = 1 / damageGain
	}
	d += damageGain * excess
	if d > 1 {
		d = 1
	}
	f.damage[idx] = d
	intact := 1 - d
	f.sxx[idx] *= intact
	f.syy[idx] *= intact
	f.szz[idx] *= intact
	f.sxy[idx] *= intact
	f.sxz[idx] *= intact
	f.syz[idx] *= intact
}

// maxPrincipalStress returns the largest eigenvalue of the symmetric stress
// tensor by solving the characteristic cubic. The three-real-roots case uses
// the trigonometric method; degenerate discriminants fall back to Cardano or
// the triple root so no NaN can escape.
func maxPrincipalStress(sxx, syy, szz, sxy, sxz, syz float64) float64 {
	i1 := sxx + syy + szz
	i2 := sxx*syy + syy*szz + szz*sxx - sxy*sxy - sxz*sxz - syz*syz
	i3 := sxx*(syy*szz-syz*syz) - sxy*(sxy*szz-syz*sxz) + sxz*(sxy*syz-syy*sxz)

	// Depressed cubic t^3 + pt + q = 0 with lambda = t + i1/3.
	shift := i1 / 3
	pp := i2 - i1*i1/3
	qq := -2*i1*i1*i1/27 + i1*i2/3 - i3

	scale := 1 + math.Abs(i1)*math.Abs(i1)
	if math.Abs(pp) <= cubicEpsilon*scale {
		// Near-isotropic tensor: triple root, or a single dominant root.
		if math.Abs(qq) <= cubicEpsilon*scale*math.Abs(i1+1) {
			return shift
		}
		return math.Cbrt(-qq) + shift
	}

	disc := qq*qq/4 + pp*pp*pp/27
	if disc < 0 {
		// Three distinct real roots; the k=0 trigonometric root is the
		// largest.
		m := 2 * math.Sqrt(-pp/3)
		arg := 3 * qq / (pp * m)
		if arg > 1 {
			arg = 1
		} else if arg < -1 {
			arg = -1
		}
		return m*math.Cos(math.Acos(arg)/3) + shift
	}

	// Repeated roots or rounding pushed the discriminant non-negative:
	// Cardano gives the remaining real root.
	sq := math.Sqrt(disc)
	return math.Cbrt(-qq/2+sq) + math.Cbrt(-qq/2-sq) + shift
}
