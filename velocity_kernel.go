package main

// updateVelocityCell integrates the momentum equation for a single cell:
// one-sided forward differences of the stress tensor give the stress
// divergence, which accelerates the cell against its local density. Skip
// conditions match the stress kernel. No constitutive coupling happens here.
func updateVelocityCell(idx int, g grid, vol *materialVolume, f *fieldState, p simParams) {
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

	// Forward differences over dx, consistent with the staggered placement
	// of stress relative to velocity.
	rho := float64(vol.density[idx])
	scale := p.dt / (p.dx * rho)

	f.vx[idx] += scale * ((f.sxx[idx+sx] - f.sxx[idx]) +
		(f.sxy[idx+sy] - f.sxy[idx]) +
		(f.sxz[idx+sz] - f.sxz[idx]))
	f.vy[idx] += scale * ((f.sxy[idx+sx] - f.sxy[idx]) +
		(f.syy[idx+sy] - f.syy[idx]) +
		(f.syz[idx+sz] - f.syz[idx]))
	f.vz[idx] += scale * ((f.sxz[idx+sx] - f.sxz[idx]) +
		(f.syz[idx+sy] - f.syz[idx]) +
		(f.szz[idx+sz] - f.szz[idx]))
}
