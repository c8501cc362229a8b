package main

import "fmt"

// grid describes the fixed voxel lattice the simulation runs on. Cells are
// addressed by the linear offset z*nx*ny + y*nx + x. Immutable after
// construction.
type grid struct {
	nx, ny, nz int
	dx         float64
}

func newGrid(nx, ny, nz int, dx float64) (grid, error) {
	if nx < 3 || ny < 3 || nz < 3 {
		return grid{}, fmt.Errorf("grid %dx%dx%d too small: every axis needs at least 3 cells", nx, ny, nz)
	}
	if dx <= 0 {
		return grid{}, fmt.Errorf("grid spacing must be positive, got %g", dx)
	}
	return grid{nx: nx, ny: ny, nz: nz, dx: dx}, nil
}

// cells returns the number of voxels in the grid.
func (g grid) cells() int { return g.nx * g.ny * g.nz }

// index converts voxel coordinates into the linear cell offset.
func (g grid) index(x, y, z int) int { return z*g.nx*g.ny + y*g.nx + x }

// coords inverts index.
func (g grid) coords(idx int) (x, y, z int) {
	plane := g.nx * g.ny
	z = idx / plane
	rem := idx - z*plane
	y = rem / g.nx
	x = rem - y*g.nx
	return
}

// contains reports whether the coordinates lie inside the grid.
func (g grid) contains(x, y, z int) bool {
	return x >= 0 && x < g.nx && y >= 0 && y < g.ny && z >= 0 && z < g.nz
}

// isBoundary reports whether the cell sits on the outer layer of the grid.
// Boundary cells are never updated by the kernels, which gives the natural
// null boundary condition of the scheme.
func (g grid) isBoundary(x, y, z int) bool {
	return x == 0 || x == g.nx-1 || y == 0 || y == g.ny-1 || z == 0 || z == g.nz-1
}

// propagationAxis selects which grid axis carries the transducer-receiver
// pair.
type propagationAxis int

const (
	axisX propagationAxis = iota
	axisY
	axisZ
)

func (a propagationAxis) String() string {
	switch a {
	case axisX:
		return "X"
	case axisY:
		return "Y"
	}
	return "Z"
}

// parseAxis accepts "X", "Y", "Z" (case sensitive, empty means Z).
func parseAxis(s string) (propagationAxis, error) {
	switch s {
	case "X":
		return axisX, nil
	case "Y":
		return axisY, nil
	case "Z", "":
		return axisZ, nil
	}
	return axisZ, fmt.Errorf("unknown propagation axis %q (want X, Y or Z)", s)
}

// facePair returns the transducer and receiver coordinates for the axis:
// the centers of the two opposing faces, pulled one layer inward so both
// cells participate in the update scheme.
func (g grid) facePair(a propagationAxis) (t, r [3]int) {
	cx, cy, cz := g.nx/2, g.ny/2, g.nz/2
	switch a {
	case axisX:
		t = [3]int{1, cy, cz}
		r = [3]int{g.nx - 2, cy, cz}
	case axisY:
		t = [3]int{cx, 1, cz}
		r = [3]int{cx, g.ny - 2, cz}
	default:
		t = [3]int{cx, cy, 1}
		r = [3]int{cx, cy, g.nz - 2}
	}
	return
}
