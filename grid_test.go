package main

import "testing"

func TestGridIndexRoundTrip(t *testing.T) {
	g, err := newGrid(7, 5, 9, 0.001)
	if err != nil {
		t.Fatalf("newGrid: %v", err)
	}
	for z := 0; z < g.nz; z++ {
		for y := 0; y < g.ny; y++ {
			for x := 0; x < g.nx; x++ {
				idx := g.index(x, y, z)
				gx, gy, gz := g.coords(idx)
				if gx != x || gy != y || gz != z {
					t.Fatalf("coords(index(%d,%d,%d)) = (%d,%d,%d)", x, y, z, gx, gy, gz)
				}
			}
		}
	}
	if got := g.cells(); got != 7*5*9 {
		t.Errorf("cells() = %d, want %d", got, 7*5*9)
	}
}

func TestGridValidation(t *testing.T) {
	tests := []struct {
		name       string
		nx, ny, nz int
		dx         float64
	}{
		{"tiny axis", 2, 5, 5, 0.001},
		{"zero axis", 5, 0, 5, 0.001},
		{"zero spacing", 5, 5, 5, 0},
		{"negative spacing", 5, 5, 5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newGrid(tt.nx, tt.ny, tt.nz, tt.dx); err == nil {
				t.Errorf("newGrid(%d,%d,%d,%g) accepted invalid input", tt.nx, tt.ny, tt.nz, tt.dx)
			}
		})
	}
}

func TestIsBoundary(t *testing.T) {
	g, _ := newGrid(4, 5, 6, 0.001)
	if !g.isBoundary(0, 2, 3) || !g.isBoundary(3, 2, 3) || !g.isBoundary(1, 0, 3) || !g.isBoundary(1, 2, 5) {
		t.Error("outer-layer cells not flagged as boundary")
	}
	if g.isBoundary(1, 1, 1) || g.isBoundary(2, 3, 4) {
		t.Error("interior cells flagged as boundary")
	}
}

func TestParseAxis(t *testing.T) {
	tests := []struct {
		in      string
		want    propagationAxis
		wantErr bool
	}{
		{"X", axisX, false},
		{"Y", axisY, false},
		{"Z", axisZ, false},
		{"", axisZ, false},
		{"W", axisZ, true},
		{"x", axisZ, true},
	}
	for _, tt := range tests {
		got, err := parseAxis(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAxis(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseAxis(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFacePairPlacement(t *testing.T) {
	g, _ := newGrid(10, 12, 14, 0.001)
	tests := []struct {
		axis propagationAxis
		t, r [3]int
	}{
		{axisX, [3]int{1, 6, 7}, [3]int{8, 6, 7}},
		{axisY, [3]int{5, 1, 7}, [3]int{5, 10, 7}},
		{axisZ, [3]int{5, 6, 1}, [3]int{5, 6, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.axis.String(), func(t *testing.T) {
			gotT, gotR := g.facePair(tt.axis)
			if gotT != tt.t || gotR != tt.r {
				t.Errorf("facePair(%v) = %v, %v; want %v, %v", tt.axis, gotT, gotR, tt.t, tt.r)
			}
			// Both endpoints must be interior so the kernels update them.
			for _, c := range [][3]int{gotT, gotR} {
				if g.isBoundary(c[0], c[1], c[2]) {
					t.Errorf("facePair(%v) placed %v on the boundary layer", tt.axis, c)
				}
			}
		})
	}
}
