package main

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// eigOracle returns the largest eigenvalue of the symmetric stress tensor
// using gonum's eigendecomposition.
func eigOracle(t *testing.T, sxx, syy, szz, sxy, sxz, syz float64) float64 {
	t.Helper()
	sym := mat.NewSymDense(3, []float64{
		sxx, sxy, sxz,
		sxy, syy, syz,
		sxz, syz, szz,
	})
	var es mat.EigenSym
	if !es.Factorize(sym, false) {
		t.Fatal("eigendecomposition failed")
	}
	vals := es.Values(nil)
	return vals[2]
}

func TestMaxPrincipalStressMatchesEigen(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		sxx := (rng.Float64() - 0.5) * 2e7
		syy := (rng.Float64() - 0.5) * 2e7
		szz := (rng.Float64() - 0.5) * 2e7
		sxy := (rng.Float64() - 0.5) * 2e7
		sxz := (rng.Float64() - 0.5) * 2e7
		syz := (rng.Float64() - 0.5) * 2e7

		got := maxPrincipalStress(sxx, syy, szz, sxy, sxz, syz)
		want := eigOracle(t, sxx, syy, szz, sxy, sxz, syz)
		tol := 1e-8 * (math.Abs(want) + 1e7)
		if math.Abs(got-want) > tol {
			t.Fatalf("case %d: maxPrincipalStress = %g, eigen oracle = %g", i, got, want)
		}
	}
}

func TestMaxPrincipalStressDegenerate(t *testing.T) {
	tests := []struct {
		name                         string
		sxx, syy, szz, sxy, sxz, syz float64
		want                         float64
	}{
		{"zero tensor", 0, 0, 0, 0, 0, 0, 0},
		{"isotropic tension", 5e6, 5e6, 5e6, 0, 0, 0, 5e6},
		{"isotropic compression", -2e6, -2e6, -2e6, 0, 0, 0, -2e6},
		{"uniaxial", 3e6, 0, 0, 0, 0, 0, 3e6},
		{"two equal roots", 1e6, 1e6, 4e6, 0, 0, 0, 4e6},
		{"pure shear", 0, 0, 0, 1e6, 0, 0, 1e6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maxPrincipalStress(tt.sxx, tt.syy, tt.szz, tt.sxy, tt.sxz, tt.syz)
			if math.IsNaN(got) {
				t.Fatal("solver produced NaN")
			}
			tol := 1e-6 * (math.Abs(tt.want) + 1)
			if math.Abs(got-tt.want) > tol {
				t.Errorf("got %g, want %g", got, tt.want)
			}
		})
	}
}

func TestPlasticReturnScalesDeviator(t *testing.T) {
	f := newFieldState(1)
	f.sxx[0] = 9e6
	f.syy[0] = -3e6
	f.szz[0] = -3e6
	f.sxy[0] = 2e6

	// Frictionless, cohesionless material with dt = 1 so the softening is
	// plainly visible: f = tau and scale = 1 - f/tau = 0.
	p := simParams{dt: 1, sinPhi: 0, cosPhi: 1, cohesion: 0, plastic: true}
	mean := (f.sxx[0] + f.syy[0] + f.szz[0]) / 3

	applyPlasticReturn(0, f, p)

	tol := 1e-6
	if math.Abs(f.sxx[0]-mean) > tol || math.Abs(f.syy[0]-mean) > tol || math.Abs(f.szz[0]-mean) > tol {
		t.Errorf("deviatoric part not removed: normal stresses %g %g %g, mean %g", f.sxx[0], f.syy[0], f.szz[0], mean)
	}
	if math.Abs(f.sxy[0]) > tol {
		t.Errorf("shear stress not removed: %g", f.sxy[0])
	}
}

func TestPlasticReturnBelowYieldIsNoOp(t *testing.T) {
	f := newFieldState(1)
	f.sxx[0] = 1e5
	f.syy[0] = -1e5
	p := simParams{dt: 1, sinPhi: 0.5, cosPhi: math.Sqrt(3) / 2, cohesion: 1e9, plastic: true}

	before := [3]float64{f.sxx[0], f.syy[0], f.szz[0]}
	applyPlasticReturn(0, f, p)
	after := [3]float64{f.sxx[0], f.syy[0], f.szz[0]}
	if before != after {
		t.Errorf("stress changed below yield: %v -> %v", before, after)
	}
}

func TestTensileDamageAccumulates(t *testing.T) {
	f := newFieldState(1)
	f.sxx[0] = 3e6
	f.syy[0] = 3e6
	f.szz[0] = 3e6
	p := simParams{brittle: true, tensile: 1e6}

	applyTensileDamage(0, f, p)
	d1 := f.damage[0]
	if d1 <= 0 || d1 > 1 {
		t.Fatalf("damage after first excess = %g, want in (0, 1]", d1)
	}
	// (sigma_max - T)/T = 2, so the increment is 2*damageGain.
	want := 2 * damageGain
	if math.Abs(d1-want) > 1e-12 {
		t.Errorf("damage increment = %g, want %g", d1, want)
	}
	if got := f.sxx[0]; math.Abs(got-3e6*(1-d1)) > 1e-6 {
		t.Errorf("stress not degraded by (1-D): %g", got)
	}

	// Keep re-stressing: damage must never decrease and must cap at 1.
	prev := d1
	for i := 0; i < 200; i++ {
		f.sxx[0], f.syy[0], f.szz[0] = 3e6, 3e6, 3e6
		applyTensileDamage(0, f, p)
		d := f.damage[0]
		if d < prev {
			t.Fatalf("damage decreased from %g to %g", prev, d)
		}
		prev = d
	}
	if prev > 1 {
		t.Errorf("damage exceeded 1: %g", prev)
	}
}

func TestTensileDamageBelowStrengthIsNoOp(t *testing.T) {
	f := newFieldState(1)
	f.sxx[0] = 5e5
	p := simParams{brittle: true, tensile: 1e6}
	applyTensileDamage(0, f, p)
	if f.damage[0] != 0 {
		t.Errorf("damage accumulated below tensile strength: %g", f.damage[0])
	}
	if f.sxx[0] != 5e5 {
		t.Errorf("stress modified below tensile strength: %g", f.sxx[0])
	}
}

func TestLameParameters(t *testing.T) {
	lambda, mu, err := lameParameters(1e10, 0.25)
	if err != nil {
		t.Fatalf("lameParameters: %v", err)
	}
	if math.Abs(lambda-4e9) > 1e3 || math.Abs(mu-4e9) > 1e3 {
		t.Errorf("lambda = %g, mu = %g, want 4e9 both", lambda, mu)
	}
	for _, nu := range []float64{0.5, 0.7, -1, -2} {
		if _, _, err := lameParameters(1e10, nu); err == nil {
			t.Errorf("lameParameters accepted Poisson ratio %g", nu)
		}
	}
	if _, _, err := lameParameters(-1, 0.25); err == nil {
		t.Error("lameParameters accepted negative Young's modulus")
	}
}

func TestDerivedTimeStepBounds(t *testing.T) {
	cfg := DefaultConfig()
	g, _ := newGrid(cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ, cfg.Grid.VoxelSize)
	vol := homogeneousVolume(g, 2500)
	p, err := deriveParams(cfg, vol)
	if err != nil {
		t.Fatalf("deriveParams: %v", err)
	}
	vpMax := pWaveSpeed(p.lambda0, p.mu0, vol.rhoMin)
	if p.dt > courantLimit*p.dx/vpMax+1e-18 {
		t.Errorf("dt %g violates Courant bound %g", p.dt, courantLimit*p.dx/vpMax)
	}
	if p.dt > 1/(nyquistOversample*p.frequencyHz)+1e-18 {
		t.Errorf("dt %g violates Nyquist bound %g", p.dt, 1/(nyquistOversample*p.frequencyHz))
	}
}

func TestSourceFrequencyFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.FrequencyKHz = 0.1
	g, _ := newGrid(cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ, cfg.Grid.VoxelSize)
	vol := homogeneousVolume(g, 2500)
	p, err := deriveParams(cfg, vol)
	if err != nil {
		t.Fatalf("deriveParams: %v", err)
	}
	if p.frequencyHz != minSourceFreqHz {
		t.Errorf("frequency floored to %g Hz, want %g", p.frequencyHz, minSourceFreqHz)
	}
}
