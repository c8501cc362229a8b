package main

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Numerical constants governing the finite difference scheme and the
// constitutive corrections. The damage gain and plastic softening form are
// empirical calibration values; changing them changes simulation results.
const (
	courantLimit      = 0.4
	nyquistOversample = 20.0
	minSourceFreqHz   = 1000.0
	arrivalThreshold  = 1e-6
	damageGain        = 0.02
	plasticEpsilon    = 1e-20
	cubicEpsilon      = 1e-12

	progressInterval = 10
	// Progress is reported against this ceiling so the final readback and
	// summary phase still has visible headroom.
	progressHeadroom = 0.95

	defaultCheckInterval = 10
	defaultMinStepFloor  = 50
	defaultPeakFraction  = 0.5
	defaultStopFraction  = 0.01

	megapascal = 1e6
	kilohertz  = 1e3
)

// Config describes one simulation scenario. Stress-like quantities are given
// in MPa and the source frequency in kHz, matching the conventions of the
// acquisition tooling that produces the input volumes; deriveParams converts
// everything to SI once.
type Config struct {
	Grid     GridConfig     `yaml:"grid"`
	Material MaterialConfig `yaml:"material"`
	Source   SourceConfig   `yaml:"source"`
	Run      RunConfig      `yaml:"run"`
}

// GridConfig holds the voxel grid dimensions and physical spacing.
type GridConfig struct {
	NX        int     `yaml:"nx"`
	NY        int     `yaml:"ny"`
	NZ        int     `yaml:"nz"`
	VoxelSize float64 `yaml:"voxel_size"` // meters
}

// MaterialConfig holds the constitutive parameters of the selected material.
type MaterialConfig struct {
	SelectedID         uint8   `yaml:"selected_id"` // 0 selects every non-zero label
	YoungModulusMPa    float64 `yaml:"young_modulus_mpa"`
	PoissonRatio       float64 `yaml:"poisson_ratio"`
	TensileStrengthMPa float64 `yaml:"tensile_strength_mpa"`
	CohesionMPa        float64 `yaml:"cohesion_mpa"`
	FrictionAngleDeg   float64 `yaml:"friction_angle_deg"`
	ConfiningMPa       float64 `yaml:"confining_pressure_mpa"`
	Plasticity         bool    `yaml:"plasticity"`
	Brittle            bool    `yaml:"brittle"`
}

// SourceConfig holds the transducer excitation parameters. WaveType is
// informational only and is carried through to the summary log.
type SourceConfig struct {
	Axis         string  `yaml:"axis"` // "X", "Y" or "Z"
	WaveType     string  `yaml:"wave_type"`
	EnergyJ      float64 `yaml:"energy_j"`
	FrequencyKHz float64 `yaml:"frequency_khz"`
	Amplitude    float64 `yaml:"amplitude"`
	Transducer   []int   `yaml:"transducer"` // optional [x y z] override
	Receiver     []int   `yaml:"receiver"`   // optional [x y z] override
}

// RunConfig holds time stepping and auto-stop control.
type RunConfig struct {
	TotalSteps    int     `yaml:"total_steps"`
	AutoStop      bool    `yaml:"auto_stop"`
	CheckInterval int     `yaml:"check_interval"`
	MinStepFloor  int     `yaml:"min_step_floor"`
	PeakFraction  float64 `yaml:"peak_fraction"`
	StopFraction  float64 `yaml:"stop_fraction"`
	TracePath     string  `yaml:"trace_path"`
}

// DefaultConfig returns a scenario configured for the homogeneous benchmark
// cube.
func DefaultConfig() *Config {
	return &Config{
		Grid: GridConfig{NX: 64, NY: 64, NZ: 64, VoxelSize: 0.001},
		Material: MaterialConfig{
			YoungModulusMPa:    10000,
			PoissonRatio:       0.25,
			TensileStrengthMPa: 10,
			CohesionMPa:        30,
			FrictionAngleDeg:   30,
			ConfiningMPa:       0,
		},
		Source: SourceConfig{
			Axis:         "Z",
			WaveType:     "P",
			EnergyJ:      100,
			FrequencyKHz: 100,
			Amplitude:    1000,
		},
		Run: RunConfig{
			TotalSteps:    500,
			AutoStop:      true,
			CheckInterval: defaultCheckInterval,
			MinStepFloor:  defaultMinStepFloor,
			PeakFraction:  defaultPeakFraction,
			StopFraction:  defaultStopFraction,
		},
	}
}

// LoadConfig overlays a YAML scenario file onto the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a usable simulation.
func (c *Config) Validate() error {
	if c.Grid.NX < 3 || c.Grid.NY < 3 || c.Grid.NZ < 3 {
		return fmt.Errorf("grid dimensions %dx%dx%d: every axis needs at least 3 cells", c.Grid.NX, c.Grid.NY, c.Grid.NZ)
	}
	if c.Grid.VoxelSize <= 0 {
		return fmt.Errorf("voxel size must be positive, got %g", c.Grid.VoxelSize)
	}
	if c.Material.YoungModulusMPa <= 0 {
		return fmt.Errorf("Young's modulus must be positive, got %g MPa", c.Material.YoungModulusMPa)
	}
	nu := c.Material.PoissonRatio
	if nu <= -1 || nu >= 0.5 {
		return fmt.Errorf("Poisson ratio %g outside (-1, 0.5): Lame lambda undefined", nu)
	}
	if c.Material.Brittle && c.Material.TensileStrengthMPa < 0 {
		return fmt.Errorf("tensile strength must be non-negative, got %g MPa", c.Material.TensileStrengthMPa)
	}
	if c.Source.EnergyJ < 0 {
		return fmt.Errorf("source energy must be non-negative, got %g J", c.Source.EnergyJ)
	}
	if _, err := parseAxis(c.Source.Axis); err != nil {
		return err
	}
	for _, ovr := range [][]int{c.Source.Transducer, c.Source.Receiver} {
		if len(ovr) != 0 && len(ovr) != 3 {
			return fmt.Errorf("coordinate override must have exactly 3 components, got %d", len(ovr))
		}
	}
	if c.Run.TotalSteps <= 0 {
		return fmt.Errorf("total steps must be positive, got %d", c.Run.TotalSteps)
	}
	if c.Run.CheckInterval <= 0 || c.Run.MinStepFloor < 0 {
		return fmt.Errorf("invalid auto-stop cadence: interval %d, floor %d", c.Run.CheckInterval, c.Run.MinStepFloor)
	}
	if c.Run.PeakFraction <= 0 || c.Run.PeakFraction >= 1 || c.Run.StopFraction <= 0 || c.Run.StopFraction >= c.Run.PeakFraction {
		return fmt.Errorf("auto-stop fractions must satisfy 0 < stop < peak < 1, got peak %g stop %g", c.Run.PeakFraction, c.Run.StopFraction)
	}
	return nil
}

// simParams carries the SI-unit scalar constants consumed by the kernels.
// Immutable for the lifetime of a run.
type simParams struct {
	dx float64
	dt float64

	lambda0   float64
	mu0       float64
	tensile   float64
	cohesion  float64
	sinPhi    float64
	cosPhi    float64
	confining float64

	plastic bool
	brittle bool

	sourceMagnitude float64
	frequencyHz     float64
}

// lameParameters converts Young's modulus and Poisson ratio (SI units) into
// the Lame pair.
func lameParameters(young, nu float64) (lambda, mu float64, err error) {
	if young <= 0 {
		return 0, 0, fmt.Errorf("Young's modulus must be positive, got %g", young)
	}
	if nu <= -1 || nu >= 0.5 {
		return 0, 0, fmt.Errorf("Poisson ratio %g outside (-1, 0.5)", nu)
	}
	lambda = young * nu / ((1 + nu) * (1 - 2*nu))
	mu = young / (2 * (1 + nu))
	return lambda, mu, nil
}

// deriveParams computes the SI-unit kernel constants from the configuration
// and the material volume. The time step takes the tighter of the Courant
// bound and the source Nyquist bound.
func deriveParams(cfg *Config, vol *materialVolume) (simParams, error) {
	lambda, mu, err := lameParameters(cfg.Material.YoungModulusMPa*megapascal, cfg.Material.PoissonRatio)
	if err != nil {
		return simParams{}, err
	}
	freq := cfg.Source.FrequencyKHz * kilohertz
	if freq < minSourceFreqHz {
		freq = minSourceFreqHz
	}
	vpMax := math.Sqrt((lambda + 2*mu) / vol.rhoMin)
	dx := cfg.Grid.VoxelSize
	dtCourant := courantLimit * dx / vpMax
	dtNyquist := 1 / (nyquistOversample * freq)
	dt := math.Min(dtCourant, dtNyquist)

	phi := cfg.Material.FrictionAngleDeg * math.Pi / 180
	return simParams{
		dx:              dx,
		dt:              dt,
		lambda0:         lambda,
		mu0:             mu,
		tensile:         cfg.Material.TensileStrengthMPa * megapascal,
		cohesion:        cfg.Material.CohesionMPa * megapascal,
		sinPhi:          math.Sin(phi),
		cosPhi:          math.Cos(phi),
		confining:       cfg.Material.ConfiningMPa * megapascal,
		plastic:         cfg.Material.Plasticity,
		brittle:         cfg.Material.Brittle,
		sourceMagnitude: sourceMagnitude(cfg.Source.Amplitude, cfg.Source.EnergyJ),
		frequencyHz:     freq,
	}, nil
}
