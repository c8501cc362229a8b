package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	flag.Parse()

	cfg := DefaultConfig()
	if *configFlag != "" {
		loaded, err := LoadConfig(*configFlag)
		if err != nil {
			log.Fatalf("loading scenario: %v", err)
		}
		cfg = loaded
	}
	if *stepsFlag > 0 {
		cfg.Run.TotalSteps = *stepsFlag
	}
	if *axisFlag != "" {
		cfg.Source.Axis = *axisFlag
	}
	if *traceFlag != "" {
		cfg.Run.TracePath = *traceFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid scenario: %v", err)
	}

	labels, density, err := loadVolumes(cfg)
	if err != nil {
		log.Fatalf("loading volumes: %v", err)
	}

	sim, err := NewSimulation(cfg, labels, density, *deviceFlag)
	if err != nil {
		if *deviceFlag {
			log.Printf("device backend unavailable (%v), falling back to CPU", err)
			sim, err = NewSimulation(cfg, labels, density, false)
		}
		if err != nil {
			log.Fatalf("constructing simulation: %v", err)
		}
	}
	defer sim.Close()

	p := sim.Params()
	log.Printf("backend: %s", sim.DeviceName())
	log.Printf("grid %dx%dx%d, dx=%g m, dt=%.3e s, %d steps budgeted",
		cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ, p.dx, p.dt, cfg.Run.TotalSteps)
	log.Printf("transducer %v -> receiver %v along %s (%s wave)",
		sim.Transducer(), sim.Receiver(), cfg.Source.Axis, cfg.Source.WaveType)

	sim.OnProgress = func(pr Progress) {
		log.Printf("%s: step %d (%.1f%%)", pr.Phase, pr.Step, pr.Percent)
	}
	sim.OnCompleted = func(sum Summary) {
		log.Printf("run stopped after %d steps (%s)", sum.TotalSteps, sum.Reason)
		if sum.Err != nil {
			log.Printf("failure: %v", sum.Err)
			return
		}
		log.Printf("distance %.4f m, Vp %.1f m/s, Vs %.1f m/s, Vp/Vs %.3f", sum.Distance, sum.Vp, sum.Vs, sum.VpVsRatio)
		log.Printf("P arrival: step %d observed, step %d theoretical; S arrival: step %d", sum.PArrivalStep, sum.PTheoryStep, sum.SArrivalStep)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sim.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}

	if cfg.Run.TracePath != "" && sim.Trace() != nil {
		if err := sim.Trace().writeCSV(cfg.Run.TracePath); err != nil {
			log.Fatalf("writing trace: %v", err)
		}
		log.Printf("receiver waveform written to %s", cfg.Run.TracePath)
	}
}

// loadVolumes reads the raw label and density files, or synthesizes the
// homogeneous benchmark cube when no files are given. Persistent volume
// storage proper lives in the acquisition pipeline; this is CLI glue for
// standalone runs.
func loadVolumes(cfg *Config) ([]uint8, []float32, error) {
	n := cfg.Grid.NX * cfg.Grid.NY * cfg.Grid.NZ
	if *labelsFlag == "" && *densityFlag == "" {
		g, err := newGrid(cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ, cfg.Grid.VoxelSize)
		if err != nil {
			return nil, nil, err
		}
		vol := homogeneousVolume(g, *densityValueFlag)
		return vol.labels, vol.density, nil
	}
	if *labelsFlag == "" || *densityFlag == "" {
		return nil, nil, fmt.Errorf("label and density volumes must both be given")
	}

	labels, err := os.ReadFile(*labelsFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("reading labels: %w", err)
	}
	if len(labels) != n {
		return nil, nil, fmt.Errorf("label volume is %d bytes, grid needs %d", len(labels), n)
	}

	raw, err := os.ReadFile(*densityFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("reading density: %w", err)
	}
	if len(raw) != 4*n {
		return nil, nil, fmt.Errorf("density volume is %d bytes, grid needs %d", len(raw), 4*n)
	}
	density := make([]float32, n)
	for i := range density {
		bits := binary.LittleEndian.Uint32(raw[4*i:])
		density[i] = math.Float32frombits(bits)
	}
	return labels, density, nil
}
