package main

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
)

// traceSample is one receiver observation. The CSV layout matches the
// columns the plotting tooling expects.
type traceSample struct {
	Step          int     `csv:"step"`
	TimeSec       float64 `csv:"time_s"`
	VX            float64 `csv:"vx"`
	VY            float64 `csv:"vy"`
	VZ            float64 `csv:"vz"`
	KineticEnergy float64 `csv:"kinetic_energy"`
}

// traceRecorder accumulates the receiver waveform over a run for later CSV
// export. One sample per completed step, bounded by the step budget.
type traceRecorder struct {
	dt      float64
	rho     float64
	samples []traceSample
}

func newTraceRecorder(dt, rho float64, capacityHint int) *traceRecorder {
	return &traceRecorder{
		dt:      dt,
		rho:     rho,
		samples: make([]traceSample, 0, capacityHint),
	}
}

// record appends one receiver observation.
func (t *traceRecorder) record(step int, vx, vy, vz float64) {
	t.samples = append(t.samples, traceSample{
		Step:          step,
		TimeSec:       float64(step) * t.dt,
		VX:            vx,
		VY:            vy,
		VZ:            vz,
		KineticEnergy: 0.5 * t.rho * (vx*vx + vy*vy + vz*vz),
	})
}

// resetSamples discards the recorded waveform, keeping the configuration.
func (t *traceRecorder) resetSamples() {
	t.samples = t.samples[:0]
}

// writeCSV writes the recorded waveform to path.
func (t *traceRecorder) writeCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating trace file %s: %w", path, err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&t.samples, f); err != nil {
		return fmt.Errorf("writing trace file %s: %w", path, err)
	}
	return nil
}
