package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTraceRecorder(t *testing.T) {
	rec := newTraceRecorder(1e-7, 2500, 8)
	rec.record(1, 1e-3, 0, 0)
	rec.record(2, 0, 2e-3, 0)
	rec.record(3, 1e-3, 1e-3, 1e-3)

	if len(rec.samples) != 3 {
		t.Fatalf("recorded %d samples, want 3", len(rec.samples))
	}
	first := rec.samples[0]
	if first.Step != 1 || math.Abs(first.TimeSec-1e-7) > 1e-20 {
		t.Errorf("first sample step/time = %d/%g", first.Step, first.TimeSec)
	}
	wantKE := 0.5 * 2500 * 1e-6
	if math.Abs(first.KineticEnergy-wantKE) > 1e-12 {
		t.Errorf("kinetic energy = %g, want %g", first.KineticEnergy, wantKE)
	}

	rec.resetSamples()
	if len(rec.samples) != 0 {
		t.Errorf("resetSamples left %d samples", len(rec.samples))
	}
}

func TestTraceRecorderWritesCSV(t *testing.T) {
	rec := newTraceRecorder(1e-7, 2500, 4)
	rec.record(1, 1e-3, 0, 0)
	rec.record(2, 2e-3, 0, 0)

	path := filepath.Join(t.TempDir(), "trace.csv")
	if err := rec.writeCSV(path); err != nil {
		t.Fatalf("writeCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading trace: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("trace has %d lines, want header plus 2 samples", len(lines))
	}
	if !strings.Contains(lines[0], "kinetic_energy") {
		t.Errorf("header missing expected column: %q", lines[0])
	}
}
