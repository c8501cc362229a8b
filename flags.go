package main

import "flag"

// Command-line flags controlling scenario selection and runtime behavior.
var (
	// configFlag points at a YAML scenario file; defaults apply when empty.
	configFlag = flag.String("config", "", "path to a YAML scenario file")

	// labelsFlag points at a raw uint8 label volume (nx*ny*nz bytes).
	labelsFlag = flag.String("labels", "", "path to a raw label volume")

	// densityFlag points at a raw little-endian float32 density volume.
	densityFlag = flag.String("density", "", "path to a raw density volume (kg/m3)")

	// densityValueFlag sets the uniform density of the synthetic benchmark
	// cube used when no volumes are given.
	densityValueFlag = flag.Float64("benchmark-density", 2500, "uniform density for the synthetic benchmark cube (kg/m3)")

	// stepsFlag overrides the configured step budget when positive.
	stepsFlag = flag.Int("steps", 0, "override the configured total time steps")

	// axisFlag overrides the configured propagation axis when non-empty.
	axisFlag = flag.String("axis", "", "override the propagation axis (X, Y or Z)")

	// deviceFlag runs the kernels on an OpenCL device instead of the CPU
	// worker pool. Requires a binary built with -tags opencl.
	deviceFlag = flag.Bool("device", false, "execute kernels on an OpenCL device")

	// traceFlag writes the receiver waveform to a CSV file after the run.
	traceFlag = flag.String("trace", "", "write the receiver waveform CSV to this path")
)
