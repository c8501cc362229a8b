package main

import "math"

// sourceMagnitude converts the configured source energy and dimensionless
// amplitude into the stress pulse injected at the transducer.
func sourceMagnitude(amplitude, energy float64) float64 {
	return amplitude * math.Sqrt(energy)
}

// sourceModel places the transducer and receiver on the grid. Axis selection
// chooses the two opposing face centers; explicit overrides win.
type sourceModel struct {
	axis       propagationAxis
	transducer [3]int
	receiver   [3]int
}

func newSourceModel(g grid, a propagationAxis) sourceModel {
	t, r := g.facePair(a)
	return sourceModel{axis: a, transducer: t, receiver: r}
}

// distance returns the straight-line transducer-receiver separation in
// physical units.
func (s sourceModel) distance(dx float64) float64 {
	ddx := float64(s.receiver[0] - s.transducer[0])
	ddy := float64(s.receiver[1] - s.transducer[1])
	ddz := float64(s.receiver[2] - s.transducer[2])
	return dx * math.Sqrt(ddx*ddx+ddy*ddy+ddz*ddz)
}

// receiverMonitor tracks the receiver cell across the run: first arrival of
// measurable velocity and the kinetic-energy auto-stop criterion. The
// criterion is evaluated every checkInterval steps once minSteps have
// elapsed: after the energy has fallen below peakFraction of its running
// maximum the signal is considered past its peak, and once it further decays
// below stopFraction of the maximum the run can stop.
type receiverMonitor struct {
	rho float64

	enabled       bool
	checkInterval int
	minSteps      int
	peakFraction  float64
	stopFraction  float64

	touched   bool
	touchStep int

	maxEnergy float64
	peaked    bool
}

func newReceiverMonitor(rho float64, rc RunConfig) *receiverMonitor {
	minSteps := rc.TotalSteps / 10
	if minSteps < rc.MinStepFloor {
		minSteps = rc.MinStepFloor
	}
	return &receiverMonitor{
		rho:           rho,
		enabled:       rc.AutoStop,
		checkInterval: rc.CheckInterval,
		minSteps:      minSteps,
		peakFraction:  rc.PeakFraction,
		stopFraction:  rc.StopFraction,
	}
}

// observe records one step's receiver velocity and reports whether the
// energy criterion says the run is finished.
func (m *receiverMonitor) observe(step int, vx, vy, vz float64) (stop bool) {
	speed2 := vx*vx + vy*vy + vz*vz
	if !m.touched && speed2 >= arrivalThreshold*arrivalThreshold {
		m.touched = true
		m.touchStep = step
	}
	if !m.enabled || step < m.minSteps || step%m.checkInterval != 0 {
		return false
	}
	energy := 0.5 * m.rho * speed2
	if energy > m.maxEnergy {
		m.maxEnergy = energy
	}
	if m.maxEnergy == 0 {
		return false
	}
	if !m.peaked && energy < m.peakFraction*m.maxEnergy {
		m.peaked = true
	}
	return m.peaked && energy < m.stopFraction*m.maxEnergy
}
