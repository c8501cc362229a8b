package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// runState tracks where the controller is in its lifecycle.
type runState int

const (
	stateNotStarted runState = iota
	statePriming
	stateRunning
	stateStopped
)

// StopReason records why a run terminated.
type StopReason int

const (
	StopNone StopReason = iota
	StopMaxSteps
	StopEnergyCriterion
	StopCancelled
	StopFailed
)

func (r StopReason) String() string {
	switch r {
	case StopMaxSteps:
		return "max steps"
	case StopEnergyCriterion:
		return "energy criterion"
	case StopCancelled:
		return "cancelled"
	case StopFailed:
		return "failed"
	}
	return "none"
}

// Progress is delivered to the progress callback at a throttled cadence.
type Progress struct {
	Percent float64
	Step    int
	Phase   string
}

// Summary is delivered exactly once when a run reaches a terminal state.
type Summary struct {
	Vp        float64
	Vs        float64
	VpVsRatio float64
	Distance  float64

	// PArrivalStep is the observed first-arrival step at the receiver, or
	// the theoretical estimate when the receiver was never touched.
	PArrivalStep int
	PTheoryStep  int
	SArrivalStep int

	TotalSteps int
	Reason     StopReason
	Err        error
}

var errAlreadyStarted = errors.New("simulation already started")

// Simulation owns the solver backend and drives the leapfrog time stepping:
// source priming, the stress/velocity kernel pair per step, arrival and
// energy monitoring, and progress/completion notification.
//
// OnProgress and OnCompleted are invoked from the run goroutine and must not
// block; assign them before calling Start or Run.
type Simulation struct {
	g      grid
	vol    *materialVolume
	params simParams
	solver waveSolver

	source     sourceModel
	monitor    *receiverMonitor
	totalSteps int

	trace *traceRecorder

	OnProgress  func(Progress)
	OnCompleted func(Summary)

	mu       sync.Mutex
	state    runState
	reason   StopReason
	step     int
	cancelFn context.CancelFunc
	done     chan struct{}

	completeOnce sync.Once
}

// NewSimulation validates the configuration and volumes, derives the run
// parameters, and allocates the solver backend. On any failure the returned
// error is final: no partially constructed simulation leaks resources.
func NewSimulation(cfg *Config, labels []uint8, density []float32, useDevice bool) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, err := newGrid(cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ, cfg.Grid.VoxelSize)
	if err != nil {
		return nil, err
	}
	vol, err := newMaterialVolume(g, labels, density, cfg.Material.SelectedID)
	if err != nil {
		return nil, err
	}
	params, err := deriveParams(cfg, vol)
	if err != nil {
		return nil, err
	}
	axis, err := parseAxis(cfg.Source.Axis)
	if err != nil {
		return nil, err
	}
	src := newSourceModel(g, axis)
	if len(cfg.Source.Transducer) == 3 {
		src.transducer = [3]int{cfg.Source.Transducer[0], cfg.Source.Transducer[1], cfg.Source.Transducer[2]}
	}
	if len(cfg.Source.Receiver) == 3 {
		src.receiver = [3]int{cfg.Source.Receiver[0], cfg.Source.Receiver[1], cfg.Source.Receiver[2]}
	}
	for _, c := range [][3]int{src.transducer, src.receiver} {
		if !g.contains(c[0], c[1], c[2]) {
			return nil, fmt.Errorf("transducer/receiver cell (%d,%d,%d) outside %dx%dx%d grid", c[0], c[1], c[2], g.nx, g.ny, g.nz)
		}
	}

	solver, err := newSolver(g, vol, params, useDevice)
	if err != nil {
		return nil, err
	}

	rIdx := g.index(src.receiver[0], src.receiver[1], src.receiver[2])
	s := &Simulation{
		g:          g,
		vol:        vol,
		params:     params,
		solver:     solver,
		source:     src,
		monitor:    newReceiverMonitor(float64(vol.density[rIdx]), cfg.Run),
		totalSteps: cfg.Run.TotalSteps,
		done:       make(chan struct{}),
	}
	if cfg.Run.TracePath != "" {
		s.trace = newTraceRecorder(params.dt, float64(vol.density[rIdx]), cfg.Run.TotalSteps)
	}
	return s, nil
}

// Params exposes the derived run constants (dt, Lame moduli, source
// magnitude) for logging and tests.
func (s *Simulation) Params() simParams { return s.params }

// Transducer returns the source cell coordinates.
func (s *Simulation) Transducer() [3]int { return s.source.transducer }

// Receiver returns the receiver cell coordinates.
func (s *Simulation) Receiver() [3]int { return s.source.receiver }

// DeviceName reports the backend executing the kernels.
func (s *Simulation) DeviceName() string { return s.solver.DeviceName() }

// SetTotalSteps changes the step budget. Only legal before the run starts.
func (s *Simulation) SetTotalSteps(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNotStarted {
		return errAlreadyStarted
	}
	if n <= 0 {
		return fmt.Errorf("total steps must be positive, got %d", n)
	}
	s.totalSteps = n
	s.monitor.minSteps = max(defaultMinStepFloor, n/10)
	return nil
}

// SetAutoStop reconfigures the receiver energy criterion. Only legal before
// the run starts. Receiver coordinates outside the grid are rejected.
func (s *Simulation) SetAutoStop(receiver [3]int, enabled bool, stopFraction float64, checkInterval, minStepFloor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNotStarted {
		return errAlreadyStarted
	}
	if !s.g.contains(receiver[0], receiver[1], receiver[2]) {
		return fmt.Errorf("receiver cell (%d,%d,%d) outside grid", receiver[0], receiver[1], receiver[2])
	}
	if stopFraction <= 0 || stopFraction >= 1 {
		return fmt.Errorf("stop fraction must be in (0, 1), got %g", stopFraction)
	}
	if checkInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %d", checkInterval)
	}
	s.source.receiver = receiver
	rIdx := s.g.index(receiver[0], receiver[1], receiver[2])
	s.monitor.rho = float64(s.vol.density[rIdx])
	s.monitor.enabled = enabled
	s.monitor.stopFraction = stopFraction
	s.monitor.checkInterval = checkInterval
	s.monitor.minSteps = max(minStepFloor, s.totalSteps/10)
	return nil
}

// Start launches the run on a background goroutine and returns immediately.
// Completion is reported through OnCompleted.
func (s *Simulation) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateNotStarted {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.state = statePriming
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Cancel requests cooperative termination of a run started with Start. The
// loop exits within one step.
func (s *Simulation) Cancel() {
	s.mu.Lock()
	cancel := s.cancelFn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until a run started with Start reaches a terminal state.
func (s *Simulation) Wait() {
	<-s.done
}

// Run executes the time stepping loop on the calling goroutine until the step
// budget, the energy criterion, a cancellation, or a solver failure ends it.
func (s *Simulation) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateStopped || s.state == stateRunning {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.state = statePriming
	s.mu.Unlock()
	s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == StopFailed {
		return fmt.Errorf("simulation failed at step %d", s.step)
	}
	return nil
}

func (s *Simulation) run(ctx context.Context) {
	tIdx := s.g.index(s.source.transducer[0], s.source.transducer[1], s.source.transducer[2])
	rIdx := s.g.index(s.source.receiver[0], s.source.receiver[1], s.source.receiver[2])

	// Prime: impulsive isotropic stress pulse at the transducer.
	if err := s.solver.InjectPulse(tIdx, s.params.sourceMagnitude); err != nil {
		s.finish(StopFailed, err)
		return
	}
	s.setState(stateRunning)
	s.notifyProgress("priming")

	for {
		s.mu.Lock()
		step, total := s.step, s.totalSteps
		s.mu.Unlock()
		if step >= total {
			s.finish(StopMaxSteps, nil)
			return
		}
		select {
		case <-ctx.Done():
			// Cancellation leaves the fields consistent through the
			// last completed step, then releases the backend.
			s.solver.Close()
			s.finish(StopCancelled, nil)
			return
		default:
		}

		if err := s.solver.Step(); err != nil {
			s.solver.Close()
			s.finish(StopFailed, err)
			return
		}
		s.mu.Lock()
		s.step++
		step = s.step
		s.mu.Unlock()

		vx, vy, vz, err := s.solver.ProbeVelocity(rIdx)
		if err != nil {
			s.solver.Close()
			s.finish(StopFailed, err)
			return
		}
		if s.trace != nil {
			s.trace.record(step, vx, vy, vz)
		}
		if s.monitor.observe(step, vx, vy, vz) {
			s.finish(StopEnergyCriterion, nil)
			return
		}
		if step%progressInterval == 0 {
			s.notifyProgress("propagating")
		}
	}
}

func (s *Simulation) setState(st runState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Simulation) notifyProgress(phase string) {
	cb := s.OnProgress
	if cb == nil {
		return
	}
	s.mu.Lock()
	step, total := s.step, s.totalSteps
	s.mu.Unlock()
	pct := 100 * progressHeadroom * float64(step) / float64(total)
	cb(Progress{Percent: pct, Step: step, Phase: phase})
}

// finish moves to the terminal state and fires the completion callback
// exactly once.
func (s *Simulation) finish(reason StopReason, err error) {
	s.completeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateStopped
		s.reason = reason
		steps := s.step
		s.mu.Unlock()

		summary := s.summarize(steps, reason, err)
		if cb := s.OnCompleted; cb != nil {
			cb(summary)
		}
		close(s.done)
	})
}

// summarize derives the velocity report from the bulk moduli, the mean
// active density, and the observed receiver arrival.
func (s *Simulation) summarize(steps int, reason StopReason, err error) Summary {
	vp := pWaveSpeed(s.params.lambda0, s.params.mu0, s.vol.rhoMean)
	vs := sWaveSpeed(s.params.mu0, s.vol.rhoMean)
	dist := s.source.distance(s.params.dx)

	pTheory := int(math.Round(dist / vp / s.params.dt))
	sTheory := int(math.Round(dist / vs / s.params.dt))
	pObserved := pTheory
	if s.monitor.touched {
		pObserved = s.monitor.touchStep
	}
	ratio := 0.0
	if vs > 0 {
		ratio = vp / vs
	}
	return Summary{
		Vp:           vp,
		Vs:           vs,
		VpVsRatio:    ratio,
		Distance:     dist,
		PArrivalStep: pObserved,
		PTheoryStep:  pTheory,
		SArrivalStep: sTheory,
		TotalSteps:   steps,
		Reason:       reason,
		Err:          err,
	}
}

// Reset zeroes the mutable fields so the same geometry can be re-run. Only
// legal when no run is in flight.
func (s *Simulation) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == statePriming || s.state == stateRunning {
		return errors.New("cannot reset while a run is in flight")
	}
	if err := s.solver.Reset(); err != nil {
		return err
	}
	s.state = stateNotStarted
	s.reason = StopNone
	s.step = 0
	s.monitor.touched = false
	s.monitor.touchStep = 0
	s.monitor.maxEnergy = 0
	s.monitor.peaked = false
	if s.trace != nil {
		s.trace.resetSamples()
	}
	s.completeOnce = sync.Once{}
	s.done = make(chan struct{})
	return nil
}

// VelocityField reads the velocity components back from the solver. Only
// valid between steps or after the run has stopped.
func (s *Simulation) VelocityField() (vx, vy, vz []float64, err error) {
	return s.solver.ReadVelocity()
}

// StressField reads the six stress components back from the solver.
func (s *Simulation) StressField() ([6][]float64, error) {
	return s.solver.ReadStress()
}

// DamageField reads the damage scalar back from the solver.
func (s *Simulation) DamageField() ([]float64, error) {
	return s.solver.ReadDamage()
}

// Trace returns the recorded receiver samples, if tracing was enabled.
func (s *Simulation) Trace() *traceRecorder { return s.trace }

// Steps returns the number of completed steps.
func (s *Simulation) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Close releases the solver backend. Idempotent.
func (s *Simulation) Close() {
	s.solver.Close()
}
