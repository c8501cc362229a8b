//go:build opencl

package main

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

// elastKernelSource holds both device kernels. The math must stay in
// lockstep with updateStressCell and updateVelocityCell in the CPU path;
// the verification test compares the two backends cell for cell.
const elastKernelSource = `#pragma OPENCL EXTENSION cl_khr_fp64 : enable

double max_principal_stress(double sxx, double syy, double szz,
                            double sxy, double sxz, double syz)
{
    double i1 = sxx + syy + szz;
    double i2 = sxx*syy + syy*szz + szz*sxx - sxy*sxy - sxz*sxz - syz*syz;
    double i3 = sxx*(syy*szz - syz*syz) - sxy*(sxy*szz - syz*sxz) + sxz*(sxy*syz - syy*sxz);

    double shift = i1 / 3.0;
    double pp = i2 - i1*i1/3.0;
    double qq = -2.0*i1*i1*i1/27.0 + i1*i2/3.0 - i3;

    double scale = 1.0 + fabs(i1)*fabs(i1);
    if (fabs(pp) <= 1e-12*scale) {
        if (fabs(qq) <= 1e-12*scale*(fabs(i1)+1.0)) {
            return shift;
        }
        return cbrt(-qq) + shift;
    }
    double disc = qq*qq/4.0 + pp*pp*pp/27.0;
    if (disc < 0.0) {
        double m = 2.0*sqrt(-pp/3.0);
        double arg = 3.0*qq/(pp*m);
        arg = clamp(arg, -1.0, 1.0);
        return m*cos(acos(arg)/3.0) + shift;
    }
    double sq = sqrt(disc);
    return cbrt(-qq/2.0 + sq) + cbrt(-qq/2.0 - sq) + shift;
}

__kernel void stress_step(
    const int nx, const int ny, const int nz,
    const float dx, const float dt,
    const float lambda0, const float mu0,
    const float tensile, const float cohesion,
    const float sin_phi, const float cos_phi,
    const float confining,
    const int plastic, const int brittle,
    __global const uchar* label,
    __global const double* vx,
    __global const double* vy,
    __global const double* vz,
    __global double* sxx,
    __global double* syy,
    __global double* szz,
    __global double* sxy,
    __global double* sxz,
    __global double* syz,
    __global double* damage)
{
    int idx = get_global_id(0);
    int plane = nx*ny;
    int size = plane*nz;
    if (idx >= size || label[idx] == 0) {
        return;
    }
    int z = idx / plane;
    int rem = idx - z*plane;
    int y = rem / nx;
    int x = rem - y*nx;
    if (x <= 0 || x >= nx-1 || y <= 0 || y >= ny-1 || z <= 0 || z >= nz-1) {
        return;
    }

    int sX = 1;
    int sY = nx;
    int sZ = plane;
    double inv2dx = 1.0 / (2.0 * (double)dx);
    double dtd = (double)dt;

    double dvxdx = (vx[idx+sX] - vx[idx-sX]) * inv2dx;
    double dvxdy = (vx[idx+sY] - vx[idx-sY]) * inv2dx;
    double dvxdz = (vx[idx+sZ] - vx[idx-sZ]) * inv2dx;
    double dvydx = (vy[idx+sX] - vy[idx-sX]) * inv2dx;
    double dvydy = (vy[idx+sY] - vy[idx-sY]) * inv2dx;
    double dvydz = (vy[idx+sZ] - vy[idx-sZ]) * inv2dx;
    double dvzdx = (vz[idx+sX] - vz[idx-sX]) * inv2dx;
    double dvzdy = (vz[idx+sY] - vz[idx-sY]) * inv2dx;
    double dvzdz = (vz[idx+sZ] - vz[idx-sZ]) * inv2dx;

    double theta = dvxdx + dvydy + dvzdz;

    double intact = 1.0;
    if (brittle != 0) {
        intact = 1.0 - damage[idx];
    }
    double le = intact * (double)lambda0;
    double me = intact * (double)mu0;

    double txx = sxx[idx] + dtd*(le*theta + 2.0*me*dvxdx);
    double tyy = syy[idx] + dtd*(le*theta + 2.0*me*dvydy);
    double tzz = szz[idx] + dtd*(le*theta + 2.0*me*dvzdz);
    double txy = sxy[idx] + dtd*me*(dvxdy + dvydx);
    double txz = sxz[idx] + dtd*me*(dvxdz + dvzdx);
    double tyz = syz[idx] + dtd*me*(dvydz + dvzdy);

    if (plastic != 0) {
        double mean = (txx + tyy + tzz) / 3.0;
        double pm = mean - (double)confining;
        double dxx = txx - mean;
        double dyy = tyy - mean;
        double dzz = tzz - mean;
        double j2 = 0.5*(dxx*dxx + dyy*dyy + dzz*dzz) + txy*txy + txz*txz + tyz*tyz;
        double tau = sqrt(j2);
        double yield = tau - pm*(double)sin_phi - (double)cohesion*(double)cos_phi;
        if (yield > 0.0) {
            double s = 1.0 - dtd*yield/(tau + 1e-20);
            s = fmax(s, 0.0);
            txx = dxx*s + mean;
            tyy = dyy*s + mean;
            tzz = dzz*s + mean;
            txy *= s;
            txz *= s;
            tyz *= s;
        }
    }

    if (brittle != 0) {
        double d = damage[idx];
        if (d < 1.0) {
            double sig_max = max_principal_stress(txx, tyy, tzz, txy, txz, tyz);
            double tens = (double)tensile;
            if (sig_max > tens) {
                double excess;
                if (tens > 0.0) {
                    excess = (sig_max - tens) / tens;
                } else {
                    excess = 1.0 / 0.02;
                }
                d = fmin(1.0, d + 0.02*excess);
                damage[idx] = d;
                double keep = 1.0 - d;
                txx *= keep;
                tyy *= keep;
                tzz *= keep;
                txy *= keep;
                txz *= keep;
                tyz *= keep;
            }
        }
    }

    sxx[idx] = txx;
    syy[idx] = tyy;
    szz[idx] = tzz;
    sxy[idx] = txy;
    sxz[idx] = txz;
    syz[idx] = tyz;
}

__kernel void velocity_step(
    const int nx, const int ny, const int nz,
    const float dx, const float dt,
    __global const uchar* label,
    __global const float* density,
    __global double* vx,
    __global double* vy,
    __global double* vz,
    __global const double* sxx,
    __global const double* syy,
    __global const double* szz,
    __global const double* sxy,
    __global const double* sxz,
    __global const double* syz)
{
    int idx = get_global_id(0);
    int plane = nx*ny;
    int size = plane*nz;
    if (idx >= size || label[idx] == 0) {
        return;
    }
    int z = idx / plane;
    int rem = idx - z*plane;
    int y = rem / nx;
    int x = rem - y*nx;
    if (x <= 0 || x >= nx-1 || y <= 0 || y >= ny-1 || z <= 0 || z >= nz-1) {
        return;
    }

    int sX = 1;
    int sY = nx;
    int sZ = plane;
    double rho = (double)density[idx];
    double scale = (double)dt / ((double)dx * rho);

    vx[idx] += scale * ((sxx[idx+sX] - sxx[idx]) + (sxy[idx+sY] - sxy[idx]) + (sxz[idx+sZ] - sxz[idx]));
    vy[idx] += scale * ((sxy[idx+sX] - sxy[idx]) + (syy[idx+sY] - syy[idx]) + (syz[idx+sZ] - syz[idx]));
    vz[idx] += scale * ((sxz[idx+sX] - sxz[idx]) + (syz[idx+sY] - syz[idx]) + (szz[idx+sZ] - szz[idx]));
}`

// deviceBuffers owns every device-resident array of the simulation. The
// label and density buffers are read-only after upload; the field buffers
// are the mutable state.
type deviceBuffers struct {
	label   *cl.MemObject
	density *cl.MemObject

	vx, vy, vz    *cl.MemObject
	sxx, syy, szz *cl.MemObject
	sxy, sxz, syz *cl.MemObject
	damage        *cl.MemObject
}

// fieldBuffers lists the mutable buffers in the canonical order: velocity,
// stress, damage.
func (b *deviceBuffers) fieldBuffers() []*cl.MemObject {
	return []*cl.MemObject{b.vx, b.vy, b.vz, b.sxx, b.syy, b.szz, b.sxy, b.sxz, b.syz, b.damage}
}

// release frees every device allocation. Idempotent.
func (b *deviceBuffers) release() {
	for _, buf := range []**cl.MemObject{
		&b.label, &b.density,
		&b.vx, &b.vy, &b.vz,
		&b.sxx, &b.syy, &b.szz,
		&b.sxy, &b.sxz, &b.syz,
		&b.damage,
	} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}

// openCLSolver executes the kernel pair on an OpenCL device. The program is
// compiled and the kernel arguments bound once at construction; each Step
// only enqueues the two dispatches and synchronizes.
type openCLSolver struct {
	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program

	stressKernel   *cl.Kernel
	velocityKernel *cl.Kernel

	buffers deviceBuffers

	g          grid
	n          int
	deviceName string

	zeroScratch []float64
}

// newOpenCLSolver discovers a device (GPU preferred, CPU device fallback),
// compiles the kernels, allocates the device buffers, and uploads labels and
// density. Any failure releases everything already acquired before the error
// is returned.
func newOpenCLSolver(g grid, vol *materialVolume, p simParams) (waveSolver, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with clinfo"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available")
	}
	var device *cl.Device
	for _, pf := range platforms {
		devices, derr := pf.GetDevices(cl.DeviceTypeGPU)
		if derr != nil && derr != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			device = devices[0]
			break
		}
	}
	if device == nil {
		for _, pf := range platforms {
			devices, derr := pf.GetDevices(cl.DeviceTypeCPU)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				device = devices[0]
				break
			}
		}
	}
	if device == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	queue, err := context.CreateCommandQueue(device, 0)
	if err != nil {
		context.Release()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	program, err := context.CreateProgramWithSource([]string{elastKernelSource})
	if err != nil {
		queue.Release()
		context.Release()
		return nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		program.Release()
		queue.Release()
		context.Release()
		if buildErr, ok := err.(cl.BuildError); ok {
			// Devices without cl_khr_fp64 fail here; the build log says so.
			return nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("building OpenCL program: %w", err)
	}

	s := &openCLSolver{
		context:    context,
		queue:      queue,
		program:    program,
		g:          g,
		n:          g.cells(),
		deviceName: device.Name(),
	}

	s.stressKernel, err = program.CreateKernel("stress_step")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating stress kernel: %w", err)
	}
	s.velocityKernel, err = program.CreateKernel("velocity_step")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating velocity kernel: %w", err)
	}

	if err := s.allocateBuffers(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.upload(vol); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.bindArgs(p); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

const doubleSize = int(unsafe.Sizeof(float64(0)))

func (s *openCLSolver) allocateBuffers() error {
	n := s.n
	alloc := func(dst **cl.MemObject, flags cl.MemFlag, byteSize int, name string) error {
		if *dst != nil {
			return nil
		}
		buf, err := s.context.CreateEmptyBuffer(flags, byteSize)
		if err != nil {
			return fmt.Errorf("allocating %s buffer: %w", name, err)
		}
		*dst = buf
		return nil
	}
	steps := []struct {
		dst  **cl.MemObject
		flag cl.MemFlag
		size int
		name string
	}{
		{&s.buffers.label, cl.MemReadOnly, n, "label"},
		{&s.buffers.density, cl.MemReadOnly, n * int(unsafe.Sizeof(float32(0))), "density"},
		{&s.buffers.vx, cl.MemReadWrite, n * doubleSize, "vx"},
		{&s.buffers.vy, cl.MemReadWrite, n * doubleSize, "vy"},
		{&s.buffers.vz, cl.MemReadWrite, n * doubleSize, "vz"},
		{&s.buffers.sxx, cl.MemReadWrite, n * doubleSize, "sxx"},
		{&s.buffers.syy, cl.MemReadWrite, n * doubleSize, "syy"},
		{&s.buffers.szz, cl.MemReadWrite, n * doubleSize, "szz"},
		{&s.buffers.sxy, cl.MemReadWrite, n * doubleSize, "sxy"},
		{&s.buffers.sxz, cl.MemReadWrite, n * doubleSize, "sxz"},
		{&s.buffers.syz, cl.MemReadWrite, n * doubleSize, "syz"},
		{&s.buffers.damage, cl.MemReadWrite, n * doubleSize, "damage"},
	}
	for _, st := range steps {
		if err := alloc(st.dst, st.flag, st.size, st.name); err != nil {
			return err
		}
	}
	return nil
}

// upload copies the label and density volumes to the device and zeroes the
// mutable field buffers.
func (s *openCLSolver) upload(vol *materialVolume) error {
	if len(vol.labels) != s.n || len(vol.density) != s.n {
		return fmt.Errorf("volume size %d does not match grid size %d", len(vol.labels), s.n)
	}
	if _, err := s.queue.EnqueueWriteBuffer(s.buffers.label, false, 0, s.n, unsafe.Pointer(&vol.labels[0]), nil); err != nil {
		return fmt.Errorf("uploading label buffer: %w", err)
	}
	if _, err := s.queue.EnqueueWriteBufferFloat32(s.buffers.density, false, 0, vol.density, nil); err != nil {
		return fmt.Errorf("uploading density buffer: %w", err)
	}
	return s.Reset()
}

func (s *openCLSolver) bindArgs(p simParams) error {
	if err := s.stressKernel.SetArgs(
		int32(s.g.nx), int32(s.g.ny), int32(s.g.nz),
		float32(p.dx), float32(p.dt),
		float32(p.lambda0), float32(p.mu0),
		float32(p.tensile), float32(p.cohesion),
		float32(p.sinPhi), float32(p.cosPhi),
		float32(p.confining),
		boolArg(p.plastic), boolArg(p.brittle),
		s.buffers.label,
		s.buffers.vx, s.buffers.vy, s.buffers.vz,
		s.buffers.sxx, s.buffers.syy, s.buffers.szz,
		s.buffers.sxy, s.buffers.sxz, s.buffers.syz,
		s.buffers.damage,
	); err != nil {
		return fmt.Errorf("setting stress kernel arguments: %w", err)
	}
	if err := s.velocityKernel.SetArgs(
		int32(s.g.nx), int32(s.g.ny), int32(s.g.nz),
		float32(p.dx), float32(p.dt),
		s.buffers.label, s.buffers.density,
		s.buffers.vx, s.buffers.vy, s.buffers.vz,
		s.buffers.sxx, s.buffers.syy, s.buffers.szz,
		s.buffers.sxy, s.buffers.sxz, s.buffers.syz,
	); err != nil {
		return fmt.Errorf("setting velocity kernel arguments: %w", err)
	}
	return nil
}

func boolArg(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// Step dispatches the stress kernel, then the velocity kernel, over the whole
// grid and waits for the queue to drain. The in-order queue already
// serializes the two dispatches, which is the barrier the staggered scheme
// needs.
func (s *openCLSolver) Step() error {
	global := []int{s.n}
	if _, err := s.queue.EnqueueNDRangeKernel(s.stressKernel, nil, global, nil, nil); err != nil {
		return fmt.Errorf("enqueueing stress kernel: %w", err)
	}
	if _, err := s.queue.EnqueueNDRangeKernel(s.velocityKernel, nil, global, nil, nil); err != nil {
		return fmt.Errorf("enqueueing velocity kernel: %w", err)
	}
	if err := s.queue.Finish(); err != nil {
		return fmt.Errorf("synchronizing queue: %w", err)
	}
	return nil
}

// readDouble reads one float64 from a device buffer.
func (s *openCLSolver) readDouble(buf *cl.MemObject, idx int) (float64, error) {
	var v float64
	if _, err := s.queue.EnqueueReadBuffer(buf, true, idx*doubleSize, doubleSize, unsafe.Pointer(&v), nil); err != nil {
		return 0, err
	}
	return v, nil
}

// writeDouble writes one float64 into a device buffer.
func (s *openCLSolver) writeDouble(buf *cl.MemObject, idx int, v float64) error {
	_, err := s.queue.EnqueueWriteBuffer(buf, true, idx*doubleSize, doubleSize, unsafe.Pointer(&v), nil)
	return err
}

func (s *openCLSolver) InjectPulse(idx int, magnitude float64) error {
	if idx < 0 || idx >= s.n {
		return fmt.Errorf("pulse cell %d outside grid of %d cells", idx, s.n)
	}
	for _, buf := range []*cl.MemObject{s.buffers.sxx, s.buffers.syy, s.buffers.szz} {
		v, err := s.readDouble(buf, idx)
		if err != nil {
			return fmt.Errorf("reading pulse cell: %w", err)
		}
		if err := s.writeDouble(buf, idx, v+magnitude); err != nil {
			return fmt.Errorf("writing pulse cell: %w", err)
		}
	}
	return nil
}

func (s *openCLSolver) ProbeVelocity(idx int) (vx, vy, vz float64, err error) {
	if idx < 0 || idx >= s.n {
		return 0, 0, 0, fmt.Errorf("probe cell %d outside grid of %d cells", idx, s.n)
	}
	if vx, err = s.readDouble(s.buffers.vx, idx); err != nil {
		return 0, 0, 0, fmt.Errorf("probing vx: %w", err)
	}
	if vy, err = s.readDouble(s.buffers.vy, idx); err != nil {
		return 0, 0, 0, fmt.Errorf("probing vy: %w", err)
	}
	if vz, err = s.readDouble(s.buffers.vz, idx); err != nil {
		return 0, 0, 0, fmt.Errorf("probing vz: %w", err)
	}
	return vx, vy, vz, nil
}

// readback copies one full device field into a fresh host slice.
func (s *openCLSolver) readback(buf *cl.MemObject, name string) ([]float64, error) {
	host := make([]float64, s.n)
	if _, err := s.queue.EnqueueReadBuffer(buf, true, 0, s.n*doubleSize, unsafe.Pointer(&host[0]), nil); err != nil {
		return nil, fmt.Errorf("reading %s buffer: %w", name, err)
	}
	return host, nil
}

func (s *openCLSolver) ReadVelocity() (vx, vy, vz []float64, err error) {
	if vx, err = s.readback(s.buffers.vx, "vx"); err != nil {
		return nil, nil, nil, err
	}
	if vy, err = s.readback(s.buffers.vy, "vy"); err != nil {
		return nil, nil, nil, err
	}
	if vz, err = s.readback(s.buffers.vz, "vz"); err != nil {
		return nil, nil, nil, err
	}
	return vx, vy, vz, nil
}

func (s *openCLSolver) ReadStress() ([6][]float64, error) {
	var out [6][]float64
	bufs := []*cl.MemObject{s.buffers.sxx, s.buffers.syy, s.buffers.szz, s.buffers.sxy, s.buffers.sxz, s.buffers.syz}
	names := []string{"sxx", "syy", "szz", "sxy", "sxz", "syz"}
	for i, buf := range bufs {
		field, err := s.readback(buf, names[i])
		if err != nil {
			return out, err
		}
		out[i] = field
	}
	return out, nil
}

func (s *openCLSolver) ReadDamage() ([]float64, error) {
	return s.readback(s.buffers.damage, "damage")
}

// Reset zeroes the mutable field buffers on the device. Labels and density
// stay untouched so the same geometry can re-run.
func (s *openCLSolver) Reset() error {
	if s.zeroScratch == nil {
		s.zeroScratch = make([]float64, s.n)
	}
	for _, buf := range s.buffers.fieldBuffers() {
		if _, err := s.queue.EnqueueWriteBuffer(buf, false, 0, s.n*doubleSize, unsafe.Pointer(&s.zeroScratch[0]), nil); err != nil {
			return fmt.Errorf("zeroing field buffer: %w", err)
		}
	}
	if err := s.queue.Finish(); err != nil {
		return fmt.Errorf("synchronizing reset: %w", err)
	}
	return nil
}

// Close releases every device resource. Safe to call repeatedly.
func (s *openCLSolver) Close() {
	s.buffers.release()
	if s.stressKernel != nil {
		s.stressKernel.Release()
		s.stressKernel = nil
	}
	if s.velocityKernel != nil {
		s.velocityKernel.Release()
		s.velocityKernel = nil
	}
	if s.program != nil {
		s.program.Release()
		s.program = nil
	}
	if s.queue != nil {
		s.queue.Release()
		s.queue = nil
	}
	if s.context != nil {
		s.context.Release()
		s.context = nil
	}
}

func (s *openCLSolver) DeviceName() string {
	return s.deviceName
}
