package nrt

import (
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Model is a NEFF program loaded onto a range of NeuronCores, together with
// its declared tensors and a default IoTensors ready for binding.
type Model struct {
	rt        Runtime
	handle    ModelHandle
	info      []TensorInfo
	io        *IoTensors
	startCore int32
	coreCount int32
}

// LoadModelFromFile maps the NEFF at path read-only and loads it. The mapping
// is released once the load attempt returns; libnrt copies what it keeps.
func LoadModelFromFile(path string, opts ...Option) (*Model, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}

	mapped, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := mapped.Close(); closeErr != nil {
			logger().Warn("failed to unmap program file", zap.String("path", path), zap.Error(closeErr))
		}
	}()

	logger().Debug("mapped program file", zap.String("path", path), zap.Int("bytes", len(mapped.data)))
	return loadModel(cfg, mapped.data)
}

// LoadModelFromBuffer loads a NEFF image held in memory.
func LoadModelFromBuffer(neff []byte, opts ...Option) (*Model, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	return loadModel(cfg, neff)
}

func loadModel(cfg config, neff []byte) (*Model, error) {
	if len(neff) == 0 {
		return nil, newStatusError("load", ErrLoad, StatusInvalid, "program image is empty")
	}

	rt := cfg.runtime
	start := time.Now()
	handle, status := rt.Load(neff, cfg.startCore, cfg.coreCount)
	if !status.OK() {
		if handle != 0 {
			rt.Unload(handle)
		}
		logger().Warn("program load failed",
			zap.Int32("start_core", cfg.startCore),
			zap.Int32("core_count", cfg.coreCount),
			zap.Stringer("status", status))
		return nil, newStatusError("load", ErrLoad, status, "")
	}
	if handle == 0 {
		return nil, newStatusError("load", ErrLoad, StatusInvalidHandle, "runtime returned a null model")
	}

	info, status := rt.TensorInfo(handle)
	if !status.OK() {
		rt.Unload(handle)
		logger().Warn("tensor info query failed", zap.Stringer("status", status))
		return nil, newStatusError("load", ErrTensorInfoUnavailable, status, "")
	}

	io, err := newIoTensors(rt, info)
	if err != nil {
		rt.Unload(handle)
		return nil, err
	}

	m := &Model{
		rt:        rt,
		handle:    handle,
		info:      cloneTensorInfos(info),
		io:        io,
		startCore: cfg.startCore,
		coreCount: cfg.coreCount,
	}
	runtime.SetFinalizer(m, func(m *Model) {
		if err := m.release(); err != nil {
			logger().Warn("finalizer failed to release program", zap.Error(err))
		}
	})

	logger().Debug("program loaded",
		zap.Int("tensors", len(info)),
		zap.Int32("start_core", cfg.startCore),
		zap.Int32("core_count", cfg.coreCount),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

func (m *Model) valid() bool {
	return m != nil && m.handle != 0 && m.rt != nil
}

// Handle returns the native model handle, or 0 after Destroy.
func (m *Model) Handle() ModelHandle {
	if m == nil {
		return 0
	}
	return m.handle
}

// TensorInfo returns a copy of the tensors declared by the program.
func (m *Model) TensorInfo() []TensorInfo {
	if m == nil {
		return nil
	}
	return cloneTensorInfos(m.info)
}

// StartCore returns the requested start core, -1 if the runtime chose.
func (m *Model) StartCore() int32 {
	if m == nil {
		return -1
	}
	return m.startCore
}

// CoreCount returns the requested core count, -1 if the runtime chose.
func (m *Model) CoreCount() int32 {
	if m == nil {
		return -1
	}
	return m.coreCount
}

// IoTensors returns the model's default binding set. The model owns it.
func (m *Model) IoTensors() *IoTensors {
	if m == nil {
		return nil
	}
	return m.io
}

// NewIoTensors allocates an independent binding set for this model's declared
// tensors. Distinct sets may be executed from different goroutines. The caller
// must Destroy it before destroying the model.
func (m *Model) NewIoTensors() (*IoTensors, error) {
	if !m.valid() {
		return nil, newStatusError("io tensors", ErrInvalidHandle, StatusInvalidHandle, "model has been released")
	}
	return newIoTensors(m.rt, m.info)
}

// Bind attaches buf to a declared tensor of the default binding set.
func (m *Model) Bind(name string, usage TensorUsage, buf []byte) error {
	if m == nil {
		return newStatusError("bind", ErrInvalidHandle, StatusInvalidHandle, "model has been released")
	}
	return m.io.Bind(name, usage, buf)
}

// Execute runs the program synchronously against the default binding set.
// Outputs are readable from their bound buffers on success.
func (m *Model) Execute() error {
	if m == nil {
		return newStatusError("execute", ErrInvalidHandle, StatusInvalidHandle, "model has been released")
	}
	return m.ExecuteWith(m.io)
}

// ExecuteWith runs the program synchronously against io. Every declared tensor
// must have a bound buffer.
func (m *Model) ExecuteWith(io *IoTensors) error {
	if !m.valid() {
		return newStatusError("execute", ErrInvalidHandle, StatusInvalidHandle, "model has been released")
	}
	if !io.valid() {
		return newStatusError("execute", ErrInvalidHandle, StatusInvalidHandle, "io tensors have been released")
	}
	if err := io.checkBound("execute"); err != nil {
		return err
	}

	start := time.Now()
	status := m.rt.Execute(m.handle, io.inputs.handle, io.outputs.handle)
	runtime.KeepAlive(m)
	runtime.KeepAlive(io)
	if !status.OK() {
		logger().Warn("execution failed", zap.Stringer("status", status))
		return newStatusError("execute", ErrExecution, status, "")
	}
	logger().Debug("execution completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Destroy releases the default binding set, then unloads the program. The
// unload status is returned; later calls are no-ops.
func (m *Model) Destroy() error {
	if m == nil {
		return nil
	}
	return m.release()
}

func (m *Model) release() error {
	io := m.io
	handle := m.handle
	rt := m.rt

	m.io = nil
	m.handle = 0
	runtime.SetFinalizer(m, nil)

	var errs []error
	if io != nil {
		errs = append(errs, io.Destroy())
	}
	if handle != 0 && rt != nil {
		if status := rt.Unload(handle); !status.OK() {
			logger().Warn("program unload failed", zap.Stringer("status", status))
			errs = append(errs, newStatusError("unload", ErrUnload, status, ""))
		} else {
			logger().Debug("program unloaded")
		}
	}
	return errors.Join(errs...)
}
