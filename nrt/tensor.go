package nrt

import (
	"runtime"
	"unsafe"

	"go.uber.org/zap"
)

// Tensor owns one native tensor handle allocated without storage. Storage is
// supplied by the caller through AttachBuffer and is never copied.
//
// Once added to a TensorSet the set owns the tensor: Destroy returns
// ErrTensorOwned and the handle is released by TensorSet.Destroy.
type Tensor struct {
	rt     Runtime
	handle TensorHandle
	info   TensorInfo
	buffer []byte
	pinner *runtime.Pinner // pins buffer's backing array while libnrt references it
	owned  bool
}

// NewEmptyTensor allocates a storage-less tensor named and shaped after info.
func NewEmptyTensor(info TensorInfo, opts ...Option) (*Tensor, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newEmptyTensor(cfg.runtime, info)
}

func newEmptyTensor(rt Runtime, info TensorInfo) (*Tensor, error) {
	if info.Name == "" {
		return nil, newStatusError("tensor allocate", ErrAllocation, StatusInvalid, "tensor name cannot be empty")
	}

	handle, status := rt.TensorAllocateEmpty(info.Name)
	if !status.OK() {
		logger().Warn("tensor allocation failed", zap.String("tensor", info.Name), zap.Stringer("status", status))
		return nil, newStatusError("tensor allocate", ErrAllocation, status, "tensor %q", info.Name)
	}
	if handle == 0 {
		return nil, newStatusError("tensor allocate", ErrAllocation, StatusInvalidHandle, "tensor %q: runtime returned a null handle", info.Name)
	}

	t := &Tensor{
		rt:     rt,
		handle: handle,
		info:   info.clone(),
	}

	// Safety net for tensors that are never added to a set and never destroyed.
	runtime.SetFinalizer(t, func(t *Tensor) {
		t.release()
	})

	return t, nil
}

// Handle returns the native tensor handle, or 0 once released.
func (t *Tensor) Handle() TensorHandle {
	if t == nil {
		return 0
	}
	return t.handle
}

// Name returns the tensor name.
func (t *Tensor) Name() string {
	if t == nil {
		return ""
	}
	return t.info.Name
}

// Size returns the declared size in bytes.
func (t *Tensor) Size() uint64 {
	if t == nil {
		return 0
	}
	return t.info.Size
}

// Usage returns the declared usage.
func (t *Tensor) Usage() TensorUsage {
	if t == nil {
		return 0
	}
	return t.info.Usage
}

// DType returns the declared element type.
func (t *Tensor) DType() DType {
	if t == nil {
		return DTypeUnknown
	}
	return t.info.DType
}

// Shape returns a copy of the declared shape.
func (t *Tensor) Shape() []uint32 {
	if t == nil {
		return nil
	}
	return append([]uint32(nil), t.info.Shape...)
}

// NDim returns the declared number of dimensions.
func (t *Tensor) NDim() int {
	if t == nil {
		return 0
	}
	return t.info.NDim()
}

// Info returns a copy of the tensor description.
func (t *Tensor) Info() TensorInfo {
	if t == nil {
		return TensorInfo{}
	}
	return t.info.clone()
}

// Buffer returns the currently attached buffer, or nil. The slice aliases
// caller memory; the tensor never owns it.
func (t *Tensor) Buffer() []byte {
	if t == nil {
		return nil
	}
	return t.buffer
}

// IsBound reports whether a buffer is attached.
func (t *Tensor) IsBound() bool {
	return t != nil && t.buffer != nil
}

func (t *Tensor) valid() bool {
	return t != nil && t.handle != 0 && t.rt != nil
}

// AttachBuffer makes buf the tensor's backing storage. len(buf) must equal
// Size(). Attaching again replaces the previous buffer; neither buffer is
// copied or reallocated. The caller must keep buf alive and unmodified by other
// goroutines for as long as it is attached and any execution may touch it.
func (t *Tensor) AttachBuffer(buf []byte) error {
	if !t.valid() {
		return newStatusError("tensor attach", ErrInvalidHandle, StatusInvalidHandle, "tensor %q has not been allocated or was released", t.Name())
	}
	if len(buf) == 0 {
		return newStatusError("tensor attach", ErrBufferSize, StatusInvalidHandle, "tensor %q: empty buffer", t.info.Name)
	}
	if uint64(len(buf)) != t.info.Size {
		return newStatusError("tensor attach", ErrBufferSize, StatusInvalid, "tensor %q: buffer is %d bytes, declared size is %d", t.info.Name, len(buf), t.info.Size)
	}

	pinner := pinBuffer(buf)

	status := t.rt.TensorAttachBuffer(t.handle, buf)
	runtime.KeepAlive(t)
	if !status.OK() {
		pinner.Unpin()
		kind := ErrBufferSize
		if status == StatusInvalidHandle {
			kind = ErrInvalidHandle
		}
		return newStatusError("tensor attach", kind, status, "tensor %q", t.info.Name)
	}

	if t.pinner != nil {
		t.pinner.Unpin()
	}
	t.buffer = buf
	t.pinner = pinner
	return nil
}

// Destroy releases the native tensor. It is a no-op on a released tensor and
// fails with ErrTensorOwned while a TensorSet owns the tensor.
func (t *Tensor) Destroy() error {
	if t == nil {
		return nil
	}
	if t.owned {
		return newStatusError("tensor destroy", ErrTensorOwned, StatusInvalid, "tensor %q is released with its tensor set", t.info.Name)
	}
	t.release()
	return nil
}

func (t *Tensor) release() {
	handle := t.handle
	rt := t.rt
	pinner := t.pinner

	t.handle = 0
	t.buffer = nil
	t.pinner = nil
	runtime.SetFinalizer(t, nil)

	if handle != 0 && rt != nil {
		rt.TensorFree(handle)
	}
	if pinner != nil {
		pinner.Unpin()
	}
}

// pinBuffer pins the backing array of buf. Pin ignores memory outside the Go
// heap, so mmap regions and C allocations pass through unpinned.
func pinBuffer(buf []byte) *runtime.Pinner {
	pinner := &runtime.Pinner{}
	pinner.Pin(unsafe.SliceData(buf))
	return pinner
}
