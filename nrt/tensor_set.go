package nrt

import (
	"errors"
	"runtime"
	"sort"

	"go.uber.org/zap"
)

// TensorSet owns one native tensor set and every Tensor registered with it.
// A tensor is present in the name index only if libnrt accepted it.
type TensorSet struct {
	rt        Runtime
	handle    TensorSetHandle
	tensors   map[string]*Tensor
	displaced []*Tensor // replaced by a later Add of the same name; still owned
}

// NewTensorSet allocates an empty native tensor set.
func NewTensorSet(opts ...Option) (*TensorSet, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newTensorSet(cfg.runtime)
}

// NewTensorSetFromInfo allocates a set holding one empty tensor per info.
// On failure nothing allocated along the way survives.
func NewTensorSetFromInfo(infos []TensorInfo, opts ...Option) (*TensorSet, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newTensorSetFromInfo(cfg.runtime, infos)
}

func newTensorSet(rt Runtime) (*TensorSet, error) {
	handle, status := rt.TensorSetAllocate()
	if !status.OK() {
		logger().Warn("tensor set allocation failed", zap.Stringer("status", status))
		return nil, newStatusError("tensor set allocate", ErrAllocation, status, "")
	}
	if handle == 0 {
		return nil, newStatusError("tensor set allocate", ErrAllocation, StatusInvalidHandle, "runtime returned a null handle")
	}

	s := &TensorSet{
		rt:      rt,
		handle:  handle,
		tensors: make(map[string]*Tensor),
	}
	runtime.SetFinalizer(s, func(s *TensorSet) {
		s.release()
	})
	return s, nil
}

func newTensorSetFromInfo(rt Runtime, infos []TensorInfo) (*TensorSet, error) {
	s, err := newTensorSet(rt)
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		t, err := newEmptyTensor(rt, info)
		if err != nil {
			s.release()
			return nil, err
		}
		if err := s.Add(t); err != nil {
			t.release()
			s.release()
			return nil, err
		}
	}
	return s, nil
}

func (s *TensorSet) valid() bool {
	return s != nil && s.handle != 0 && s.rt != nil
}

// Handle returns the native handle, or 0 after Destroy.
func (s *TensorSet) Handle() TensorSetHandle {
	if s == nil {
		return 0
	}
	return s.handle
}

// Add registers t with the native set and, only if that succeeds, takes
// ownership of it. On failure the caller still owns t. Adding a second tensor
// under an existing name replaces the index entry; the earlier tensor stays
// owned by the set until Destroy.
func (s *TensorSet) Add(t *Tensor) error {
	if !s.valid() {
		return newStatusError("tensor set add", ErrInvalidHandle, StatusInvalidHandle, "tensor set has not been allocated or was released")
	}
	if !t.valid() {
		return newStatusError("tensor set add", ErrInvalidHandle, StatusInvalidHandle, "tensor %q has not been allocated or was released", t.Name())
	}
	if t.owned {
		return newStatusError("tensor set add", ErrTensorOwned, StatusInvalid, "tensor %q already belongs to a tensor set", t.info.Name)
	}

	status := s.rt.TensorSetAdd(s.handle, t.info.Name, t.handle)
	runtime.KeepAlive(s)
	runtime.KeepAlive(t)
	if !status.OK() {
		logger().Warn("tensor set add failed", zap.String("tensor", t.info.Name), zap.Stringer("status", status))
		return newStatusError("tensor set add", ErrAllocation, status, "tensor %q", t.info.Name)
	}

	if prev, ok := s.tensors[t.info.Name]; ok && prev != t {
		s.displaced = append(s.displaced, prev)
	}
	t.owned = true
	s.tensors[t.info.Name] = t
	return nil
}

// Tensor looks up a tensor by name. The set keeps ownership.
func (s *TensorSet) Tensor(name string) (*Tensor, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tensors[name]
	return t, ok
}

// Len returns the number of named tensors.
func (s *TensorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tensors)
}

// Names returns the tensor names in sorted order.
func (s *TensorSet) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unbound returns the sorted names of tensors with no attached buffer.
func (s *TensorSet) Unbound() []string {
	var names []string
	for _, name := range s.Names() {
		if !s.tensors[name].IsBound() {
			names = append(names, name)
		}
	}
	return names
}

// Destroy releases the native set, then every tensor it owns. Calling it again
// is a no-op.
func (s *TensorSet) Destroy() error {
	if s == nil {
		return nil
	}
	if s.handle == 0 && len(s.tensors) == 0 && len(s.displaced) == 0 {
		return nil
	}
	s.release()
	return nil
}

func (s *TensorSet) release() {
	handle := s.handle
	rt := s.rt
	owned := make([]*Tensor, 0, len(s.tensors)+len(s.displaced))
	for _, name := range s.Names() {
		owned = append(owned, s.tensors[name])
	}
	owned = append(owned, s.displaced...)

	s.handle = 0
	s.tensors = map[string]*Tensor{}
	s.displaced = nil
	runtime.SetFinalizer(s, nil)

	// libnrt requires registered tensors to stay valid until the set is gone.
	if handle != 0 && rt != nil {
		rt.TensorSetDestroy(handle)
	}
	for _, t := range owned {
		t.owned = false
		t.release()
	}
}

func errUnboundTensors(op string, role string, names []string) error {
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, newStatusError(op, ErrExecution, StatusInvalid, "%s tensor %q has no bound buffer", role, name))
	}
	return errors.Join(errs...)
}
