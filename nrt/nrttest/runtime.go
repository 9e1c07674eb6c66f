// Package nrttest provides an in-memory nrt.Runtime for tests that do not have
// Neuron hardware. It tracks every handle it hands out so tests can assert
// that nothing leaked and nothing was released twice.
package nrttest

import (
	"sort"
	"sync"

	"github.com/amikos-tech/pure-neuron/nrt"
)

// Op names a Runtime call for failure injection and call counting.
type Op string

const (
	OpLoad              Op = "load"
	OpUnload            Op = "unload"
	OpTensorInfo        Op = "tensor_info"
	OpTensorAllocate    Op = "tensor_allocate"
	OpTensorAttach      Op = "tensor_attach"
	OpTensorFree        Op = "tensor_free"
	OpTensorSetAllocate Op = "tensor_set_allocate"
	OpTensorSetAdd      Op = "tensor_set_add"
	OpTensorSetDestroy  Op = "tensor_set_destroy"
	OpExecute           Op = "execute"
)

// ExecuteFunc computes outputs from inputs. Both maps are keyed by tensor name
// and alias the bound buffers, so writes to outputs land in caller memory.
type ExecuteFunc func(inputs, outputs map[string][]byte) nrt.Status

type failure struct {
	after  int
	status nrt.Status
}

type fakeTensor struct {
	name string
	buf  []byte
}

// Runtime is a fake libnrt. It is safe for concurrent use.
type Runtime struct {
	mu sync.Mutex

	next    uintptr
	infos   []nrt.TensorInfo
	models  map[nrt.ModelHandle]bool
	tensors map[nrt.TensorHandle]*fakeTensor
	sets    map[nrt.TensorSetHandle]map[string]nrt.TensorHandle

	calls       map[Op]int
	failures    map[Op]failure
	partialLoad bool
	execute     ExecuteFunc

	doubleFrees   int
	danglingFrees int
}

var _ nrt.Runtime = (*Runtime)(nil)

// New returns a fake whose loaded programs declare infos.
func New(infos ...nrt.TensorInfo) *Runtime {
	return &Runtime{
		next:     0x1000,
		infos:    cloneInfos(infos),
		models:   make(map[nrt.ModelHandle]bool),
		tensors:  make(map[nrt.TensorHandle]*fakeTensor),
		sets:     make(map[nrt.TensorSetHandle]map[string]nrt.TensorHandle),
		calls:    make(map[Op]int),
		failures: make(map[Op]failure),
	}
}

// SetTensorInfo replaces the tensors declared by programs loaded afterwards.
func (r *Runtime) SetTensorInfo(infos ...nrt.TensorInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = cloneInfos(infos)
}

// FailOn makes every call to op fail with status.
func (r *Runtime) FailOn(op Op, status nrt.Status) {
	r.FailAfter(op, 0, status)
}

// FailAfter lets the next n calls to op succeed and fails every later one.
func (r *Runtime) FailAfter(op Op, n int, status nrt.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = failure{after: r.calls[op] + n, status: status}
}

// ClearFailures removes all injected failures.
func (r *Runtime) ClearFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = make(map[Op]failure)
}

// PartialLoadHandle makes a failing Load still return a live model handle, the
// way libnrt can leave a partially constructed model behind.
func (r *Runtime) PartialLoadHandle(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partialLoad = enabled
}

// SetExecuteFunc replaces the default execution behavior. nil restores it.
func (r *Runtime) SetExecuteFunc(fn ExecuteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execute = fn
}

// Calls returns how many times op was invoked, including failed calls.
func (r *Runtime) Calls(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// LiveModels returns the number of loaded, not yet unloaded programs.
func (r *Runtime) LiveModels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.models)
}

// LiveTensors returns the number of allocated, not yet freed tensors.
func (r *Runtime) LiveTensors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tensors)
}

// LiveTensorSets returns the number of allocated, not yet destroyed sets.
func (r *Runtime) LiveTensorSets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

// DoubleFrees counts releases of handles that were unknown or already released.
func (r *Runtime) DoubleFrees() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doubleFrees
}

// DanglingFrees counts tensors freed while a live tensor set still referenced them.
func (r *Runtime) DanglingFrees() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.danglingFrees
}

// Attached returns the buffer attached to tensor, or nil.
func (r *Runtime) Attached(tensor nrt.TensorHandle) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tensors[tensor]; ok {
		return t.buf
	}
	return nil
}

// SetMembers returns the sorted tensor names registered in set.
func (r *Runtime) SetMembers(set nrt.TensorSetHandle) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.sets[set]
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) enter(op Op) (nrt.Status, bool) {
	r.calls[op]++
	if f, ok := r.failures[op]; ok && r.calls[op] > f.after {
		return f.status, true
	}
	return nrt.StatusSuccess, false
}

func (r *Runtime) handle() uintptr {
	r.next += 0x10
	return r.next
}

func (r *Runtime) Load(neff []byte, startCore, coreCount int32) (nrt.ModelHandle, nrt.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status, failed := r.enter(OpLoad); failed {
		if r.partialLoad {
			h := nrt.ModelHandle(r.handle())
			r.models[h] = true
			return h, status
		}
		return 0, status
	}
	if len(neff) == 0 {
		return 0, nrt.StatusInvalid
	}
	h := nrt.ModelHandle(r.handle())
	r.models[h] = true
	return h, nrt.StatusSuccess
}

func (r *Runtime) Unload(model nrt.ModelHandle) nrt.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.models[model] {
		r.calls[OpUnload]++
		r.doubleFrees++
		return nrt.StatusInvalidHandle
	}
	// The program is gone even when unload reports an error.
	delete(r.models, model)
	status, _ := r.enter(OpUnload)
	return status
}

func (r *Runtime) TensorInfo(model nrt.ModelHandle) ([]nrt.TensorInfo, nrt.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status, failed := r.enter(OpTensorInfo); failed {
		return nil, status
	}
	if !r.models[model] {
		return nil, nrt.StatusInvalidHandle
	}
	return cloneInfos(r.infos), nrt.StatusSuccess
}

func (r *Runtime) TensorAllocateEmpty(name string) (nrt.TensorHandle, nrt.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status, failed := r.enter(OpTensorAllocate); failed {
		return 0, status
	}
	h := nrt.TensorHandle(r.handle())
	r.tensors[h] = &fakeTensor{name: name}
	return h, nrt.StatusSuccess
}

func (r *Runtime) TensorAttachBuffer(tensor nrt.TensorHandle, buf []byte) nrt.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status, failed := r.enter(OpTensorAttach); failed {
		return status
	}
	t, ok := r.tensors[tensor]
	if !ok {
		return nrt.StatusInvalidHandle
	}
	if len(buf) == 0 {
		return nrt.StatusInvalid
	}
	t.buf = buf
	return nrt.StatusSuccess
}

func (r *Runtime) TensorFree(tensor nrt.TensorHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[OpTensorFree]++
	if _, ok := r.tensors[tensor]; !ok {
		r.doubleFrees++
		return
	}
	for _, members := range r.sets {
		for _, h := range members {
			if h == tensor {
				r.danglingFrees++
			}
		}
	}
	delete(r.tensors, tensor)
}

func (r *Runtime) TensorSetAllocate() (nrt.TensorSetHandle, nrt.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status, failed := r.enter(OpTensorSetAllocate); failed {
		return 0, status
	}
	h := nrt.TensorSetHandle(r.handle())
	r.sets[h] = make(map[string]nrt.TensorHandle)
	return h, nrt.StatusSuccess
}

func (r *Runtime) TensorSetAdd(set nrt.TensorSetHandle, name string, tensor nrt.TensorHandle) nrt.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if status, failed := r.enter(OpTensorSetAdd); failed {
		return status
	}
	members, ok := r.sets[set]
	if !ok {
		return nrt.StatusInvalidHandle
	}
	if _, ok := r.tensors[tensor]; !ok {
		return nrt.StatusInvalidHandle
	}
	members[name] = tensor
	return nrt.StatusSuccess
}

func (r *Runtime) TensorSetDestroy(set nrt.TensorSetHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[OpTensorSetDestroy]++
	if _, ok := r.sets[set]; !ok {
		r.doubleFrees++
		return
	}
	delete(r.sets, set)
}

func (r *Runtime) Execute(model nrt.ModelHandle, inputs, outputs nrt.TensorSetHandle) nrt.Status {
	r.mu.Lock()
	if status, failed := r.enter(OpExecute); failed {
		r.mu.Unlock()
		return status
	}
	if !r.models[model] {
		r.mu.Unlock()
		return nrt.StatusInvalidHandle
	}
	in, status := r.collect(inputs)
	if !status.OK() {
		r.mu.Unlock()
		return status
	}
	out, status := r.collect(outputs)
	if !status.OK() {
		r.mu.Unlock()
		return status
	}
	fn := r.execute
	r.mu.Unlock()

	if fn == nil {
		fn = DefaultExecute
	}
	return fn(in, out)
}

func (r *Runtime) collect(set nrt.TensorSetHandle) (map[string][]byte, nrt.Status) {
	members, ok := r.sets[set]
	if !ok {
		return nil, nrt.StatusInvalidHandle
	}
	bufs := make(map[string][]byte, len(members))
	for name, h := range members {
		t, ok := r.tensors[h]
		if !ok {
			return nil, nrt.StatusInvalidHandle
		}
		if t.buf == nil {
			return nil, nrt.StatusExecBadInput
		}
		bufs[name] = t.buf
	}
	return bufs, nrt.StatusSuccess
}

// DefaultExecute writes, for every output, byte i = first input's byte at
// i mod its length, plus one. The first input is the lowest name. With no
// inputs every output byte becomes 1.
func DefaultExecute(inputs, outputs map[string][]byte) nrt.Status {
	var src []byte
	if len(inputs) > 0 {
		names := make([]string, 0, len(inputs))
		for name := range inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		src = inputs[names[0]]
	}
	for _, dst := range outputs {
		for i := range dst {
			var b byte
			if len(src) > 0 {
				b = src[i%len(src)]
			}
			dst[i] = b + 1
		}
	}
	return nrt.StatusSuccess
}

func cloneInfos(infos []nrt.TensorInfo) []nrt.TensorInfo {
	out := make([]nrt.TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = info
		out[i].Shape = append([]uint32(nil), info.Shape...)
	}
	return out
}
