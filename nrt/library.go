package nrt

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// cTensorInfo mirrors nrt_tensor_info_t on 64-bit targets.
type cTensorInfo struct {
	Name  [tensorNameMax]byte
	Usage uint32
	Size  uint64
	DType uint32
	Shape uintptr // uint32_t*
	NDim  uint32
}

// cVersion mirrors nrt_version_t.
type cVersion struct {
	Major       uint64
	Minor       uint64
	Patch       uint64
	Maintenance uint64
	Detail      [versionDetailLen]byte
	GitHash     [gitHashLen]byte
}

// libnrt is the set of libnrt entry points bound through purego. It
// implements Runtime for the loaded library.
type libnrt struct {
	handle uintptr

	nrtInit               func(framework uint32, fwVersion, falVersion uintptr) uint32
	nrtClose              func()
	nrtGetVersion         func(version *cVersion, size uintptr) uint32
	nrtGetTotalNCCount    func(count *uint32) uint32
	nrtGetVisibleNCCount  func(count *uint32) uint32
	nrtLoad               func(neff unsafe.Pointer, size uintptr, startNC, ncCount int32, model *uintptr) uint32
	nrtUnload             func(model uintptr) uint32
	nrtGetTensorInfoArray func(model uintptr, info *uintptr) uint32
	nrtFreeTensorInfo     func(info uintptr) uint32
	nrtTensorAllocEmpty   func(name uintptr, tensor *uintptr) uint32
	nrtTensorAttachBuffer func(tensor uintptr, buf unsafe.Pointer, size uintptr) uint32
	nrtTensorFree         func(tensor *uintptr)
	nrtAllocTensorSet     func(set *uintptr) uint32
	nrtAddTensorToSet     func(set uintptr, name uintptr, tensor uintptr) uint32
	nrtDestroyTensorSet   func(set *uintptr)
	nrtExecute            func(model, inputs, outputs uintptr) uint32
}

// openLibnrt loads the shared library at path and binds every entry point the
// package uses. A missing symbol fails the whole bind.
func openLibnrt(path string) (*libnrt, error) {
	handle, err := loadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load Neuron runtime library %q: %w", path, err)
	}
	if handle == 0 {
		return nil, fmt.Errorf("failed to load Neuron runtime library %q", path)
	}

	lib := &libnrt{handle: handle}
	bindings := []struct {
		symbol string
		fptr   any
	}{
		{"nrt_init", &lib.nrtInit},
		{"nrt_close", &lib.nrtClose},
		{"nrt_get_version", &lib.nrtGetVersion},
		{"nrt_get_total_nc_count", &lib.nrtGetTotalNCCount},
		{"nrt_get_visible_nc_count", &lib.nrtGetVisibleNCCount},
		{"nrt_load", &lib.nrtLoad},
		{"nrt_unload", &lib.nrtUnload},
		{"nrt_get_tensor_info_array", &lib.nrtGetTensorInfoArray},
		{"nrt_free_model_tensor_info", &lib.nrtFreeTensorInfo},
		{"nrt_tensor_allocate_empty", &lib.nrtTensorAllocEmpty},
		{"nrt_tensor_attach_buffer", &lib.nrtTensorAttachBuffer},
		{"nrt_tensor_free", &lib.nrtTensorFree},
		{"nrt_allocate_tensor_set", &lib.nrtAllocTensorSet},
		{"nrt_add_tensor_to_tensor_set", &lib.nrtAddTensorToSet},
		{"nrt_destroy_tensor_set", &lib.nrtDestroyTensorSet},
		{"nrt_execute", &lib.nrtExecute},
	}

	var missing []error
	for _, b := range bindings {
		sym, err := getSymbol(handle, b.symbol)
		if err != nil || sym == 0 {
			missing = append(missing, fmt.Errorf("symbol %s: %w", b.symbol, errors.Join(err, errMissingSymbol)))
			continue
		}
		purego.RegisterFunc(b.fptr, sym)
	}
	if len(missing) > 0 {
		_ = closeLibrary(handle)
		return nil, fmt.Errorf("failed to bind Neuron runtime library %q: %w", path, errors.Join(missing...))
	}
	return lib, nil
}

var errMissingSymbol = errors.New("symbol not found")

func (l *libnrt) close() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	handle := l.handle
	l.handle = 0
	return closeLibrary(handle)
}

func (l *libnrt) init(framework FrameworkType) Status {
	empty, emptyPtr := GoToCstring("")
	status := Status(l.nrtInit(uint32(framework), emptyPtr, emptyPtr))
	runtime.KeepAlive(empty)
	return status
}

func (l *libnrt) version() (VersionInfo, Status) {
	var v cVersion
	status := Status(l.nrtGetVersion(&v, unsafe.Sizeof(v)))
	if !status.OK() {
		return VersionInfo{}, status
	}
	return decodeVersion(&v), status
}

func (l *libnrt) totalCoreCount() (uint32, Status) {
	var count uint32
	status := Status(l.nrtGetTotalNCCount(&count))
	return count, status
}

func (l *libnrt) visibleCoreCount() (uint32, Status) {
	var count uint32
	status := Status(l.nrtGetVisibleNCCount(&count))
	return count, status
}

func (l *libnrt) Load(neff []byte, startCore, coreCount int32) (ModelHandle, Status) {
	if len(neff) == 0 {
		return 0, StatusInvalid
	}
	var model uintptr
	status := Status(l.nrtLoad(unsafe.Pointer(unsafe.SliceData(neff)), uintptr(len(neff)), startCore, coreCount, &model))
	runtime.KeepAlive(neff)
	return ModelHandle(model), status
}

func (l *libnrt) Unload(model ModelHandle) Status {
	return Status(l.nrtUnload(uintptr(model)))
}

func (l *libnrt) TensorInfo(model ModelHandle) ([]TensorInfo, Status) {
	var array uintptr
	status := Status(l.nrtGetTensorInfoArray(uintptr(model), &array))
	if !status.OK() {
		return nil, status
	}
	if array == 0 {
		return nil, StatusFailure
	}
	defer l.nrtFreeTensorInfo(array)

	count := *(*uint64)(unsafe.Pointer(array))
	if count == 0 {
		return []TensorInfo{}, StatusSuccess
	}
	entries := unsafe.Slice((*cTensorInfo)(unsafe.Pointer(array+unsafe.Sizeof(count))), count)

	infos := make([]TensorInfo, len(entries))
	for i := range entries {
		e := &entries[i]
		var dims []uint32
		if e.Shape != 0 && e.NDim > 0 {
			dims = unsafe.Slice((*uint32)(unsafe.Pointer(e.Shape)), e.NDim)
		}
		infos[i] = decodeTensorInfo(e, dims)
	}
	return infos, StatusSuccess
}

func (l *libnrt) TensorAllocateEmpty(name string) (TensorHandle, Status) {
	cname, cnamePtr := GoToCstring(name)
	var tensor uintptr
	status := Status(l.nrtTensorAllocEmpty(cnamePtr, &tensor))
	runtime.KeepAlive(cname)
	return TensorHandle(tensor), status
}

func (l *libnrt) TensorAttachBuffer(tensor TensorHandle, buf []byte) Status {
	return Status(l.nrtTensorAttachBuffer(uintptr(tensor), unsafe.Pointer(unsafe.SliceData(buf)), uintptr(len(buf))))
}

func (l *libnrt) TensorFree(tensor TensorHandle) {
	t := uintptr(tensor)
	l.nrtTensorFree(&t)
}

func (l *libnrt) TensorSetAllocate() (TensorSetHandle, Status) {
	var set uintptr
	status := Status(l.nrtAllocTensorSet(&set))
	return TensorSetHandle(set), status
}

func (l *libnrt) TensorSetAdd(set TensorSetHandle, name string, tensor TensorHandle) Status {
	cname, cnamePtr := GoToCstring(name)
	status := Status(l.nrtAddTensorToSet(uintptr(set), cnamePtr, uintptr(tensor)))
	runtime.KeepAlive(cname)
	return status
}

func (l *libnrt) TensorSetDestroy(set TensorSetHandle) {
	s := uintptr(set)
	l.nrtDestroyTensorSet(&s)
}

func (l *libnrt) Execute(model ModelHandle, inputs, outputs TensorSetHandle) Status {
	return Status(l.nrtExecute(uintptr(model), uintptr(inputs), uintptr(outputs)))
}

// decodeTensorInfo copies c and its shape into Go memory. dims is the native
// shape array, nil for scalars.
func decodeTensorInfo(c *cTensorInfo, dims []uint32) TensorInfo {
	return TensorInfo{
		Name:  fixedCString(c.Name[:]),
		Size:  c.Size,
		Usage: TensorUsage(c.Usage),
		DType: DType(c.DType),
		Shape: append([]uint32{}, dims...),
	}
}

func decodeVersion(c *cVersion) VersionInfo {
	return VersionInfo{
		Major:       c.Major,
		Minor:       c.Minor,
		Patch:       c.Patch,
		Maintenance: c.Maintenance,
		Detail:      fixedCString(c.Detail[:]),
		GitHash:     fixedCString(c.GitHash[:]),
	}
}
