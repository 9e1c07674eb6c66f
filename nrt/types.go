package nrt

import "fmt"

// ModelHandle is an opaque pointer to an nrt_model_t.
type ModelHandle uintptr

// TensorHandle is an opaque pointer to an nrt_tensor_t.
type TensorHandle uintptr

// TensorSetHandle is an opaque pointer to an nrt_tensor_set_t.
type TensorSetHandle uintptr

// Runtime is the native runtime service the core drives. Every fallible call
// reports a Status; handles are only meaningful when the status is success.
//
// The libnrt binding installed by InitializeEnvironment implements it, and
// nrttest.Runtime provides an in-memory implementation for tests.
type Runtime interface {
	Load(neff []byte, startCore, coreCount int32) (ModelHandle, Status)
	Unload(model ModelHandle) Status
	TensorInfo(model ModelHandle) ([]TensorInfo, Status)

	TensorAllocateEmpty(name string) (TensorHandle, Status)
	// TensorAttachBuffer registers buf as the tensor's storage without copying.
	// The runtime keeps referencing buf after the call returns.
	TensorAttachBuffer(tensor TensorHandle, buf []byte) Status
	TensorFree(tensor TensorHandle)

	TensorSetAllocate() (TensorSetHandle, Status)
	TensorSetAdd(set TensorSetHandle, name string, tensor TensorHandle) Status
	TensorSetDestroy(set TensorSetHandle)

	Execute(model ModelHandle, inputs, outputs TensorSetHandle) Status
}

// TensorInfo describes one tensor declared by a loaded program.
type TensorInfo struct {
	Name  string
	Size  uint64
	Usage TensorUsage
	DType DType
	Shape []uint32
}

// NDim returns the number of dimensions.
func (i TensorInfo) NDim() int {
	return len(i.Shape)
}

// ElementCount returns the number of elements implied by Shape.
func (i TensorInfo) ElementCount() uint64 {
	count := uint64(1)
	for _, dim := range i.Shape {
		count *= uint64(dim)
	}
	return count
}

func (i TensorInfo) String() string {
	return fmt.Sprintf("%s %s %s%v (%d bytes)", i.Usage, i.Name, i.DType, i.Shape, i.Size)
}

func (i TensorInfo) clone() TensorInfo {
	c := i
	if i.Shape != nil {
		c.Shape = append([]uint32(nil), i.Shape...)
	}
	return c
}

func cloneTensorInfos(infos []TensorInfo) []TensorInfo {
	out := make([]TensorInfo, len(infos))
	for idx, info := range infos {
		out[idx] = info.clone()
	}
	return out
}

// VersionInfo is the runtime version reported by nrt_get_version.
type VersionInfo struct {
	Major       uint64
	Minor       uint64
	Patch       uint64
	Maintenance uint64
	Detail      string
	GitHash     string
}

// SemanticVersion formats the version as major.minor.patch.
func (v VersionInfo) SemanticVersion() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v VersionInfo) String() string {
	s := fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Maintenance)
	if v.GitHash != "" {
		s += " (" + v.GitHash + ")"
	}
	return s
}
