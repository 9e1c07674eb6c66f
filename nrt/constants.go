package nrt

import "fmt"

const (
	// NRT_MAJOR_VERSION is the libnrt API major version these bindings target.
	NRT_MAJOR_VERSION = 2

	// tensorNameMax mirrors NRT_TENSOR_NAME_MAX.
	tensorNameMax = 256
	// versionDetailLen and gitHashLen mirror RT_VERSION_DETAIL_LEN and GIT_HASH_LEN.
	versionDetailLen = 128
	gitHashLen       = 64
)

// Status is a libnrt status code. Zero means success.
type Status uint32

const (
	StatusSuccess                   Status = 0
	StatusFailure                   Status = 1
	StatusInvalid                   Status = 2
	StatusInvalidHandle             Status = 3
	StatusResource                  Status = 4
	StatusTimeout                   Status = 5
	StatusHWError                   Status = 6
	StatusQueueFull                 Status = 7
	StatusLoadNotEnoughNC           Status = 9
	StatusUnsupportedNEFFVersion    Status = 10
	StatusUninitialized             Status = 13
	StatusClosed                    Status = 14
	StatusExecBadInput              Status = 1002
	StatusExecCompletedWithNumError Status = 1003
	StatusExecCompletedWithError    Status = 1004
	StatusExecNCBusy                Status = 1005
	StatusOOB                       Status = 1006
	StatusExecHWErrCollectives      Status = 1200
	StatusExecHWErrHBMUE            Status = 1201
)

// Statuses produced by this package, never by libnrt.
const (
	StatusStatFailed Status = 0x10000 + iota
	StatusMapFailed
)

var statusMessages = map[Status]string{
	StatusSuccess:                   "success",
	StatusFailure:                   "runtime error",
	StatusInvalid:                   "invalid NEFF, instruction, DMA descriptor or tensor name/size",
	StatusInvalidHandle:             "invalid handle",
	StatusResource:                  "failed to allocate a resource for the requested operation",
	StatusTimeout:                   "operation timed out",
	StatusHWError:                   "hardware failure",
	StatusQueueFull:                 "execution request queue is full",
	StatusLoadNotEnoughNC:           "not enough NeuronCores available for the requested operation",
	StatusUnsupportedNEFFVersion:    "unsupported NEFF version",
	StatusUninitialized:             "runtime is not initialized",
	StatusClosed:                    "runtime has been closed",
	StatusExecBadInput:              "invalid input submitted to execute",
	StatusExecCompletedWithNumError: "execution completed with numerical errors",
	StatusExecCompletedWithError:    "execution completed with errors",
	StatusExecNCBusy:                "NeuronCore is in use by another model or thread",
	StatusOOB:                       "indirect memory copy out of bounds",
	StatusExecHWErrCollectives:      "suspected collectives hang due to hardware errors",
	StatusExecHWErrHBMUE:            "uncorrectable HBM error",
	StatusStatFailed:                "cannot open or stat program file",
	StatusMapFailed:                 "cannot map program file",
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}

func (s Status) String() string {
	if msg, ok := statusMessages[s]; ok {
		return fmt.Sprintf("%s (%d)", msg, uint32(s))
	}
	return fmt.Sprintf("unknown status (%d)", uint32(s))
}

// TensorUsage is the declared role of a tensor in a program's interface.
type TensorUsage uint32

const (
	TensorUsageInput TensorUsage = iota
	TensorUsageOutput
)

// Valid reports whether u is input or output.
func (u TensorUsage) Valid() bool {
	return u == TensorUsageInput || u == TensorUsageOutput
}

func (u TensorUsage) String() string {
	switch u {
	case TensorUsageInput:
		return "input"
	case TensorUsageOutput:
		return "output"
	default:
		return fmt.Sprintf("usage(%d)", uint32(u))
	}
}

// ParseTensorUsage parses "input"/"in" or "output"/"out".
func ParseTensorUsage(s string) (TensorUsage, error) {
	switch s {
	case "input", "in":
		return TensorUsageInput, nil
	case "output", "out":
		return TensorUsageOutput, nil
	default:
		return 0, fmt.Errorf("unknown tensor usage %q", s)
	}
}

// DType is the element data type of a tensor.
type DType uint32

const (
	DTypeUnknown DType = iota
	DTypeFloat32
	DTypeFloat64
	DTypeFloat16
	DTypeBFloat16
	DTypeInt8
	DTypeUint8
	DTypeInt16
	DTypeUint16
	DTypeInt32
	DTypeUint32
	DTypeInt64
	DTypeUint64
)

var dtypeNames = [...]string{
	DTypeUnknown:  "unknown",
	DTypeFloat32:  "float32",
	DTypeFloat64:  "float64",
	DTypeFloat16:  "float16",
	DTypeBFloat16: "bfloat16",
	DTypeInt8:     "int8",
	DTypeUint8:    "uint8",
	DTypeInt16:    "int16",
	DTypeUint16:   "uint16",
	DTypeInt32:    "int32",
	DTypeUint32:   "uint32",
	DTypeInt64:    "int64",
	DTypeUint64:   "uint64",
}

func (d DType) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("dtype(%d)", uint32(d))
}

// ParseDType parses a dtype name as printed by DType.String.
func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if name == s && DType(d) != DTypeUnknown {
			return DType(d), nil
		}
	}
	return DTypeUnknown, fmt.Errorf("unknown dtype %q", s)
}

// ElementSize returns the size in bytes of one element, or 0 for unknown types.
func (d DType) ElementSize() int {
	switch d {
	case DTypeInt8, DTypeUint8:
		return 1
	case DTypeFloat16, DTypeBFloat16, DTypeInt16, DTypeUint16:
		return 2
	case DTypeFloat32, DTypeInt32, DTypeUint32:
		return 4
	case DTypeFloat64, DTypeInt64, DTypeUint64:
		return 8
	default:
		return 0
	}
}

// FrameworkType identifies the caller framework to nrt_init.
type FrameworkType uint32

const (
	FrameworkTypeInvalid FrameworkType = iota
	FrameworkTypeNoFW
	FrameworkTypeTensorflow
	FrameworkTypePytorch
	FrameworkTypeMXNet
)
