package nrt

import (
	"errors"
)

// IoTensors pairs the input and output tensor sets of one program invocation.
type IoTensors struct {
	inputs  *TensorSet
	outputs *TensorSet
}

// NewIoTensors partitions infos by usage and allocates one empty tensor for
// each, so every declared tensor can later be bound by name.
func NewIoTensors(infos []TensorInfo, opts ...Option) (*IoTensors, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newIoTensors(cfg.runtime, infos)
}

func newIoTensors(rt Runtime, infos []TensorInfo) (*IoTensors, error) {
	var inputs, outputs []TensorInfo
	for _, info := range infos {
		switch info.Usage {
		case TensorUsageInput:
			inputs = append(inputs, info)
		case TensorUsageOutput:
			outputs = append(outputs, info)
		default:
			return nil, newStatusError("io tensors", ErrInvalidUsage, StatusInvalid, "tensor %q declares %s", info.Name, info.Usage)
		}
	}

	in, err := newTensorSetFromInfo(rt, inputs)
	if err != nil {
		return nil, err
	}
	out, err := newTensorSetFromInfo(rt, outputs)
	if err != nil {
		in.release()
		return nil, err
	}
	return &IoTensors{inputs: in, outputs: out}, nil
}

// Inputs returns the input set. IoTensors keeps ownership.
func (io *IoTensors) Inputs() *TensorSet {
	if io == nil {
		return nil
	}
	return io.inputs
}

// Outputs returns the output set. IoTensors keeps ownership.
func (io *IoTensors) Outputs() *TensorSet {
	if io == nil {
		return nil
	}
	return io.outputs
}

func (io *IoTensors) valid() bool {
	return io != nil && io.inputs.valid() && io.outputs.valid()
}

// Bind attaches buf to the tensor called name in the set selected by usage.
// Usage is validated before the name.
func (io *IoTensors) Bind(name string, usage TensorUsage, buf []byte) error {
	if !usage.Valid() {
		return newStatusError("bind", ErrInvalidUsage, StatusInvalid, "tensor %q: %s", name, usage)
	}
	if !io.valid() {
		return newStatusError("bind", ErrInvalidHandle, StatusInvalidHandle, "io tensors have been released")
	}

	set := io.inputs
	if usage == TensorUsageOutput {
		set = io.outputs
	}
	t, ok := set.Tensor(name)
	if !ok {
		return newStatusError("bind", ErrUnknownTensor, StatusInvalidHandle, "no %s tensor named %q", usage, name)
	}
	if len(buf) == 0 {
		return newStatusError("bind", ErrBufferSize, StatusInvalidHandle, "tensor %q: empty buffer", name)
	}
	return t.AttachBuffer(buf)
}

// Unbound returns the sorted names of declared tensors without a buffer,
// inputs first.
func (io *IoTensors) Unbound() []string {
	if io == nil {
		return nil
	}
	return append(io.inputs.Unbound(), io.outputs.Unbound()...)
}

func (io *IoTensors) checkBound(op string) error {
	return errors.Join(
		errUnboundTensors(op, "input", io.inputs.Unbound()),
		errUnboundTensors(op, "output", io.outputs.Unbound()),
	)
}

// Destroy releases both sets and their tensors. Calling it again is a no-op.
func (io *IoTensors) Destroy() error {
	if io == nil {
		return nil
	}
	return errors.Join(io.inputs.Destroy(), io.outputs.Destroy())
}
