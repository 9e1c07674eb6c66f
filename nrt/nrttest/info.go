package nrttest

import "github.com/amikos-tech/pure-neuron/nrt"

// Input describes an input tensor whose size is derived from dtype and shape.
func Input(name string, dtype nrt.DType, shape ...uint32) nrt.TensorInfo {
	return info(name, nrt.TensorUsageInput, dtype, shape)
}

// Output describes an output tensor whose size is derived from dtype and shape.
func Output(name string, dtype nrt.DType, shape ...uint32) nrt.TensorInfo {
	return info(name, nrt.TensorUsageOutput, dtype, shape)
}

func info(name string, usage nrt.TensorUsage, dtype nrt.DType, shape []uint32) nrt.TensorInfo {
	ti := nrt.TensorInfo{
		Name:  name,
		Usage: usage,
		DType: dtype,
		Shape: append([]uint32{}, shape...),
	}
	ti.Size = ti.ElementCount() * uint64(dtype.ElementSize())
	return ti
}
