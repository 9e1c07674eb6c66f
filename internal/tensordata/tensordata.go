// Package tensordata converts between numeric values and the little-endian
// byte layout libnrt expects for each tensor dtype.
package tensordata

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/amikos-tech/pure-neuron/nrt"
)

// Number is the set of Go element types that share a layout with a Neuron dtype.
type Number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// AsBytes reinterprets s as raw bytes without copying. The result aliases s.
func AsBytes[T Number](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// Encode packs values into a new buffer laid out as dtype.
func Encode(dtype nrt.DType, values []float64) ([]byte, error) {
	size := dtype.ElementSize()
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	buf := make([]byte, len(values)*size)
	if err := EncodeInto(buf, dtype, values); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto packs values into dst, which must hold exactly len(values) elements.
func EncodeInto(dst []byte, dtype nrt.DType, values []float64) error {
	size := dtype.ElementSize()
	if size == 0 {
		return fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(dst) != len(values)*size {
		return fmt.Errorf("buffer is %d bytes, %d %s values need %d", len(dst), len(values), dtype, len(values)*size)
	}

	if dtype == nrt.DTypeBFloat16 {
		f32s := make([]float32, len(values))
		for i, v := range values {
			f32s[i] = float32(v)
		}
		copy(dst, bfloat16.EncodeFloat32(f32s))
		return nil
	}

	le := binary.LittleEndian
	for i, v := range values {
		b := dst[i*size : (i+1)*size]
		switch dtype {
		case nrt.DTypeFloat32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case nrt.DTypeFloat64:
			le.PutUint64(b, math.Float64bits(v))
		case nrt.DTypeFloat16:
			le.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
		default:
			if err := putInteger(b, dtype, v); err != nil {
				return fmt.Errorf("value %d: %w", i, err)
			}
		}
	}
	return nil
}

func putInteger(b []byte, dtype nrt.DType, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return fmt.Errorf("%v is not an integer", v)
	}

	var lo, hi float64
	switch dtype {
	case nrt.DTypeInt8:
		lo, hi = math.MinInt8, math.MaxInt8
	case nrt.DTypeUint8:
		lo, hi = 0, math.MaxUint8
	case nrt.DTypeInt16:
		lo, hi = math.MinInt16, math.MaxInt16
	case nrt.DTypeUint16:
		lo, hi = 0, math.MaxUint16
	case nrt.DTypeInt32:
		lo, hi = math.MinInt32, math.MaxInt32
	case nrt.DTypeUint32:
		lo, hi = 0, math.MaxUint32
	case nrt.DTypeInt64:
		// Largest float64 values below 2^63 and 2^64.
		lo, hi = -(1 << 63), (1<<63)-1024
	case nrt.DTypeUint64:
		lo, hi = 0, (1<<64)-2048
	default:
		return fmt.Errorf("unsupported dtype %s", dtype)
	}
	if v < lo || v > hi {
		return fmt.Errorf("%v overflows %s", v, dtype)
	}

	le := binary.LittleEndian
	switch dtype {
	case nrt.DTypeInt8:
		b[0] = byte(int8(v))
	case nrt.DTypeUint8:
		b[0] = uint8(v)
	case nrt.DTypeInt16:
		le.PutUint16(b, uint16(int16(v)))
	case nrt.DTypeUint16:
		le.PutUint16(b, uint16(v))
	case nrt.DTypeInt32:
		le.PutUint32(b, uint32(int32(v)))
	case nrt.DTypeUint32:
		le.PutUint32(b, uint32(v))
	case nrt.DTypeInt64:
		le.PutUint64(b, uint64(int64(v)))
	case nrt.DTypeUint64:
		le.PutUint64(b, uint64(v))
	}
	return nil
}

// Decode unpacks buf laid out as dtype.
func Decode(dtype nrt.DType, buf []byte) ([]float64, error) {
	size := dtype.ElementSize()
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(buf)%size != 0 {
		return nil, fmt.Errorf("buffer of %d bytes is not a whole number of %s elements", len(buf), dtype)
	}

	if dtype == nrt.DTypeBFloat16 {
		f32s := bfloat16.DecodeFloat32(buf)
		out := make([]float64, len(f32s))
		for i, v := range f32s {
			out[i] = float64(v)
		}
		return out, nil
	}

	le := binary.LittleEndian
	out := make([]float64, len(buf)/size)
	for i := range out {
		b := buf[i*size : (i+1)*size]
		switch dtype {
		case nrt.DTypeFloat32:
			out[i] = float64(math.Float32frombits(le.Uint32(b)))
		case nrt.DTypeFloat64:
			out[i] = math.Float64frombits(le.Uint64(b))
		case nrt.DTypeFloat16:
			out[i] = float64(float16.Frombits(le.Uint16(b)).Float32())
		case nrt.DTypeInt8:
			out[i] = float64(int8(b[0]))
		case nrt.DTypeUint8:
			out[i] = float64(b[0])
		case nrt.DTypeInt16:
			out[i] = float64(int16(le.Uint16(b)))
		case nrt.DTypeUint16:
			out[i] = float64(le.Uint16(b))
		case nrt.DTypeInt32:
			out[i] = float64(int32(le.Uint32(b)))
		case nrt.DTypeUint32:
			out[i] = float64(le.Uint32(b))
		case nrt.DTypeInt64:
			out[i] = float64(int64(le.Uint64(b)))
		case nrt.DTypeUint64:
			out[i] = float64(le.Uint64(b))
		}
	}
	return out, nil
}

// ConvertUint32 lays out token ids as dtype. uint32 input is returned as a
// zero-copy view; other integer dtypes are widened or narrowed into a new buffer.
func ConvertUint32(dtype nrt.DType, src []uint32) ([]byte, error) {
	if dtype == nrt.DTypeUint32 {
		return AsBytes(src), nil
	}
	switch dtype {
	case nrt.DTypeInt32, nrt.DTypeInt64, nrt.DTypeUint64, nrt.DTypeInt16, nrt.DTypeUint16, nrt.DTypeInt8, nrt.DTypeUint8:
	default:
		return nil, fmt.Errorf("token ids cannot be laid out as %s", dtype)
	}

	values := make([]float64, len(src))
	for i, v := range src {
		values[i] = float64(v)
	}
	return Encode(dtype, values)
}
