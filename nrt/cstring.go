package nrt

import "unsafe"

// CstringToGo converts a C null-terminated string pointer to a Go string.
// Returns empty string if ptr is 0 (null).
func CstringToGo(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}

	// Scan with a bounded window to avoid checkptr issues on C memory. libnrt
	// strings are tensor names and version details, far below this bound.
	const maxStringLen = 1 << 20
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), maxStringLen)

	var length int
	for i := 0; i < maxStringLen; i++ {
		if bytes[i] == 0 {
			length = i
			break
		}
	}
	return string(bytes[:length])
}

// GoToCstring converts a Go string to a null-terminated byte slice suitable for
// passing to C functions. The caller must keep the returned slice alive for as
// long as the C side may read it.
func GoToCstring(s string) ([]byte, uintptr) {
	b := append([]byte(s), 0)
	return b, uintptr(unsafe.Pointer(&b[0]))
}

// fixedCString decodes a fixed-size char array such as nrt_tensor_info_t.name.
// The result stops at the first NUL, or at the end of the array if none.
func fixedCString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
