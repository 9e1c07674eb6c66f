//go:build unix

package nrt_test

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/amikos-tech/pure-neuron/nrt"
	"github.com/amikos-tech/pure-neuron/nrt/nrttest"
)

func TestTensorAttachBufferOutsideGoHeap(t *testing.T) {
	mapped, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap failed: %v", err)
	}
	defer func() {
		if err := unix.Munmap(mapped); err != nil {
			t.Fatalf("munmap failed: %v", err)
		}
	}()

	rt := nrttest.New()
	info := nrttest.Output("y", nrt.DTypeUint8, 8)
	tensor, err := nrt.NewEmptyTensor(info, nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewEmptyTensor failed: %v", err)
	}

	buf := mapped[:info.Size]
	if err := tensor.AttachBuffer(buf); err != nil {
		t.Fatalf("AttachBuffer with mmapped memory failed: %v", err)
	}
	if &tensor.Buffer()[0] != &buf[0] {
		t.Fatalf("tensor is not bound to the mapped region")
	}

	// Rebinding unpins the previous buffer; here that buffer was never pinned.
	heap := make([]byte, info.Size)
	if err := tensor.AttachBuffer(heap); err != nil {
		t.Fatalf("AttachBuffer with heap memory failed: %v", err)
	}
	if err := tensor.AttachBuffer(buf); err != nil {
		t.Fatalf("re-attaching mmapped memory failed: %v", err)
	}
	requireDestroy(t, "tensor", tensor.Destroy)

	if rt.LiveTensors() != 0 {
		t.Fatalf("tensor leaked: %d live", rt.LiveTensors())
	}
}
