package nrt_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/amikos-tech/pure-neuron/nrt"
	"github.com/amikos-tech/pure-neuron/nrt/nrttest"
)

func newTestTensor(t *testing.T, rt nrt.Runtime, info nrt.TensorInfo) *nrt.Tensor {
	t.Helper()
	tensor, err := nrt.NewEmptyTensor(info, nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewEmptyTensor(%s) failed: %v", info.Name, err)
	}
	return tensor
}

func TestTensorSetAddAndLookup(t *testing.T) {
	rt := nrttest.New()
	set, err := nrt.NewTensorSet(nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewTensorSet failed: %v", err)
	}
	defer requireDestroy(t, "tensor set", set.Destroy)

	a := newTestTensor(t, rt, nrttest.Input("b", nrt.DTypeFloat32, 2))
	b := newTestTensor(t, rt, nrttest.Input("a", nrt.DTypeFloat32, 2))
	for _, tensor := range []*nrt.Tensor{a, b} {
		if err := set.Add(tensor); err != nil {
			t.Fatalf("Add(%s) failed: %v", tensor.Name(), err)
		}
	}

	got, ok := set.Tensor("b")
	if !ok || got != a {
		t.Fatalf("Tensor(b) returned %p, want %p", got, a)
	}
	if _, ok := set.Tensor("missing"); ok {
		t.Fatalf("Tensor(missing) should be absent")
	}
	if diff := cmp.Diff([]string{"a", "b"}, set.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, rt.SetMembers(set.Handle())); diff != "" {
		t.Fatalf("unexpected native members (-want +got):\n%s", diff)
	}
	if err := a.Destroy(); !errors.Is(err, nrt.ErrTensorOwned) {
		t.Fatalf("expected ErrTensorOwned for a set-owned tensor, got %v", err)
	}
}

func TestTensorSetFailedAddLeavesNameAbsent(t *testing.T) {
	rt := nrttest.New()
	set, err := nrt.NewTensorSet(nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewTensorSet failed: %v", err)
	}
	defer requireDestroy(t, "tensor set", set.Destroy)

	tensor := newTestTensor(t, rt, nrttest.Input("x", nrt.DTypeUint8, 4))
	rt.FailOn(nrttest.OpTensorSetAdd, nrt.StatusResource)

	err = set.Add(tensor)
	if !errors.Is(err, nrt.ErrAllocation) {
		t.Fatalf("expected ErrAllocation, got %v", err)
	}
	if nrt.StatusOf(err) != nrt.StatusResource {
		t.Fatalf("expected native status to be carried, got %v", nrt.StatusOf(err))
	}
	if _, ok := set.Tensor("x"); ok {
		t.Fatalf("failed Add must not register the tensor")
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty set, got %d entries", set.Len())
	}

	// The caller still owns the tensor.
	requireDestroy(t, "tensor", tensor.Destroy)
	if rt.LiveTensors() != 0 {
		t.Fatalf("tensor leaked after failed add")
	}
}

func TestTensorSetRejectsTensorOwnedElsewhere(t *testing.T) {
	rt := nrttest.New()
	first, err := nrt.NewTensorSet(nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewTensorSet failed: %v", err)
	}
	defer requireDestroy(t, "first set", first.Destroy)
	second, err := nrt.NewTensorSet(nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewTensorSet failed: %v", err)
	}
	defer requireDestroy(t, "second set", second.Destroy)

	tensor := newTestTensor(t, rt, nrttest.Input("x", nrt.DTypeUint8, 4))
	if err := first.Add(tensor); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := second.Add(tensor); !errors.Is(err, nrt.ErrTensorOwned) {
		t.Fatalf("expected ErrTensorOwned, got %v", err)
	}
}

func TestTensorSetDestroyOrder(t *testing.T) {
	rt := nrttest.New()
	set, err := nrt.NewTensorSet(nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewTensorSet failed: %v", err)
	}

	for _, name := range []string{"x", "y", "x"} {
		if err := set.Add(newTestTensor(t, rt, nrttest.Input(name, nrt.DTypeUint8, 4))); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 named tensors, got %d", set.Len())
	}

	requireDestroy(t, "tensor set", set.Destroy)
	requireDestroy(t, "tensor set (again)", set.Destroy)

	if rt.LiveTensors() != 0 || rt.LiveTensorSets() != 0 {
		t.Fatalf("leak after destroy: tensors=%d sets=%d", rt.LiveTensors(), rt.LiveTensorSets())
	}
	if rt.DanglingFrees() != 0 {
		t.Fatalf("tensors were freed while the native set still referenced them")
	}
	if rt.DoubleFrees() != 0 {
		t.Fatalf("unexpected double frees: %d", rt.DoubleFrees())
	}
	if got := rt.Calls(nrttest.OpTensorFree); got != 3 {
		t.Fatalf("expected 3 tensor frees including the displaced one, got %d", got)
	}
}

func TestNewTensorSetFromInfoCleansUpOnFailure(t *testing.T) {
	infos := []nrt.TensorInfo{
		nrttest.Input("a", nrt.DTypeUint8, 4),
		nrttest.Input("b", nrt.DTypeUint8, 4),
		nrttest.Input("c", nrt.DTypeUint8, 4),
	}

	tests := []struct {
		name string
		op   nrttest.Op
		n    int
	}{
		{name: "set allocation", op: nrttest.OpTensorSetAllocate, n: 0},
		{name: "third tensor allocation", op: nrttest.OpTensorAllocate, n: 2},
		{name: "second add", op: nrttest.OpTensorSetAdd, n: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := nrttest.New()
			rt.FailAfter(tt.op, tt.n, nrt.StatusResource)

			set, err := nrt.NewTensorSetFromInfo(infos, nrt.WithRuntime(rt))
			if err == nil {
				t.Fatalf("expected error, got set with %d tensors", set.Len())
			}
			if !errors.Is(err, nrt.ErrAllocation) {
				t.Fatalf("expected ErrAllocation, got %v", err)
			}
			if rt.LiveTensors() != 0 || rt.LiveTensorSets() != 0 {
				t.Fatalf("leak after failed construction: tensors=%d sets=%d", rt.LiveTensors(), rt.LiveTensorSets())
			}
			if rt.DanglingFrees() != 0 || rt.DoubleFrees() != 0 {
				t.Fatalf("bad teardown: dangling=%d double=%d", rt.DanglingFrees(), rt.DoubleFrees())
			}
		})
	}
}

func TestTensorSetUseAfterDestroy(t *testing.T) {
	rt := nrttest.New()
	set, err := nrt.NewTensorSet(nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("NewTensorSet failed: %v", err)
	}
	requireDestroy(t, "tensor set", set.Destroy)

	tensor := newTestTensor(t, rt, nrttest.Input("x", nrt.DTypeUint8, 4))
	defer requireDestroy(t, "tensor", tensor.Destroy)

	if err := set.Add(tensor); !errors.Is(err, nrt.ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
	if set.Len() != 0 || set.Handle() != 0 {
		t.Fatalf("destroyed set should be empty")
	}
}
