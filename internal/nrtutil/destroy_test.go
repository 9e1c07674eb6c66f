package nrtutil

import (
	"errors"
	"testing"

	"github.com/amikos-tech/pure-neuron/nrt"
	"github.com/amikos-tech/pure-neuron/nrt/nrttest"
)

type recordingDestroyer struct {
	name  string
	err   error
	order *[]string
}

func (d *recordingDestroyer) Destroy() error {
	*d.order = append(*d.order, d.name)
	return d.err
}

func TestDestroyAllOrderAndErrors(t *testing.T) {
	var order []string
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	var typedNil *recordingDestroyer

	err := DestroyAll(
		&recordingDestroyer{name: "a", err: errA, order: &order},
		nil,
		typedNil,
		&recordingDestroyer{name: "b", order: &order},
		&recordingDestroyer{name: "c", err: errC, order: &order},
	)
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Fatalf("expected both errors to be joined, got %v", err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected destroy order: %v", order)
	}
}

func TestDestroyAllNeuronResources(t *testing.T) {
	rt := nrttest.New(
		nrttest.Input("x", nrt.DTypeUint8, 4),
		nrttest.Output("y", nrt.DTypeUint8, 4),
	)
	model, err := nrt.LoadModelFromBuffer([]byte("neff"), nrt.WithRuntime(rt))
	if err != nil {
		t.Fatalf("LoadModelFromBuffer failed: %v", err)
	}
	io, err := model.NewIoTensors()
	if err != nil {
		t.Fatalf("NewIoTensors failed: %v", err)
	}
	var unset *nrt.IoTensors

	if err := DestroyAll(io, unset, model); err != nil {
		t.Fatalf("DestroyAll failed: %v", err)
	}
	if rt.LiveModels() != 0 || rt.LiveTensors() != 0 || rt.LiveTensorSets() != 0 {
		t.Fatalf("leak: models=%d tensors=%d sets=%d", rt.LiveModels(), rt.LiveTensors(), rt.LiveTensorSets())
	}
}
