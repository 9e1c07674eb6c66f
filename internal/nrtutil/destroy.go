// Package nrtutil holds teardown helpers shared by packages that own several
// Neuron runtime resources at once.
package nrtutil

import (
	"errors"
	"reflect"
)

// Destroyer is implemented by Neuron runtime resources that must be explicitly
// destroyed: models, tensor sets, io tensors and tensors.
type Destroyer interface {
	Destroy() error
}

// DestroyAll destroys resources in order and joins all non-nil errors. Typed
// nil values are skipped, so partially constructed owners can pass every field.
// Order matters: binding sets minted from a model must precede the model.
func DestroyAll(resources ...Destroyer) error {
	var err error
	for _, resource := range resources {
		if isNilDestroyer(resource) {
			continue
		}
		if destroyErr := resource.Destroy(); destroyErr != nil {
			err = errors.Join(err, destroyErr)
		}
	}
	return err
}

func isNilDestroyer(resource Destroyer) bool {
	if resource == nil {
		return true
	}
	value := reflect.ValueOf(resource)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
