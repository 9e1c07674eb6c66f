//go:build windows

package nrt

import "errors"

// libnrt ships for Linux only.
var errUnsupportedPlatform = errors.New("the Neuron runtime is not available on windows")

func loadLibrary(string) (uintptr, error) {
	return 0, errUnsupportedPlatform
}

func getSymbol(uintptr, string) (uintptr, error) {
	return 0, errUnsupportedPlatform
}

func closeLibrary(uintptr) error {
	return nil
}
