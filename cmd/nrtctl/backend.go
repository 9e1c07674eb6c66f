package main

import (
	"github.com/amikos-tech/pure-neuron/nrt"
)

// backend is the runtime the commands talk to: the native libnrt in
// production, an in-memory fake in tests.
type backend interface {
	// Open prepares the runtime and returns its release function.
	Open(libPath string) (func() error, error)
	Version() (nrt.VersionInfo, error)
	CoreCounts() (total, visible uint32, err error)
	// LoadOptions are passed to every model load.
	LoadOptions() []nrt.Option
}

type nativeBackend struct{}

func (nativeBackend) Open(libPath string) (func() error, error) {
	var opts []nrt.LibraryOption
	if libPath != "" {
		opts = append(opts, nrt.WithLibraryPath(libPath))
	}
	if err := nrt.InitializeEnvironmentWithDiscovery(opts...); err != nil {
		return nil, err
	}
	return nrt.DestroyEnvironment, nil
}

func (nativeBackend) Version() (nrt.VersionInfo, error) {
	return nrt.GetVersion()
}

func (nativeBackend) CoreCounts() (uint32, uint32, error) {
	total, err := nrt.TotalCoreCount()
	if err != nil {
		return 0, 0, err
	}
	visible, err := nrt.VisibleCoreCount()
	if err != nil {
		return 0, 0, err
	}
	return total, visible, nil
}

func (nativeBackend) LoadOptions() []nrt.Option {
	return nil
}
