package nrt

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

var (
	mu       sync.Mutex
	refCount int
	lib      *libnrt
	libPath  string
)

// SetSharedLibraryPath sets the path to libnrt.so. It cannot be changed while
// the environment is initialized.
func SetSharedLibraryPath(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if refCount > 0 {
		return fmt.Errorf("cannot change library path after environment is initialized")
	}
	libPath = path
	return nil
}

// InitializeEnvironment loads libnrt and calls nrt_init. Calls are reference
// counted; each must be paired with DestroyEnvironment.
func InitializeEnvironment() error {
	mu.Lock()
	defer mu.Unlock()

	if refCount > 0 {
		refCount++
		return nil
	}

	path := libPath
	if path == "" {
		resolved, err := ResolveSharedLibrary()
		if err != nil {
			return err
		}
		path = resolved
	}

	l, err := openLibnrt(path)
	if err != nil {
		return err
	}

	if status := l.init(FrameworkTypeNoFW); !status.OK() {
		closeErr := l.close()
		return errors.Join(newStatusError("initialize", ErrNotInitialized, status, "nrt_init"), closeErr)
	}

	lib = l
	libPath = path
	refCount = 1
	logger().Info("Neuron runtime initialized", zap.String("library", path))
	return nil
}

// InitializeEnvironmentWithDiscovery resolves libnrt with opts, sets it as the
// library path and initializes the environment.
func InitializeEnvironmentWithDiscovery(opts ...LibraryOption) error {
	path, err := ResolveSharedLibrary(opts...)
	if err != nil {
		return err
	}

	mu.Lock()
	alreadyInitialized := refCount > 0
	currentPath := libPath
	mu.Unlock()

	if alreadyInitialized && currentPath != path {
		return fmt.Errorf("cannot change library path after environment is initialized")
	}

	if !alreadyInitialized {
		if err := SetSharedLibraryPath(path); err != nil {
			// Another goroutine may have initialized after we checked state.
			mu.Lock()
			alreadyInitialized = refCount > 0
			currentPath = libPath
			mu.Unlock()
			if !(alreadyInitialized && currentPath == path) {
				return err
			}
		}
	}

	return InitializeEnvironment()
}

// DestroyEnvironment drops one reference. The last reference calls nrt_close
// and unloads the library. Every Model must be destroyed first.
func DestroyEnvironment() error {
	mu.Lock()
	defer mu.Unlock()

	if refCount == 0 {
		return nil
	}
	refCount--
	if refCount > 0 {
		return nil
	}

	l := lib
	lib = nil
	if l == nil {
		return nil
	}
	l.nrtClose()
	if err := l.close(); err != nil {
		return fmt.Errorf("failed to unload Neuron runtime library: %w", err)
	}
	logger().Info("Neuron runtime closed")
	return nil
}

// IsInitialized reports whether the environment holds at least one reference.
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return refCount > 0
}

func currentRuntime() (Runtime, error) {
	l, err := currentLibrary()
	if err != nil {
		return nil, err
	}
	return l, nil
}

func currentLibrary() (*libnrt, error) {
	mu.Lock()
	defer mu.Unlock()
	if refCount == 0 || lib == nil {
		return nil, ErrNotInitialized
	}
	return lib, nil
}

// GetVersion returns the loaded runtime's version.
func GetVersion() (VersionInfo, error) {
	l, err := currentLibrary()
	if err != nil {
		return VersionInfo{}, err
	}
	v, status := l.version()
	if !status.OK() {
		return VersionInfo{}, newStatusError("version", ErrRuntimeQuery, status, "nrt_get_version")
	}
	return v, nil
}

// TotalCoreCount returns the number of NeuronCores on the instance.
func TotalCoreCount() (uint32, error) {
	l, err := currentLibrary()
	if err != nil {
		return 0, err
	}
	count, status := l.totalCoreCount()
	if !status.OK() {
		return 0, newStatusError("core count", ErrRuntimeQuery, status, "nrt_get_total_nc_count")
	}
	return count, nil
}

// VisibleCoreCount returns the number of NeuronCores this process may use.
func VisibleCoreCount() (uint32, error) {
	l, err := currentLibrary()
	if err != nil {
		return 0, err
	}
	count, status := l.visibleCoreCount()
	if !status.OK() {
		return 0, newStatusError("core count", ErrRuntimeQuery, status, "nrt_get_visible_nc_count")
	}
	return count, nil
}

// CheckVersion verifies the loaded runtime against a semver constraint such
// as ">= 2.20". An empty constraint accepts any release of NRT_MAJOR_VERSION.
// It returns the version it checked.
func CheckVersion(constraint string) (VersionInfo, error) {
	v, err := GetVersion()
	if err != nil {
		return VersionInfo{}, err
	}
	return v, CheckVersionConstraint(v, constraint)
}

// CheckVersionConstraint reports whether v satisfies constraint. An empty
// constraint requires the major version these bindings target.
func CheckVersionConstraint(v VersionInfo, constraint string) error {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		constraint = fmt.Sprintf(">= %d.0.0, < %d.0.0", NRT_MAJOR_VERSION, NRT_MAJOR_VERSION+1)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	sv, err := semver.NewVersion(v.SemanticVersion())
	if err != nil {
		return fmt.Errorf("invalid runtime version %q: %w", v.SemanticVersion(), err)
	}
	if ok, errs := c.Validate(sv); !ok {
		return fmt.Errorf("Neuron runtime %s does not satisfy %q: %w", sv, constraint, errors.Join(errs...))
	}
	return nil
}
