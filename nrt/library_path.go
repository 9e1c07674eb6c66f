package nrt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// LibraryPathEnv names the environment variable holding an explicit libnrt path.
	LibraryPathEnv = "NEURON_RT_LIB_PATH"

	// DefaultLibraryDir is where the aws-neuronx-runtime-lib package installs libnrt.
	DefaultLibraryDir = "/opt/aws/neuron/lib"

	primaryLibraryName = "libnrt.so"
	libraryGlob        = "libnrt.so.*"
)

var errSharedLibraryNotFound = errors.New("Neuron runtime shared library not found")

// LibraryOption configures ResolveSharedLibrary.
type LibraryOption func(*libraryConfig) error

type libraryConfig struct {
	libraryPath string
	searchDirs  []string
}

// WithLibraryPath forces resolution to an existing libnrt path.
func WithLibraryPath(path string) LibraryOption {
	return func(cfg *libraryConfig) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("library path cannot be empty")
		}
		cfg.libraryPath = path
		return nil
	}
}

// WithSearchDirs replaces the directories searched for libnrt.so.
func WithSearchDirs(dirs ...string) LibraryOption {
	return func(cfg *libraryConfig) error {
		cleaned := make([]string, 0, len(dirs))
		for _, dir := range dirs {
			dir = strings.TrimSpace(dir)
			if dir == "" {
				return fmt.Errorf("search directory cannot be empty")
			}
			cleaned = append(cleaned, dir)
		}
		if len(cleaned) == 0 {
			return fmt.Errorf("at least one search directory is required")
		}
		cfg.searchDirs = cleaned
		return nil
	}
}

func resolveLibraryConfig(opts ...LibraryOption) (libraryConfig, error) {
	cfg := libraryConfig{
		libraryPath: strings.TrimSpace(os.Getenv(LibraryPathEnv)),
		searchDirs:  []string{DefaultLibraryDir},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return libraryConfig{}, err
		}
	}
	return cfg, nil
}

// ResolveSharedLibrary returns an absolute path to libnrt. An explicit path
// (option or NEURON_RT_LIB_PATH) wins; otherwise each search directory is
// checked for libnrt.so, then for versioned libnrt.so.* files.
func ResolveSharedLibrary(opts ...LibraryOption) (string, error) {
	cfg, err := resolveLibraryConfig(opts...)
	if err != nil {
		return "", err
	}

	if cfg.libraryPath != "" {
		return validateLibraryFile(cfg.libraryPath)
	}

	var errs []error
	for _, dir := range cfg.searchDirs {
		path, err := resolveLibraryInDir(dir)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, errSharedLibraryNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", fmt.Errorf("%w in %v; set %s", errSharedLibraryNotFound, cfg.searchDirs, LibraryPathEnv)
}

func resolveLibraryInDir(libDir string) (string, error) {
	var invalidCandidates []error
	trackCandidateError := func(path string, validationErr error) {
		if validationErr == nil {
			return
		}
		if errors.Is(validationErr, os.ErrNotExist) {
			return
		}
		invalidCandidates = append(invalidCandidates, fmt.Errorf("%s: %w", path, validationErr))
	}

	primaryPath := filepath.Join(libDir, primaryLibraryName)
	if path, err := validateLibraryFile(primaryPath); err == nil {
		return path, nil
	} else {
		trackCandidateError(primaryPath, err)
	}

	matches, err := filepath.Glob(filepath.Join(libDir, libraryGlob))
	if err != nil {
		return "", fmt.Errorf("failed to resolve Neuron runtime library path: %w", err)
	}
	sort.Strings(matches)
	for _, match := range matches {
		path, err := validateLibraryFile(match)
		if err == nil {
			return path, nil
		}
		trackCandidateError(match, err)
	}

	if len(invalidCandidates) > 0 {
		return "", fmt.Errorf("found Neuron runtime library candidates in %q but none are valid: %w", libDir, errors.Join(invalidCandidates...))
	}
	return "", errSharedLibraryNotFound
}

func validateLibraryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("library path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat library file %q: %w", absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("library path points to a directory: %q", absPath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("library file is empty: %q", absPath)
	}

	return absPath, nil
}
