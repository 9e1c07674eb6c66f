package nrt

import "fmt"

// Option configures model loading and tensor construction.
type Option func(*config) error

type config struct {
	runtime   Runtime
	startCore int32
	coreCount int32
}

// WithRuntime uses rt instead of the libnrt binding installed by InitializeEnvironment.
func WithRuntime(rt Runtime) Option {
	return func(cfg *config) error {
		if rt == nil {
			return fmt.Errorf("runtime cannot be nil")
		}
		cfg.runtime = rt
		return nil
	}
}

// WithCoreRange selects the NeuronCores a program is loaded onto.
// -1 for either value lets the runtime choose.
func WithCoreRange(startCore, coreCount int32) Option {
	return func(cfg *config) error {
		if startCore < -1 {
			return fmt.Errorf("start core must be >= -1, got %d", startCore)
		}
		if coreCount < -1 || coreCount == 0 {
			return fmt.Errorf("core count must be -1 or > 0, got %d", coreCount)
		}
		cfg.startCore = startCore
		cfg.coreCount = coreCount
		return nil
	}
}

func resolveConfig(opts ...Option) (config, error) {
	cfg := config{
		startCore: -1,
		coreCount: -1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}

	if cfg.runtime == nil {
		rt, err := currentRuntime()
		if err != nil {
			return config{}, err
		}
		cfg.runtime = rt
	}
	return cfg, nil
}
