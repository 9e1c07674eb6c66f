package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/pure-neuron/internal/logging"
	"github.com/amikos-tech/pure-neuron/nrt"
)

// app holds state shared by every subcommand for one invocation.
type app struct {
	out     io.Writer
	backend backend

	libPath  string
	logLevel string
	logFile  string
	envFile  string

	logger   *zap.Logger
	closeLog func() error
	release  func() error
}

// NewCLI builds the command tree. A nil backend selects the native runtime.
func NewCLI(stdout, stderr io.Writer, b backend) *cobra.Command {
	if b == nil {
		b = nativeBackend{}
	}
	a := &app{out: stdout, backend: b, logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:           "nrtctl",
		Short:         "Inspect, run and benchmark compiled Neuron programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.libPath, "lib", "", fmt.Sprintf("path to libnrt.so (default: $%s, then %s)", nrt.LibraryPathEnv, nrt.DefaultLibraryDir))
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFile, "log-file", "", "also write JSON logs to this rotated file")
	flags.StringVar(&a.envFile, "env-file", "", "load environment variables from this file first")

	rootCmd.AddCommand(
		newVersionCmd(a),
		newTensorsCmd(a),
		newRunCmd(a),
		newBenchCmd(a),
	)
	return rootCmd
}

func (a *app) setup() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", a.envFile, err)
		}
	}

	logger, closeLog, err := logging.New(logging.Config{Level: a.logLevel, File: a.logFile})
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLog = closeLog
	nrt.SetLogger(logger)
	return nil
}

// runE wraps a command so the runtime and logger are released whether or not
// it fails.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.teardown())
		}()
		return fn(cmd, args)
	}
}

// open initializes the runtime once per invocation.
func (a *app) open() error {
	if a.release != nil {
		return nil
	}
	release, err := a.backend.Open(a.libPath)
	if err != nil {
		return err
	}
	a.release = release
	a.logger.Debug("Neuron runtime ready", zap.String("lib", a.libPath))
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.release != nil {
		err = a.release()
		a.release = nil
	}
	nrt.SetLogger(nil)
	if a.closeLog != nil {
		if closeErr := a.closeLog(); closeErr != nil && err == nil {
			err = closeErr
		}
		a.closeLog = nil
	}
	return err
}

// loadOptions merges the backend's options with per-command ones.
func (a *app) loadOptions(extra ...nrt.Option) []nrt.Option {
	return append(a.backend.LoadOptions(), extra...)
}

func fileArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if _, err := os.Stat(args[0]); err != nil {
		return err
	}
	return nil
}
