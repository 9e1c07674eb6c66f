// Command nrtctl inspects, runs and benchmarks compiled Neuron programs
// through the pure-Go libnrt bindings.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewCLI(os.Stdout, os.Stderr, nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
