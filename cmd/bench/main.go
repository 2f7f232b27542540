// Command bench drives an in-process task manager with synthetic
// workloads and reports outcome counts and latency percentiles.
package main

import "os"

func main() {
	if err := buildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
