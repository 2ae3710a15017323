// Package main is the entry point for the canopy-agent inspection drone
// orchestrator.
package main

import (
	"github.com/canopy-robotics/canopy-agent/cmd"

	_ "github.com/canopy-robotics/canopy-agent/internal/objectdetector" // registers the "noop" detector
	_ "github.com/canopy-robotics/canopy-agent/internal/vlm"           // registers the "vlm" provider
)

func main() {
	cmd.FatalExecute()
}
