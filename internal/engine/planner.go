package engine

import (
	"math"
	"runtime"

	"github.com/oriys/aperture/internal/config"
)

// Plan is the Resource Planner's output: how many blocking workers
// and how many non-blocking slots the Worker Pool should run (spec.md
// §4.3, §4.4).
type Plan struct {
	BlockingWorkers  int
	NonBlockingSlots int
}

// PlanResources computes a Plan from the number of available CPUs, the total
// memory budget in GB, and whether the engine is running deployed
// (HTTPConfig.Deploy) — when not deployed, blocking workers are capped
// at cfg.LocalBlockingCap regardless of CPU count.
func PlanResources(cfg config.PlannerConfig, cpus int, totalMemGB float64, deploy bool) Plan {
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}

	usableMemGB := totalMemGB - cfg.ReservedFloorGB
	if usableMemGB < 0 {
		usableMemGB = 0
	}

	blockingMemBudget := usableMemGB * cfg.BlockingMemPct
	byMem := 0
	if cfg.PerBlockingGB > 0 {
		byMem = int(math.Floor(blockingMemBudget / cfg.PerBlockingGB))
	}
	byCPU := int(math.Floor(float64(cpus) * cfg.CPUMult))

	blockingWorkers := minInt(byCPU, byMem)
	if blockingWorkers < 1 {
		blockingWorkers = 1
	}
	if !deploy && cfg.LocalBlockingCap > 0 && blockingWorkers > cfg.LocalBlockingCap {
		blockingWorkers = cfg.LocalBlockingCap
	}

	remainingMemGB := usableMemGB - float64(blockingWorkers)*cfg.PerBlockingGB
	if remainingMemGB < 0 {
		remainingMemGB = 0
	}
	nonBlockingSlots := 1
	if cfg.PerNonBlockingGB > 0 {
		nonBlockingSlots = int(math.Floor(remainingMemGB / cfg.PerNonBlockingGB))
	}
	if nonBlockingSlots < 1 {
		nonBlockingSlots = 1
	}

	return Plan{BlockingWorkers: blockingWorkers, NonBlockingSlots: nonBlockingSlots}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
