package engine

import (
	"testing"

	"github.com/oriys/aperture/internal/config"
)

func TestPlanResources_CPUBound(t *testing.T) {
	cfg := config.PlannerConfig{
		CPUMult:          2,
		PerBlockingGB:    0.25,
		PerNonBlockingGB: 0.15,
		BlockingMemPct:   0.6,
		LocalBlockingCap: 100,
		ReservedFloorGB:  1,
	}

	plan := PlanResources(cfg, 4, 64, true)

	// byCPU = floor(4*2) = 8, byMem = floor((64-1)*0.6/0.25) = floor(151.2) = 151
	// min(8, 151) = 8
	if plan.BlockingWorkers != 8 {
		t.Fatalf("BlockingWorkers = %d, want 8", plan.BlockingWorkers)
	}
}

func TestPlanResources_MemBound(t *testing.T) {
	cfg := config.PlannerConfig{
		CPUMult:          2,
		PerBlockingGB:    0.25,
		PerNonBlockingGB: 0.15,
		BlockingMemPct:   0.6,
		LocalBlockingCap: 100,
		ReservedFloorGB:  1,
	}

	// usableMemGB = 2-1 = 1, blockingMemBudget = 0.6, byMem = floor(0.6/0.25) = 2
	// byCPU = floor(64*2) = 128, min = 2
	plan := PlanResources(cfg, 64, 2, true)
	if plan.BlockingWorkers != 2 {
		t.Fatalf("BlockingWorkers = %d, want 2", plan.BlockingWorkers)
	}
}

func TestPlanResources_LocalCapApplies(t *testing.T) {
	cfg := config.PlannerConfig{
		CPUMult:          2,
		PerBlockingGB:    0.1,
		PerNonBlockingGB: 0.1,
		BlockingMemPct:   0.9,
		LocalBlockingCap: 4,
		ReservedFloorGB:  0,
	}

	plan := PlanResources(cfg, 32, 128, false)
	if plan.BlockingWorkers != 4 {
		t.Fatalf("BlockingWorkers = %d, want 4 (local cap)", plan.BlockingWorkers)
	}
}

func TestPlanResources_LocalCapIgnoredWhenDeployed(t *testing.T) {
	cfg := config.PlannerConfig{
		CPUMult:          2,
		PerBlockingGB:    0.1,
		PerNonBlockingGB: 0.1,
		BlockingMemPct:   0.9,
		LocalBlockingCap: 4,
		ReservedFloorGB:  0,
	}

	plan := PlanResources(cfg, 32, 128, true)
	if plan.BlockingWorkers <= 4 {
		t.Fatalf("BlockingWorkers = %d, expected > 4 when deployed (cap should not apply)", plan.BlockingWorkers)
	}
}

func TestPlanResources_NeverBelowOne(t *testing.T) {
	cfg := config.PlannerConfig{
		CPUMult:          0.01,
		PerBlockingGB:    100,
		PerNonBlockingGB: 100,
		BlockingMemPct:   0.1,
		LocalBlockingCap: 4,
		ReservedFloorGB:  1,
	}

	plan := PlanResources(cfg, 1, 2, true)
	if plan.BlockingWorkers < 1 {
		t.Fatalf("BlockingWorkers = %d, must be >= 1", plan.BlockingWorkers)
	}
	if plan.NonBlockingSlots < 1 {
		t.Fatalf("NonBlockingSlots = %d, must be >= 1", plan.NonBlockingSlots)
	}
}

func TestPlanResources_DefaultsCPUWhenZero(t *testing.T) {
	cfg := config.PlannerConfig{
		CPUMult:          1,
		PerBlockingGB:    0.25,
		PerNonBlockingGB: 0.15,
		BlockingMemPct:   0.6,
		LocalBlockingCap: 4,
		ReservedFloorGB:  0,
	}

	plan := PlanResources(cfg, 0, 16, true)
	if plan.BlockingWorkers < 1 {
		t.Fatalf("BlockingWorkers = %d, must default CPU count and stay >= 1", plan.BlockingWorkers)
	}
}
