package ioruntime

import (
	"context"
	"testing"
)

func TestLifecycle_InitStartStopExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if r.State() != StateInited {
		t.Fatalf("State() = %v, want StateInited", r.State())
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if r.State() != StateRunning {
		t.Fatalf("State() = %v, want StateRunning", r.State())
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if r.State() != StateStopping {
		t.Fatalf("State() = %v, want StateStopping after Stop", r.State())
	}

	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("Exit returned error: %v", err)
	}
	if r.State() != StateExited {
		t.Fatalf("State() = %v, want StateExited after Exit", r.State())
	}
}

func TestLifecycle_ExitWithoutStopImpliesStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("Exit returned error: %v", err)
	}
	if r.State() != StateExited {
		t.Fatalf("State() = %v, want StateExited", r.State())
	}
}

func TestLifecycle_ExitWithoutStartDoesNotLeakWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if r.State() != StateInited {
		t.Fatalf("State() = %v, want StateInited", r.State())
	}

	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("Exit returned error: %v", err)
	}
	if r.State() != StateExited {
		t.Fatalf("State() = %v, want StateExited after Exit without Start", r.State())
	}

	// Safe to call again: no pool was ever created to double-Stop.
	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("second Exit returned error: %v", err)
	}
}

func TestLifecycle_StartTwiceErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer r.Exit(context.Background())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Fatalf("second Start should have returned an error")
	}
}

func TestLifecycle_StopWithoutStartIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if r.State() != StateInited {
		t.Fatalf("State() = %v, want StateInited unchanged", r.State())
	}
}

func TestLifecycle_StopTwiceIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer r.Exit(context.Background())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop returned error: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if r.State() != StateStopping {
		t.Fatalf("State() = %v, want StateStopping", r.State())
	}
}

func TestLifecycle_ExitTwiceIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("first Exit returned error: %v", err)
	}
	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("second Exit returned error: %v", err)
	}
}

func TestLifecycle_SubmitDuringStoppingFailsWithShuttingDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer r.Exit(context.Background())

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if _, err := r.Timeout(0, func(OpId, Result) {}); !IsCode(err, ErrCodeShuttingDown) {
		t.Fatalf("Timeout during Stopping: err = %v, want ErrCodeShuttingDown", err)
	}
}

func TestLifecycle_MetricsSnapshotAvailableAfterExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	r, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := r.Exit(context.Background()); err != nil {
		t.Fatalf("Exit returned error: %v", err)
	}

	snap := r.MetricsSnapshot()
	if snap.UptimeNs == 0 {
		t.Fatalf("UptimeNs = 0, want > 0 after Exit stamps StopTime")
	}
}
