package iotool

import (
	"context"
	"testing"
	"time"
)

func openSim(t *testing.T) (*Controller, *Simulator) {
	t.Helper()
	sim := NewSimulator()
	c, err := Open(sim.Opener())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, sim
}

func TestResetDisablesEcho(t *testing.T) {
	openSim(t)
}

func TestExecuteSetsPins(t *testing.T) {
	c, sim := openSim(t)
	resp, err := c.Execute(SetHigh("trigger"), SetLow("arm"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, r := range resp {
		if r != "" {
			t.Errorf("command %d: unexpected response %q", i, r)
		}
	}
	if !sim.PinHigh("trigger") {
		t.Error("trigger not driven high")
	}
	if sim.PinHigh("arm") {
		t.Error("arm unexpectedly driven high")
	}
}

func TestStoreProgramReportsOffenders(t *testing.T) {
	c, sim := openSim(t)
	bad := WaitHigh("nonexistent")
	sim.RejectCommand(bad, "unknown pin")

	err := c.StoreProgram(SetHigh("trigger"), bad, SetLow("trigger"))
	if err == nil {
		t.Fatal("expected ProgramError")
	}
	perr, ok := err.(*ProgramError)
	if !ok {
		t.Fatalf("expected *ProgramError, got %T: %v", err, err)
	}
	if reason, ok := perr.Offenders[bad]; !ok || reason != "unknown pin" {
		t.Errorf("offenders = %v, want entry for %q", perr.Offenders, bad)
	}
}

func TestStartProgramRunsToCompletion(t *testing.T) {
	c, sim := openSim(t)
	sim.RunDelay = 10 * time.Millisecond

	if err := c.StartProgram(3, SetHigh("trigger"), SetLow("trigger")); err != nil {
		t.Fatalf("StartProgram: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.WaitUntilDone(ctx); err != nil {
		t.Fatalf("WaitUntilDone: %v", err)
	}
}

func TestWaitUntilDoneCancellation(t *testing.T) {
	sim := NewSimulator()
	sim.RunDelay = time.Hour
	c, err := Open(sim.Opener())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if err := c.StartProgram(1, SetHigh("trigger")); err != nil {
		t.Fatalf("StartProgram: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.WaitUntilDone(ctx); err != context.DeadlineExceeded {
		t.Fatalf("WaitUntilDone error = %v, want context.DeadlineExceeded", err)
	}
}
