package insteon

import (
	"testing"
	"time"
)

func TestFinishedCommands(t *testing.T) {
	clock := newFakeClock()
	f := newFinishedCommands()
	f.now = clock.Now

	f.add(Command{RequestID: "old", State: StateDone, FinalizedAt: clock.Now()})
	clock.Advance(time.Minute)
	f.add(Command{RequestID: "new", State: StateFailed, FinalizedAt: clock.Now()})
	f.add(Command{RequestID: "pending", State: StateSent})
	f.add(Command{State: StateDone})

	if _, ok := f.get("pending"); ok {
		t.Error("in-flight commands must not be cached")
	}
	if done, failed := f.counts(); done != 1 || failed != 1 {
		t.Errorf("counts() = %d/%d, want 1/1", done, failed)
	}

	f.add(Command{RequestID: "new", State: StateDone, Message: "reused", FinalizedAt: clock.Now()})
	if cmd, _ := f.get("new"); cmd.Message != "reused" {
		t.Errorf("get(new) = %+v, want the latest entry", cmd)
	}

	if n := f.prune(30 * time.Second); n != 1 {
		t.Errorf("prune() = %d, want 1", n)
	}
	if _, ok := f.get("old"); ok {
		t.Error("old entry survived prune")
	}
	if _, ok := f.get("new"); !ok {
		t.Error("recent entry pruned")
	}
}
