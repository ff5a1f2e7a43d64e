package mount

import "testing"

func kinds(ins []*instruction) []kind {
	var out []kind
	for _, in := range ins {
		out = append(out, in.kind)
	}
	return out
}

func TestQueueOrdering(t *testing.T) {
	q := newQueue()
	slew := newInstruction(kindSlew)
	lookup := newInstruction(kindLookup)
	calibrate := newInstruction(kindCalibrate)
	stop := newInstruction(kindStopJog)

	q.pushFront(slew)
	q.pushFront(lookup)
	q.pushBack(stop)
	q.pushFront(calibrate)

	var got []*instruction
	for i := 0; i < 4; i++ {
		in, ok := q.pop()
		if !ok {
			t.Fatal("queue closed early")
		}
		got = append(got, in)
	}
	// Most recently head-inserted first; tail-appended last.
	want := []kind{kindCalibrate, kindLookup, kindSlew, kindStopJog}
	for i, k := range want {
		if got[i].kind != k {
			t.Fatalf("pop order = %v, want %v", kinds(got), want)
		}
	}
}

func TestQueueRemoveMatchingCancels(t *testing.T) {
	q := newQueue()
	tick := newInstruction(kindGuideTick)
	slew := newInstruction(kindSlew)
	q.pushFront(tick)
	q.pushFront(slew)

	removed := q.removeMatching(func(in *instruction) bool { return in.kind == kindGuideTick })
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	select {
	case <-tick.done:
	default:
		t.Fatal("removed instruction not completed")
	}
	if tick.err != ErrCanceled {
		t.Errorf("removed instruction error = %v, want ErrCanceled", tick.err)
	}
	if q.len() != 1 {
		t.Errorf("queue length = %d, want 1", q.len())
	}
}

func TestQueuePushUnlessStopped(t *testing.T) {
	q := newQueue()
	stop := make(chan struct{})
	if !q.pushBackUnless(newInstruction(kindJogPulse), stop) {
		t.Fatal("push refused with open stop channel")
	}
	n := q.cancelSession(func() { close(stop) }, func(in *instruction) bool {
		return in.kind == kindJogPulse
	})
	if n != 1 {
		t.Fatalf("cancelSession removed %d, want 1", n)
	}
	if q.pushBackUnless(newInstruction(kindJogPulse), stop) {
		t.Error("push accepted after session canceled")
	}
	if q.pushFrontUnless(newInstruction(kindGuideTick), stop) {
		t.Error("front push accepted after session canceled")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := newQueue()
	in := newInstruction(kindSlew)
	q.pushFront(in)
	left := q.close()
	if len(left) != 1 || left[0] != in {
		t.Fatalf("close returned %d items, want the queued one", len(left))
	}
	if q.pushFront(newInstruction(kindSlew)) {
		t.Error("push accepted on closed queue")
	}
	if _, ok := q.pop(); ok {
		t.Error("pop returned an instruction from a closed queue")
	}
}
