package camera

import "testing"

func TestEnqueueDequeueRawIsFIFOCount(t *testing.T) {
	f := newBufferFactory(4, 4, 8, "test")

	if f.dequeueRaw() {
		t.Fatalf("dequeueRaw on empty factory reported a ticket")
	}

	f.enqueueRaw()
	f.enqueueRaw()
	f.enqueueRaw()

	for i := 0; i < 3; i++ {
		if !f.dequeueRaw() {
			t.Fatalf("dequeueRaw %d: expected a queued ticket", i)
		}
	}
	if f.dequeueRaw() {
		t.Fatalf("dequeueRaw after draining all tickets reported one anyway")
	}
}

func TestNextNameIsUnique(t *testing.T) {
	f := newBufferFactory(4, 4, 8, "seq")
	a := f.nextName()
	b := f.nextName()
	if a == b {
		t.Fatalf("nextName returned %q twice", a)
	}
}
