package buffer

import "testing"

func TestCreateAndRegister(t *testing.T) {
	r := NewRegistry()
	buf, err := r.Create("frame-0", 4, 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer buf.Close()

	data := buf.Data()
	if len(data) != 4*8 {
		t.Fatalf("len(Data()) = %d, want %d", len(data), 4*8)
	}
	data[0] = 0xBEEF

	if _, err := r.Borrow("frame-0"); err != ErrUnknownName {
		t.Fatalf("Borrow before registration: err = %v, want ErrUnknownName", err)
	}

	r.RegisterForTransfer("frame-0", buf)
	if got := buf.RefCount(); got != 1 {
		t.Fatalf("RefCount = %d, want 1", got)
	}

	borrowed, err := r.Borrow("frame-0")
	if err != nil {
		t.Fatalf("Borrow: %v", err)
	}
	if borrowed.Data()[0] != 0xBEEF {
		t.Errorf("Borrow returned a different buffer")
	}

	released, err := r.Release("frame-0")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released != buf {
		t.Errorf("Release returned a different buffer")
	}
	if got := buf.RefCount(); got != 0 {
		t.Fatalf("RefCount after release = %d, want 0", got)
	}

	if _, err := r.Release("frame-0"); err != ErrUnknownName {
		t.Fatalf("second Release: err = %v, want ErrUnknownName", err)
	}
}

func TestRegisterForTransferStacks(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Create("live", 2, 2)
	b, _ := r.Create("live", 2, 2)
	defer a.Close()
	defer b.Close()

	r.RegisterForTransfer("live", a)
	r.RegisterForTransfer("live", b)

	top, err := r.Borrow("live")
	if err != nil || top != b {
		t.Fatalf("Borrow = %v, %v, want b, nil", top, err)
	}

	first, err := r.Release("live")
	if err != nil || first != b {
		t.Fatalf("first Release = %v, %v, want b, nil", first, err)
	}
	second, err := r.Release("live")
	if err != nil || second != a {
		t.Fatalf("second Release = %v, %v, want a, nil", second, err)
	}
	if _, err := r.Release("live"); err != ErrUnknownName {
		t.Fatalf("third Release err = %v, want ErrUnknownName", err)
	}
}
