// package buffer implements the named image buffer registry: a
// process-wide map from string names to a stack of pending image
// arrays, backed by anonymous shared memory so the same region could
// in principle be handed to another process by fd-passing.
package buffer

import (
	"errors"
	"log"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrUnknownName is returned by Release and Borrow when no buffer is
// registered under the requested name.
var ErrUnknownName = errors.New("buffer: unknown name")

// Buffer is a single named, shared-memory-backed image array: 16-bit
// unsigned samples in column-major order.
type Buffer struct {
	Name   string
	Height int
	Width  int

	mem  []byte
	mu   sync.Mutex
	refs int
	dead bool
}

// Data returns the buffer's pixels as a column-major uint16 view.
// len(Data()) == Height*Width.
func (b *Buffer) Data() []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b.mem[0])), b.Height*b.Width)
}

// Close releases the buffer's backing memory. It is safe to call more
// than once. Buffers still registered for transfer must not be closed;
// Release the registry entry (or let the finalizer run) instead.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return nil
	}
	b.dead = true
	runtime.SetFinalizer(b, nil)
	return unix.Munmap(b.mem)
}

func newBuffer(name string, height, width int) (*Buffer, error) {
	size := height * width * 2
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	b := &Buffer{Name: name, Height: height, Width: width, mem: mem}
	runtime.SetFinalizer(b, func(b *Buffer) { b.Close() })
	return b, nil
}

// Registry is the process-wide named buffer table. The zero value is
// not usable; use NewRegistry.
type Registry struct {
	mu      sync.Mutex
	entries map[string][]*Buffer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string][]*Buffer{}}
}

// Create allocates a new height x width buffer. The returned Buffer is
// not registered under any name; call RegisterForTransfer to publish
// it.
func (r *Registry) Create(name string, height, width int) (*Buffer, error) {
	return newBuffer(name, height, width)
}

// RegisterForTransfer appends buf to the stack kept under name and
// marks it as an outstanding pending delivery. The same name may be
// registered more than once, e.g. when multiple clients each want
// "the latest" live image.
func (r *Registry) RegisterForTransfer(name string, buf *Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf.mu.Lock()
	buf.refs++
	buf.mu.Unlock()
	r.entries[name] = append(r.entries[name], buf)
	log.Printf("buffer: registered %q (%d pending)", name, len(r.entries[name]))
}

// Release pops the most recently registered buffer for name, removing
// the entry entirely if the stack becomes empty. It fails with
// ErrUnknownName if name is not registered.
func (r *Registry) Release(name string) (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.entries[name]
	if len(stack) == 0 {
		return nil, ErrUnknownName
	}
	buf := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(r.entries, name)
	} else {
		r.entries[name] = stack
	}
	buf.mu.Lock()
	buf.refs--
	buf.mu.Unlock()
	log.Printf("buffer: released %q (%d left pending)", name, len(stack))
	return buf, nil
}

// Borrow returns, without removing, the most recently registered
// buffer for name. It fails with ErrUnknownName if name is not
// registered.
func (r *Registry) Borrow(name string) (*Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stack := r.entries[name]
	if len(stack) == 0 {
		return nil, ErrUnknownName
	}
	return stack[len(stack)-1], nil
}

// RefCount reports buf's current pending-transfer reference count.
func (b *Buffer) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}
