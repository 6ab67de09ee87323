package eventbus

import "golang.org/x/sys/unix"

// SharedMap is an anonymous shared memory region that a process and the
// children it fork()s can all reach, so a buffer such as a coverage edges
// map can be written in place instead of serialized through the HTTP
// event path on every execution.
type SharedMap struct {
	data []byte
}

// NewSharedMap allocates a zeroed, page-aligned shared mapping of size
// bytes. The mapping survives fork() (MAP_SHARED | MAP_ANONYMOUS) but not
// exec(), so the launcher's os/exec-started workers do not inherit it.
func NewSharedMap(size int) (*SharedMap, error) {
	if size <= 0 {
		size = 1
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	return &SharedMap{data: data}, nil
}

// Bytes returns the live backing slice; writes from any process holding the
// same mapping are visible without copying.
func (m *SharedMap) Bytes() []byte { return m.data }

// Close unmaps the region.
func (m *SharedMap) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}
