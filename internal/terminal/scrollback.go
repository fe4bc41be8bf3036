package terminal

import (
	"strings"
	"sync"
)

// Scrollback is a fixed-size ring buffer over raw terminal output. It bounds
// the history the agent can page through and protects against runaway
// producers like `yes` without ever blocking the output path.
type Scrollback struct {
	mu   sync.RWMutex
	buf  []byte
	size int
	head int // next write position
	tail int // oldest retained byte
	full bool
}

// NewScrollback creates a buffer retaining at most size bytes of output.
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = 256 * 1024
	}
	return &Scrollback{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer. Once full, the oldest bytes are overwritten.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range p {
		if s.full {
			s.tail = (s.tail + 1) % s.size
		}
		s.buf[s.head] = b
		s.head = (s.head + 1) % s.size
		if s.head == s.tail {
			s.full = true
		}
	}
	return len(p), nil
}

// snapshot returns the retained bytes in arrival order. Caller holds no lock.
func (s *Scrollback) snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.full && s.head == s.tail:
		return nil
	case s.full && s.head == s.tail:
		out := make([]byte, s.size)
		copy(out, s.buf[s.tail:])
		copy(out[s.size-s.tail:], s.buf[:s.head])
		return out
	case s.head > s.tail:
		out := make([]byte, s.head-s.tail)
		copy(out, s.buf[s.tail:s.head])
		return out
	default:
		out := make([]byte, (s.size-s.tail)+s.head)
		copy(out, s.buf[s.tail:])
		copy(out[s.size-s.tail:], s.buf[:s.head])
		return out
	}
}

// String returns the retained output, oldest first.
func (s *Scrollback) String() string {
	return string(s.snapshot())
}

// Lines splits the retained output into lines. Trailing newlines do not
// produce a phantom empty line; an empty buffer yields no lines.
func (s *Scrollback) Lines() []string {
	data := s.snapshot()
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

// Len returns the number of retained bytes.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch {
	case !s.full && s.head == s.tail:
		return 0
	case s.full && s.head == s.tail:
		return s.size
	case s.head > s.tail:
		return s.head - s.tail
	default:
		return (s.size - s.tail) + s.head
	}
}

// Reset discards all retained output.
func (s *Scrollback) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.head = 0
	s.tail = 0
	s.full = false
}

// Capacity returns the maximum number of retained bytes.
func (s *Scrollback) Capacity() int {
	return s.size
}
