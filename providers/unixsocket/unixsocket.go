// Package unixsocket implements the Unix-domain socket provider of
// spec.md §4.6: bind/listen/accept/connect/send/recv/close over a
// process-global socket list, with blocking rendezvous expressed as a
// single mutex-guarded sync.Cond standing in for the original's
// "interrupts-off + thread_change_state(WAIT_IO) + halt" critical
// sections, per the REDESIGN FLAGS. Every waiter re-checks its
// predicate in a for loop after each wake, so spurious wakeups and
// broadcast-to-everyone are both safe — the same pattern rclone's
// lib/pacer documents for its own cond-guarded rate limiter.
package unixsocket

import (
	"sync"
	"time"

	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
	"github.com/Dashbloxx/Asterisk/vfs/list"
)

// fifoCapacity bounds each socket's input buffer; spec.md §4.6 leaves
// the size unspecified beyond "capacity - used" accounting.
const fifoCapacity = 4096

// fifo is a byte queue backing a socket's buffer_in.
type fifo struct {
	buf []byte
}

func (q *fifo) free() int { return fifoCapacity - len(q.buf) }
func (q *fifo) size() int { return len(q.buf) }

// push enqueues min(free, len(data)) bytes and reports how many it
// took.
func (q *fifo) push(data []byte) int {
	n := q.free()
	if n > len(data) {
		n = len(data)
	}
	q.buf = append(q.buf, data[:n]...)
	return n
}

// pop dequeues min(size, len(out)) bytes into out.
func (q *fifo) pop(out []byte) int {
	n := len(q.buf)
	if n > len(out) {
		n = len(out)
	}
	copy(out, q.buf[:n])
	q.buf = q.buf[n:]
	return n
}

// Type owns the process-wide socket list (spec.md §5: "the socket list
// is process-global mutable state; mutations are under
// interrupts-off"). One Type is created per kernel.Subsystem.
type Type struct {
	sub *kernel.Subsystem

	mu     sync.Mutex
	cond   *sync.Cond
	byName map[string]*Socket
}

// New creates a socket provider bound to sub.
func New(sub *kernel.Subsystem) *Type {
	t := &Type{sub: sub, byName: make(map[string]*Socket)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// NewSocket allocates an unbound, unconnected socket, the Go form of
// socket(AF_UNIX, ...). The returned node is detached from the VFS
// tree — wiring it into a process's descriptor table is out of scope
// here (spec.md §1) — but satisfies Reader/Writer/Closer/ReadyTester
// so a caller holding the node can drive it exactly like any other
// file node.
func (t *Type) NewSocket() *Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	node := &vfs.Node{Type: vfs.Socket}
	s := &Socket{t: t, node: node}
	node.Ops = s
	return s
}

// Socket is one endpoint of the state machine spec.md §4.6 diagrams:
// created -> bound -> listening, or created -> paired via
// connect/accept, then send/recv until close.
type Socket struct {
	t    *Type
	node *vfs.Node

	name        string
	acceptConn  bool
	acceptQueue list.Queue[*Socket]
	connection  *Socket
	in          fifo
	disconnected bool
	deadline     time.Time
}

var (
	_ vfs.Reader      = (*Socket)(nil)
	_ vfs.Writer      = (*Socket)(nil)
	_ vfs.Closer      = (*Socket)(nil)
	_ vfs.ReadyTester = (*Socket)(nil)
)

// Node returns the VFS node this socket presents itself as.
func (s *Socket) Node() *vfs.Node { return s.node }

// Bind requires the socket has no name yet and addr is non-empty;
// fails ALREADY_BOUND if already named, ADDRESS_IN_USE on collision.
func (s *Socket) Bind(addr string) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.name != "" {
		return vfs.ErrAlreadyBound
	}
	if addr == "" {
		return vfs.ErrInvalid
	}
	if _, exists := t.byName[addr]; exists {
		return vfs.ErrAddressInUse
	}
	s.name = addr
	t.byName[addr] = s
	return nil
}

// Listen sets SO_ACCEPTCONN (acceptConn). backlog is accepted for
// signature parity with listen(2) and otherwise unused — this
// provider's accept_queue is unbounded, matching spec.md's silence on
// a backlog limit.
func (s *Socket) Listen(backlog int) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	s.acceptConn = true
	return nil
}

// Accept requires SO_ACCEPTCONN. It blocks until a peer appears in the
// accept queue, then pairs a freshly created socket with that peer and
// returns it.
func (s *Socket) Accept() (*Socket, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.acceptConn {
		return nil, vfs.ErrInvalid
	}
	for s.acceptQueue.Empty() {
		t.cond.Wait()
	}
	peer, _ := s.acceptQueue.Dequeue()

	node := &vfs.Node{Type: vfs.Socket}
	accepted := &Socket{t: t, node: node}
	node.Ops = accepted

	accepted.connection = peer
	peer.connection = accepted
	t.cond.Broadcast()
	return accepted, nil
}

// Connect requires the socket is not already connected and addr is
// non-empty. It enqueues itself onto the named listener's accept queue
// and spins until Accept pairs it.
func (s *Socket) Connect(addr string) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.connection != nil {
		return vfs.ErrAlreadyConnected
	}
	if addr == "" {
		return vfs.ErrInvalid
	}
	listener, ok := t.byName[addr]
	if !ok || !listener.acceptConn {
		return vfs.ErrNotFound
	}
	listener.acceptQueue.Enqueue(s)
	t.cond.Broadcast()
	for s.connection == nil {
		t.cond.Wait()
	}
	return nil
}

// Send blocks only while the peer's input FIFO is completely full;
// whenever there is any free space it enqueues min(free, len(buf))
// bytes and returns immediately, possibly short — ordering and
// partial-send looping are the caller's responsibility, per spec.md
// §4.6's "Ordering guarantees".
func (s *Socket) Send(buf []byte) (int, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if s.connection == nil {
			return 0, vfs.ErrIO
		}
		peer := s.connection
		if free := peer.in.free(); free > 0 {
			n := peer.in.push(buf)
			t.cond.Broadcast()
			return n, nil
		}
		t.cond.Wait()
	}
}

// Recv returns 0 (EOF) once disconnected with an empty FIFO, dequeues
// available data immediately, and otherwise blocks until either
// arrives.
func (s *Socket) Recv(buf []byte) (int, error) {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if s.in.size() > 0 {
			n := s.in.pop(buf)
			t.cond.Broadcast()
			return n, nil
		}
		if s.disconnected {
			return 0, nil
		}
		t.cond.Wait()
	}
}

// CloseSocket tears down the socket: removes its bound name, and if
// paired, marks the peer disconnected so its next recv observes EOF
// and its next send fails IO_ERROR.
func (s *Socket) CloseSocket() error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.name != "" {
		delete(t.byName, s.name)
		s.name = ""
	}
	if peer := s.connection; peer != nil {
		peer.connection = nil
		peer.disconnected = true
	}
	s.connection = nil
	s.disconnected = true
	t.cond.Broadcast()
	return nil
}

// SetDeadline records a read/write deadline. It is a no-op beyond
// storage — a supplement acknowledging spec.md §5's "implementations
// MAY add a signal/deadline hook" — wired for a future cancellation
// path rather than enforced here.
func (s *Socket) SetDeadline(deadline time.Time) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	s.deadline = deadline
	return nil
}

// ReadTestReady reports whether a non-blocking accept/recv would
// complete right now: a pending connection, pending data, or EOF.
func (s *Socket) ReadTestReady(n *vfs.Node) bool {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()
	return !s.acceptQueue.Empty() || s.in.size() > 0 || s.disconnected
}

// Read implements vfs.Reader by delegating to Recv.
func (s *Socket) Read(f *vfs.FileHandle, buf []byte) (int, error) { return s.Recv(buf) }

// Write implements vfs.Writer by delegating to Send.
func (s *Socket) Write(f *vfs.FileHandle, buf []byte) (int, error) { return s.Send(buf) }

// Close implements vfs.Closer by delegating to CloseSocket.
func (s *Socket) Close(f *vfs.FileHandle) error { return s.CloseSocket() }
