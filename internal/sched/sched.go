// Package sched stands in for the out-of-scope scheduler spec.md §6
// lists as an external collaborator. It tracks enough per-thread
// bookkeeping (birth time, syscall/context-switch counters, state) to
// drive the sysinfo provider's threads/<tid> nodes; the actual
// preemption/suspend machinery of spec.md §5 is expressed natively
// with goroutines and sync.Cond inside providers/unixsocket rather
// than through this package, per the "blocking via set-state-then-halt"
// REDESIGN FLAGS note.
package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dashbloxx/Asterisk/kernel"
)

// Thread is a live kernel thread's mutable accounting record.
type Thread struct {
	tid         int
	birth       time.Time
	userMode    bool
	process     kernel.ProcessID
	processName string

	state           atomic.Value // string
	syscalls        atomic.Uint64
	contextSwitches atomic.Uint64
}

// IncSyscall bumps the thread's syscall counter, called by the
// syscall-entry layer (out of scope) on every dispatch.
func (t *Thread) IncSyscall() { t.syscalls.Add(1) }

// IncContextSwitch bumps the thread's context-switch counter.
func (t *Thread) IncContextSwitch() { t.contextSwitches.Add(1) }

// SetState records the thread's current scheduler state ("running",
// "wait_io:accept", "wait_io:recv", ...), the Go analogue of
// thread_change_state's (state, reason) pair.
func (t *Thread) SetState(state string) { t.state.Store(state) }

func (t *Thread) snapshot() kernel.ThreadInfo {
	state, _ := t.state.Load().(string)
	if state == "" {
		state = "running"
	}
	return kernel.ThreadInfo{
		Tid:             t.tid,
		BirthTimeUnix:   t.birth.Unix(),
		UserMode:        t.userMode,
		State:           state,
		Syscalls:        t.syscalls.Load(),
		ContextSwitches: t.contextSwitches.Load(),
		Process:         t.process,
		ProcessName:     t.processName,
	}
}

// Scheduler is a process-wide thread registry implementing
// kernel.Scheduler.
type Scheduler struct {
	mu      sync.Mutex
	threads map[int]*Thread
	nextTid int
}

var _ kernel.Scheduler = (*Scheduler)(nil)

// New creates an empty thread registry.
func New() *Scheduler {
	return &Scheduler{threads: make(map[int]*Thread)}
}

// Spawn registers a new thread and returns its handle, the Go
// analogue of thread creation during process/ELF load (out of scope
// here; callers — tests and cmd/vfsd — create threads directly).
func (s *Scheduler) Spawn(proc kernel.ProcessID, processName string, userMode bool) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTid++
	th := &Thread{
		tid:         s.nextTid,
		birth:       time.Now(),
		userMode:    userMode,
		process:     proc,
		processName: processName,
	}
	th.state.Store("running")
	s.threads[th.tid] = th
	return th
}

// Exit removes a thread from the registry.
func (s *Scheduler) Exit(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, th.tid)
}

// ByID looks up a thread by id, the Go form of thread_get_by_id.
func (s *Scheduler) ByID(tid int) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[tid]
	return th, ok
}

// Threads returns a snapshot of every live thread, sorted by tid for
// deterministic output — the Go form of walking thread_get_first/next.
func (s *Scheduler) Threads() []kernel.ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kernel.ThreadInfo, 0, len(s.threads))
	for tid := 1; tid <= s.nextTid; tid++ {
		if th, ok := s.threads[tid]; ok {
			out = append(out, th.snapshot())
		}
	}
	return out
}
