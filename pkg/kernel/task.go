// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"fmt"

	"gvisor.dev/rvkernel/pkg/abi/riscv"
	"gvisor.dev/rvkernel/pkg/cleanup"
	"gvisor.dev/rvkernel/pkg/hart"
	"gvisor.dev/rvkernel/pkg/ilist"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/mm"
	"gvisor.dev/rvkernel/pkg/refs"
	"gvisor.dev/rvkernel/pkg/sv39"
	"gvisor.dev/rvkernel/pkg/sync"
)

// TaskStatus is the scheduling state of a task.
type TaskStatus int

const (
	// Ready tasks are waiting in the ready queue.
	Ready TaskStatus = iota

	// Running is the task the processor is executing.
	Running

	// Zombie tasks have exited and wait to be reaped by their parent.
	Zombie
)

// String implements fmt.Stringer.String.
func (s TaskStatus) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Zombie:
		return "Zombie"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// Task is a process: an address space, a kernel stack and a thread of
// control.
//
// Tasks are reference counted. The ready queue, the processor, the parent's
// children list and Kernel.initproc each hold a reference. Parents are
// referenced weakly so that the parent and child links do not form a cycle.
type Task struct {
	refs.AtomicRefCount
	ilist.Entry[*Task]

	k      *Kernel
	pid    pidHandle
	kstack kernelStack

	// inner is the mutable state.
	inner *sync.ExclusiveCell[taskInner]
}

type taskInner struct {
	// trapCxPPN is the physical page holding the trap context.
	trapCxPPN sv39.PhysPageNum

	// baseSize is the top of the user stack, the highest user address in
	// use.
	baseSize uint64

	taskCx    *TaskContext
	status    TaskStatus
	memorySet *mm.MemorySet
	parent    *refs.WeakRef
	children  []*Task
	exitCode  int32
}

// PID returns the task's process id.
func (t *Task) PID() uint64 {
	return t.pid.pid
}

// Kernel returns the kernel t runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %d", t.pid.pid)
}

// Status returns the task's scheduling state.
func (t *Task) Status() TaskStatus {
	return sync.Get(t.inner, func(in *taskInner) TaskStatus { return in.status })
}

// ExitCode returns the code the task exited with. It is only meaningful once
// the task is a Zombie.
func (t *Task) ExitCode() int32 {
	return sync.Get(t.inner, func(in *taskInner) int32 { return in.exitCode })
}

// UserToken returns the satp value of the task's address space.
func (t *Task) UserToken() uint64 {
	return sync.Get(t.inner, func(in *taskInner) uint64 { return in.memorySet.Token() })
}

// TrapContext returns the task's saved user state.
func (t *Task) TrapContext() *hart.TrapContext {
	ppn := sync.Get(t.inner, func(in *taskInner) sv39.PhysPageNum { return in.trapCxPPN })
	return hart.TrapContextAt(t.k.mem, ppn)
}

// Parent returns a reference on the task's parent, or nil if it has none.
// The caller must DecRef a non-nil result.
func (t *Task) Parent() *Task {
	w := sync.Get(t.inner, func(in *taskInner) *refs.WeakRef { return in.parent })
	if w == nil {
		return nil
	}
	if rc := w.Get(); rc != nil {
		return rc.(*Task)
	}
	return nil
}

// Children returns the pids of the task's children.
func (t *Task) Children() []uint64 {
	in := t.inner.Borrow()
	defer t.inner.Release()
	pids := make([]uint64, 0, len(in.children))
	for _, c := range in.children {
		pids = append(pids, c.PID())
	}
	return pids
}

// DecRef drops a reference on the task, freeing it with the last one.
func (t *Task) DecRef() {
	t.DecRefWithDestructor(t.destroy)
}

// destroy releases everything the task owns.
func (t *Task) destroy() {
	in := t.inner.Borrow()
	ms := in.memorySet
	in.memorySet = nil
	parent := in.parent
	in.parent = nil
	children := in.children
	in.children = nil
	t.inner.Release()

	if parent != nil {
		parent.Drop()
	}
	for _, c := range children {
		c.setParent(nil)
		c.DecRef()
	}
	ms.Release()
	t.kstack.release()
	t.pid.release()
	log.Debugf("[kernel] %v freed", t)
}

// setParent replaces t's parent link. p may be nil.
func (t *Task) setParent(p *Task) {
	var w *refs.WeakRef
	if p != nil {
		w = refs.NewWeakRef(p, nil)
	}
	in := t.inner.Borrow()
	old := in.parent
	in.parent = w
	t.inner.Release()
	if old != nil {
		old.Drop()
	}
}

// NewTask creates a Ready task running the ELF executable data. The caller
// holds the only reference on the result.
func (k *Kernel) NewTask(data []byte) (*Task, error) {
	img, err := mm.FromELF(k.frames, k.layout.Trampoline, data, k.conf.UserStackSize())
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(img.MemorySet.Release)
	defer cu.Clean()

	trapCxPPN := trapContextPPN(img.MemorySet)
	t := k.newTask(img.MemorySet, trapCxPPN, uint64(img.StackTop))
	cu.Release()

	*t.TrapContext() = hart.AppInitContext(
		img.Entry,
		uint64(img.StackTop),
		k.kernelToken(),
		uint64(t.kstack.top()),
		k.layout.trapHandler,
	)
	log.Debugf("[kernel] %v created, entry %#x", t, img.Entry)
	return t, nil
}

// newTask wraps ms in a Ready task with a fresh pid and kernel stack.
func (k *Kernel) newTask(ms *mm.MemorySet, trapCxPPN sv39.PhysPageNum, baseSize uint64) *Task {
	pid := k.allocPID()
	t := &Task{
		k:      k,
		pid:    pid,
		kstack: k.newKernelStack(pid.pid),
	}
	t.inner = sync.NewExclusiveCell(taskInner{
		trapCxPPN: trapCxPPN,
		baseSize:  baseSize,
		taskCx:    k.newTaskContext(t),
		status:    Ready,
		memorySet: ms,
	})
	return t
}

func trapContextPPN(ms *mm.MemorySet) sv39.PhysPageNum {
	ppn, ok := ms.TranslateToPPN(sv39.TrapContext.Floor())
	if !ok {
		panic("trap context page is not mapped")
	}
	return ppn
}

// Fork creates a copy of t whose address space duplicates t's. The child is
// Ready but not queued; its trap context is t's with the kernel stack
// pointer moved to the child's stack. t holds a reference on the child in
// its children list and the caller holds another.
func (t *Task) Fork() (*Task, error) {
	in := t.inner.Borrow()
	ms, err := mm.FromExisting(in.memorySet)
	baseSize := in.baseSize
	t.inner.Release()
	if err != nil {
		return nil, fmt.Errorf("fork of %v: %w", t, err)
	}

	child := t.k.newTask(ms, trapContextPPN(ms), baseSize)
	child.setParent(t)
	child.TrapContext().KernelSP = uint64(child.kstack.top())

	child.IncRef()
	in = t.inner.Borrow()
	in.children = append(in.children, child)
	t.inner.Release()
	log.Debugf("[kernel] %v forked %v", t, child)
	return child, nil
}

// Exec replaces t's address space with the ELF executable data and resets
// its user state to the new entry point. On error t is unchanged.
func (t *Task) Exec(data []byte) error {
	img, err := mm.FromELF(t.k.frames, t.k.layout.Trampoline, data, t.k.conf.UserStackSize())
	if err != nil {
		return err
	}

	in := t.inner.Borrow()
	old := in.memorySet
	in.memorySet = img.MemorySet
	in.trapCxPPN = trapContextPPN(img.MemorySet)
	in.baseSize = uint64(img.StackTop)
	t.inner.Release()
	old.Release()

	*t.TrapContext() = hart.AppInitContext(
		img.Entry,
		uint64(img.StackTop),
		t.k.kernelToken(),
		uint64(t.kstack.top()),
		t.k.layout.trapHandler,
	)
	log.Debugf("[kernel] %v exec, entry %#x", t, img.Entry)
	return nil
}

// WaitResult is the outcome of Task.WaitChild.
type WaitResult int

const (
	// WaitReaped means a zombie child was reaped.
	WaitReaped WaitResult = iota

	// WaitNoChild means no child matches.
	WaitNoChild

	// WaitRunning means matching children exist but none has exited.
	WaitRunning
)

// WaitChild reaps a zombie child of t. pid selects the child;
// riscv.WAIT_ANY selects any. store, if not nil, is called with the child's
// exit code before the child is freed; if it fails the child is left in
// place and the error is returned.
func (t *Task) WaitChild(pid int64, store func(code int32) error) (uint64, WaitResult, error) {
	match := func(c *Task) bool {
		return pid == riscv.WAIT_ANY || uint64(pid) == c.PID()
	}

	in := t.inner.Borrow()
	found := false
	idx := -1
	for i, c := range in.children {
		if !match(c) {
			continue
		}
		found = true
		if c.Status() == Zombie {
			idx = i
			break
		}
	}
	if !found {
		t.inner.Release()
		return 0, WaitNoChild, nil
	}
	if idx < 0 {
		t.inner.Release()
		return 0, WaitRunning, nil
	}
	child := in.children[idx]
	t.inner.Release()

	if store != nil {
		if err := store(child.ExitCode()); err != nil {
			return 0, WaitNoChild, err
		}
	}
	in = t.inner.Borrow()
	in.children = append(in.children[:idx], in.children[idx+1:]...)
	t.inner.Release()

	if n := child.ReadRefs(); n != 1 {
		panic(fmt.Sprintf("reaping %v with %d references", child, n))
	}
	childPID := child.PID()
	child.DecRef()
	return childPID, WaitReaped, nil
}
