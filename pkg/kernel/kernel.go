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

// Package kernel implements a small Unix-like kernel for a single simulated
// RV64 hart with Sv39 paging.
//
// The kernel owns physical memory, a frame allocator, a buddy-system kernel
// heap and the kernel address space. Each task has its own address space,
// identified by pid, with a kernel stack in the kernel address space. Tasks
// are scheduled round-robin from a FIFO ready queue and preempted by the
// machine timer.
//
// The kernel is single-threaded: Run's goroutine and the task goroutines
// hand control to each other explicitly, and only one of them runs at a
// time. Shutdown may be called from any goroutine.
package kernel

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"gvisor.dev/rvkernel/pkg/buddy"
	"gvisor.dev/rvkernel/pkg/cleanup"
	"gvisor.dev/rvkernel/pkg/config"
	"gvisor.dev/rvkernel/pkg/console"
	"gvisor.dev/rvkernel/pkg/hart"
	"gvisor.dev/rvkernel/pkg/loader"
	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/mm"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
	"gvisor.dev/rvkernel/pkg/sync"
)

// heapAlign is the alignment of kernel heap buffers.
const heapAlign = 8

// Options are the kernel's collaborators.
type Options struct {
	// Console is the serial console.
	Console console.Console

	// Loader holds the user programs.
	Loader *loader.Loader

	// Syscalls is the system call table.
	Syscalls *SyscallTable

	// OnExit, if not nil, is called when a task exits.
	OnExit func(pid uint64, code int32)
}

// Kernel is a booted kernel.
type Kernel struct {
	conf   *config.Config
	opts   Options
	mem    *pgalloc.PhysMem
	layout *layout
	frames *pgalloc.FrameAllocator
	hart   *hart.Hart

	heap      *sync.ExclusiveCell[*buddy.Heap]
	space     *sync.ExclusiveCell[*mm.MemorySet]
	pids      *sync.ExclusiveCell[pidAllocator]
	manager   *sync.ExclusiveCell[taskManager]
	processor *sync.ExclusiveCell[processor]

	// initproc is the first task. The kernel holds a reference on it.
	initproc *Task

	// idle is the context of the scheduler loop in Run.
	idle *TaskContext

	// contexts are the task contexts created so far, for Close.
	contexts []*TaskContext

	// faultLog reports tasks killed for bad accesses.
	faultLog log.Logger

	shutdown atomic.Bool
	ran      bool

	// fatal is a panic raised in a task context, reraised by Run.
	fatal any

	// runErr is the error that stopped the hart, returned by Run.
	runErr error
}

// New boots a kernel: it lays out the kernel image in RAM, builds the
// kernel address space and creates the initial task from conf.Init.
func New(conf *config.Config, opts Options) (*Kernel, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if opts.Console == nil || opts.Loader == nil || opts.Syscalls == nil {
		return nil, errors.New("kernel needs a console, a loader and a syscall table")
	}
	l, err := newLayout(conf)
	if err != nil {
		return nil, err
	}
	mem, err := pgalloc.NewPhysMem(config.RAMStart, conf.MemoryMB<<20)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { mem.Close() })
	defer cu.Clean()

	log.Infof("[kernel] Hello, world!")
	start, end := l.frames()
	frames := pgalloc.NewFrameAllocator(mem, start, end)
	log.Infof("[kernel] %d physical frames at [%v, %v)", frames.Total(), start.Addr(), end.Addr())

	heapSize := uint64(l.heap.End - l.heap.Start)
	heap := buddy.New(mem.Slice(sv39.PhysAddr(l.heap.Start), heapSize), uint64(l.heap.Start))

	space, err := mm.NewKernel(frames, &l.KernelLayout)
	if err != nil {
		return nil, err
	}
	if err := mm.RemapTest(space, &l.KernelLayout); err != nil {
		return nil, err
	}

	h := hart.New(mem, l.Trampoline, hart.Config{
		ClockFreq:     conf.ClockFreq,
		CyclesPerInsn: conf.CyclesPerInsn,
		TrapCycles:    conf.TrapCycles,
		MaxSteps:      conf.MaxSteps,
	})
	space.Activate(h)

	k := &Kernel{
		conf:      conf,
		opts:      opts,
		mem:       mem,
		layout:    l,
		frames:    frames,
		hart:      h,
		heap:      sync.NewExclusiveCell(heap),
		space:     sync.NewExclusiveCell(space),
		pids:      sync.NewExclusiveCell(newPIDAllocator()),
		manager:   sync.NewExclusiveCell(taskManager{}),
		processor: sync.NewExclusiveCell(processor{}),
		faultLog:  log.BasicRateLimitedLogger(time.Second),
	}
	k.setKernelTrapEntry()

	opts.Loader.ListApps()
	data, err := opts.Loader.AppDataByName(conf.Init)
	if err != nil {
		return nil, fmt.Errorf("init program: %w", err)
	}
	k.initproc, err = k.NewTask(data)
	if err != nil {
		return nil, fmt.Errorf("init program %q: %w", conf.Init, err)
	}
	k.initproc.IncRef()
	k.AddTask(k.initproc)

	cu.Release()
	return k, nil
}

// Run schedules tasks until none is ready or the kernel is shut down. It
// returns an error if the hart stopped, and panics with the value of any
// kernel panic raised while a task was running.
func (k *Kernel) Run() error {
	if k.ran {
		return errors.New("kernel already ran")
	}
	k.ran = true

	k.idle = idleContext()
	k.setNextTrigger()
	for {
		if k.fatal != nil {
			panic(k.fatal)
		}
		if k.runErr != nil {
			return k.runErr
		}
		if k.shutdown.Load() {
			log.Infof("[kernel] shutdown")
			return nil
		}
		t, ok := k.fetchTask()
		if !ok {
			log.Infof("[kernel] no ready tasks")
			return nil
		}

		in := t.inner.Borrow()
		next := in.taskCx
		in.status = Running
		t.inner.Release()
		k.processor.With(func(p *processor) { p.current = t })
		Switch(k.idle, next)
	}
}

// crash records a panic raised in a task context and wakes the scheduler
// loop to reraise it.
func (k *Kernel) crash(r any) {
	log.Warningf("[kernel] panicked: %v\n%s", r, debug.Stack())
	k.fatal = r
	k.idle.wake()
}

// Shutdown stops Run at the next scheduling point. It may be called from any
// goroutine.
func (k *Kernel) Shutdown() {
	k.shutdown.Store(true)
}

// Close stops all task contexts and frees the machine's memory. The kernel
// must not be running.
func (k *Kernel) Close() error {
	for _, c := range k.contexts {
		c.kill()
	}
	k.contexts = nil
	return k.mem.Close()
}

// track records c for Close, dropping contexts that have finished.
func (k *Kernel) track(c *TaskContext) {
	live := k.contexts[:0]
	for _, o := range k.contexts {
		select {
		case <-o.done:
		default:
			live = append(live, o)
		}
	}
	k.contexts = append(live, c)
}

// kernelToken returns the satp value of the kernel address space.
func (k *Kernel) kernelToken() uint64 {
	return sync.Get(k.space, func(s **mm.MemorySet) uint64 { return (*s).Token() })
}

// WithKernelBuffer calls fn with n bytes allocated from the kernel heap,
// freeing them when fn returns.
func (k *Kernel) WithKernelBuffer(n uint64, fn func(b []byte)) error {
	h := k.heap.Borrow()
	addr, err := (*h).Alloc(n, heapAlign)
	if err != nil {
		k.heap.Release()
		return fmt.Errorf("allocating %d bytes: %w", n, err)
	}
	b := (*h).Bytes(addr, n)
	k.heap.Release()

	defer k.heap.With(func(h **buddy.Heap) { (*h).Dealloc(addr, n, heapAlign) })
	fn(b)
	return nil
}

// Config returns the kernel configuration.
func (k *Kernel) Config() *config.Config {
	return k.conf
}

// Console returns the serial console.
func (k *Kernel) Console() console.Console {
	return k.opts.Console
}

// Loader returns the user program loader.
func (k *Kernel) Loader() *loader.Loader {
	return k.opts.Loader
}

// Mem returns physical memory.
func (k *Kernel) Mem() *pgalloc.PhysMem {
	return k.mem
}

// InitProc returns the first task.
func (k *Kernel) InitProc() *Task {
	return k.initproc
}

// Steps returns the number of user instructions executed.
func (k *Kernel) Steps() uint64 {
	return k.hart.Steps()
}

// Stats is a snapshot of kernel resource usage.
type Stats struct {
	// FreeFrames is the number of unallocated physical frames.
	FreeFrames uint64

	// HeapAllocated is the number of kernel heap bytes in use.
	HeapAllocated uint64

	// LiveTasks is the number of allocated pids.
	LiveTasks int

	// ReadyTasks is the length of the ready queue.
	ReadyTasks int
}

// Stats returns current resource usage.
func (k *Kernel) Stats() Stats {
	return Stats{
		FreeFrames:    k.frames.Free(),
		HeapAllocated: sync.Get(k.heap, func(h **buddy.Heap) uint64 { return (*h).Allocated() }),
		LiveTasks:     sync.Get(k.pids, func(p *pidAllocator) int { return p.live() }),
		ReadyTasks:    k.ReadyTasks(),
	}
}
