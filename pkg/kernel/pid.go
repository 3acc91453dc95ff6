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
	"slices"

	"gvisor.dev/rvkernel/pkg/mm"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// pidAllocator hands out process ids. Freed ids are reused most recent
// first before new ones are minted.
type pidAllocator struct {
	current  uint64
	recycled []uint64
}

func newPIDAllocator() pidAllocator {
	return pidAllocator{current: 1}
}

func (p *pidAllocator) alloc() uint64 {
	if n := len(p.recycled); n > 0 {
		pid := p.recycled[n-1]
		p.recycled = p.recycled[:n-1]
		return pid
	}
	pid := p.current
	p.current++
	return pid
}

func (p *pidAllocator) dealloc(pid uint64) {
	if pid >= p.current {
		panic(fmt.Sprintf("pid %d has not been allocated", pid))
	}
	if slices.Contains(p.recycled, pid) {
		panic(fmt.Sprintf("pid %d has been deallocated", pid))
	}
	p.recycled = append(p.recycled, pid)
}

// live returns the number of ids handed out and not yet freed.
func (p *pidAllocator) live() int {
	return int(p.current-1) - len(p.recycled)
}

// pidHandle owns one allocated pid until it is released.
type pidHandle struct {
	k   *Kernel
	pid uint64
}

func (k *Kernel) allocPID() pidHandle {
	p := k.pids.Borrow()
	defer k.pids.Release()
	return pidHandle{k: k, pid: p.alloc()}
}

func (h pidHandle) release() {
	p := h.k.pids.Borrow()
	defer h.k.pids.Release()
	p.dealloc(h.pid)
}

// kernelStack is a task's kernel stack: a Framed area in the kernel address
// space whose position is fixed by the owning pid.
type kernelStack struct {
	k   *Kernel
	pid uint64
}

func (k *Kernel) newKernelStack(pid uint64) kernelStack {
	bottom, top := sv39.KernelStackPosition(pid, k.conf.KernelStackSize())
	space := k.space.Borrow()
	defer k.space.Release()
	(*space).InsertFramedArea(bottom, top, mm.PermR|mm.PermW)
	return kernelStack{k: k, pid: pid}
}

// top returns the initial stack pointer.
func (s kernelStack) top() sv39.VirtAddr {
	_, top := sv39.KernelStackPosition(s.pid, s.k.conf.KernelStackSize())
	return top
}

func (s kernelStack) release() {
	bottom, _ := sv39.KernelStackPosition(s.pid, s.k.conf.KernelStackSize())
	space := s.k.space.Borrow()
	defer s.k.space.Release()
	if !(*space).RemoveAreaWithStartVPN(bottom.Floor()) {
		panic(fmt.Sprintf("no kernel stack at %v for pid %d", bottom, s.pid))
	}
}
