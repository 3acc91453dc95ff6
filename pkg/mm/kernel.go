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

package mm

import (
	"fmt"

	"gvisor.dev/rvkernel/pkg/log"
	"gvisor.dev/rvkernel/pkg/pagetables"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// KernelLayout describes the kernel image and the physical memory map the
// kernel address space identity-maps.
type KernelLayout struct {
	// Text, Rodata, Data and BSS are the kernel's sections. BSS includes
	// the boot stack and the kernel heap arena.
	Text   VARange
	Rodata VARange
	Data   VARange
	BSS    VARange

	// MemoryEnd is the end of RAM. [BSS.End, MemoryEnd) is the memory
	// handed to the frame allocator.
	MemoryEnd sv39.VirtAddr

	// Trampoline is the physical page holding the trap entry and return
	// code. It lies inside Text.
	Trampoline sv39.PhysPageNum

	// MMIO lists the device register windows.
	MMIO []VARange
}

// NewKernel returns the kernel address space: the trampoline, the kernel
// sections and the rest of RAM identity-mapped with section permissions, and
// the device windows identity-mapped read-write. Kernel stacks are added
// later, one per task.
func NewKernel(fa *pgalloc.FrameAllocator, l *KernelLayout) (*MemorySet, error) {
	m, err := NewBare(fa)
	if err != nil {
		return nil, fmt.Errorf("creating kernel address space: %w", err)
	}
	m.MapTrampoline(l.Trampoline)

	log.Infof("[kernel] .text %v", l.Text)
	log.Infof("[kernel] .rodata %v", l.Rodata)
	log.Infof("[kernel] .data %v", l.Data)
	log.Infof("[kernel] .bss %v", l.BSS)

	for _, s := range []struct {
		name string
		r    VARange
		perm MapPermission
	}{
		{"text", l.Text, PermR | PermX},
		{"rodata", l.Rodata, PermR},
		{"data", l.Data, PermR | PermW},
		{"bss", l.BSS, PermR | PermW},
		{"physical memory", VARange{l.BSS.End, l.MemoryEnd}, PermR | PermW},
	} {
		log.Debugf("[kernel] mapping %s %v", s.name, s.r)
		m.Push(NewMapArea(s.r.Start, s.r.End, Identical, s.perm), nil)
	}

	log.Debugf("[kernel] mapping MMIO")
	for _, r := range l.MMIO {
		m.Push(NewMapArea(r.Start, r.End, Identical, PermR|PermW), nil)
	}
	return m, nil
}

// RemapTest checks the permissions NewKernel installed: text and rodata are
// not writable and data is not executable.
func RemapTest(m *MemorySet, l *KernelLayout) error {
	for _, c := range []struct {
		name string
		r    VARange
		bad  func(pagetables.PTE) bool
		what string
	}{
		{"text", l.Text, pagetables.PTE.Writable, "writable"},
		{"rodata", l.Rodata, pagetables.PTE.Writable, "writable"},
		{"data", l.Data, pagetables.PTE.Executable, "executable"},
	} {
		vpn := ((c.r.Start + c.r.End) / 2).Floor()
		pte, ok := m.Translate(vpn)
		if !ok {
			return fmt.Errorf("kernel %s page %v is not mapped", c.name, vpn)
		}
		if c.bad(pte) {
			return fmt.Errorf("kernel %s page %v is %s", c.name, vpn, c.what)
		}
	}
	log.Infof("[kernel] remap_test passed!")
	return nil
}
