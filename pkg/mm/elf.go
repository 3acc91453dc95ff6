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
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"gvisor.dev/rvkernel/pkg/cleanup"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// ErrBadELF is returned for images that are not loadable RV64 executables.
var ErrBadELF = errors.New("invalid ELF image")

// UserImage is the result of loading an executable.
type UserImage struct {
	// MemorySet is the new address space.
	MemorySet *MemorySet

	// StackTop is the initial user stack pointer.
	StackTop sv39.VirtAddr

	// Entry is the program's entry point.
	Entry uint64
}

// FromELF builds a user address space from an ELF executable.
//
// Each PT_LOAD segment becomes a Framed area with the U bit plus the
// segment's R/W/X flags, filled from the image and zero beyond its file
// size. A user stack of stackSize bytes follows the highest segment after
// one unmapped guard page. The trampoline is mapped at sv39.Trampoline and a
// kernel-only read-write page at sv39.TrapContext holds the trap context.
func FromELF(fa *pgalloc.FrameAllocator, trampoline sv39.PhysPageNum, data []byte, stackSize uint64) (*UserImage, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadELF, err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w: %v %v, want ELFCLASS64 EM_RISCV", ErrBadELF, f.Class, f.Machine)
	}

	m, err := NewBare(fa)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(m.Release)
	defer cu.Clean()

	m.MapTrampoline(trampoline)

	var maxEnd sv39.VirtPageNum
	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if ph.Filesz > ph.Memsz || ph.Off+ph.Filesz > uint64(len(data)) || ph.Off+ph.Filesz < ph.Off {
			return nil, fmt.Errorf("%w: segment at %#x has bad sizes", ErrBadELF, ph.Vaddr)
		}
		start := sv39.VirtAddr(ph.Vaddr)
		end := sv39.VirtAddr(ph.Vaddr + ph.Memsz)
		if end < start || end > sv39.TrapContext {
			return nil, fmt.Errorf("%w: segment [%#x, %#x) outside user space", ErrBadELF, uint64(start), uint64(end))
		}

		perm := PermU
		if ph.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if ph.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if ph.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		area := NewMapArea(start, end, Framed, perm)
		for _, other := range m.areas {
			if other.vpnRange.Overlaps(area.vpnRange) {
				return nil, fmt.Errorf("%w: segment %v overlaps %v", ErrBadELF, area, other)
			}
		}

		// The area begins at the page containing start.
		contents := make([]byte, start.PageOffset()+ph.Filesz)
		copy(contents[start.PageOffset():], data[ph.Off:ph.Off+ph.Filesz])
		m.Push(area, contents)
		maxEnd = max(maxEnd, area.vpnRange.End)
	}
	if len(m.areas) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrBadELF)
	}

	stackBottom := maxEnd.Addr() + sv39.PageSize
	stackTop := stackBottom + sv39.VirtAddr(stackSize)
	if stackTop > sv39.TrapContext {
		return nil, fmt.Errorf("%w: no room for the user stack", ErrBadELF)
	}
	m.InsertFramedArea(stackBottom, stackTop, PermR|PermW|PermU)
	m.InsertFramedArea(sv39.TrapContext, sv39.Trampoline, PermR|PermW)

	cu.Release()
	return &UserImage{
		MemorySet: m,
		StackTop:  stackTop,
		Entry:     f.Entry,
	}, nil
}
