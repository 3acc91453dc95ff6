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

// Package sv39 defines the address types and layout constants of the RISC-V
// Sv39 virtual memory scheme.
//
// Physical addresses are 56 bits wide and virtual addresses 39 bits wide.
// Pages are 4 KiB, so a virtual page number splits into three 9-bit indexes,
// one per page table level, most significant first.
package sv39

import (
	"fmt"
	"iter"
)

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page in bytes.
	PageSize = 1 << PageShift

	// PAWidth is the width of a physical address in bits.
	PAWidth = 56

	// VAWidth is the width of a virtual address in bits.
	VAWidth = 39

	// PPNWidth is the width of a physical page number in bits.
	PPNWidth = PAWidth - PageShift

	// VPNWidth is the width of a virtual page number in bits.
	VPNWidth = VAWidth - PageShift

	// LevelBits is the number of virtual page number bits consumed by each
	// page table level.
	LevelBits = 9

	// Levels is the number of page table levels.
	Levels = 3

	// EntriesPerTable is the number of entries in one page table page.
	EntriesPerTable = 1 << LevelBits
)

// Trampoline is the virtual address of the trampoline page, the highest page
// of every address space.
const Trampoline VirtAddr = (1 << VAWidth) - PageSize

// TrapContext is the virtual address of the per-task trap context page, just
// below the trampoline in every user address space.
const TrapContext VirtAddr = Trampoline - PageSize

// PhysAddr is a physical address.
type PhysAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtAddr is a virtual address.
type VirtAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// NewPhysAddr returns v truncated to the physical address width.
func NewPhysAddr(v uint64) PhysAddr {
	return PhysAddr(v & (1<<PAWidth - 1))
}

// NewPhysPageNum returns v truncated to the physical page number width.
func NewPhysPageNum(v uint64) PhysPageNum {
	return PhysPageNum(v & (1<<PPNWidth - 1))
}

// NewVirtAddr returns v truncated to the virtual address width.
func NewVirtAddr(v uint64) VirtAddr {
	return VirtAddr(v & (1<<VAWidth - 1))
}

// NewVirtPageNum returns v truncated to the virtual page number width.
func NewVirtPageNum(v uint64) VirtPageNum {
	return VirtPageNum(v & (1<<VPNWidth - 1))
}

// PageOffset returns the offset of a within its page.
func (a PhysAddr) PageOffset() uint64 {
	return uint64(a) & (PageSize - 1)
}

// Aligned returns true if a is page-aligned.
func (a PhysAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// Floor returns the number of the page containing a.
func (a PhysAddr) Floor() PhysPageNum {
	return PhysPageNum(uint64(a) / PageSize)
}

// Ceil returns the number of the first page starting at or after a.
func (a PhysAddr) Ceil() PhysPageNum {
	return PhysPageNum((uint64(a) + PageSize - 1) / PageSize)
}

// PageNum returns the number of the page starting at a.
//
// Precondition: a is page-aligned.
func (a PhysAddr) PageNum() PhysPageNum {
	if !a.Aligned() {
		panic(fmt.Sprintf("physical address %v is not page-aligned", a))
	}
	return a.Floor()
}

// String implements fmt.Stringer.String.
func (a PhysAddr) String() string {
	return fmt.Sprintf("PA:%#x", uint64(a))
}

// Addr returns the address of the first byte of page p.
func (p PhysPageNum) Addr() PhysAddr {
	return PhysAddr(uint64(p) << PageShift)
}

// String implements fmt.Stringer.String.
func (p PhysPageNum) String() string {
	return fmt.Sprintf("PPN:%#x", uint64(p))
}

// PageOffset returns the offset of a within its page.
func (a VirtAddr) PageOffset() uint64 {
	return uint64(a) & (PageSize - 1)
}

// Aligned returns true if a is page-aligned.
func (a VirtAddr) Aligned() bool {
	return a.PageOffset() == 0
}

// Floor returns the number of the page containing a.
func (a VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(uint64(a) / PageSize)
}

// Ceil returns the number of the first page starting at or after a.
func (a VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(a) + PageSize - 1) / PageSize)
}

// PageNum returns the number of the page starting at a.
//
// Precondition: a is page-aligned.
func (a VirtAddr) PageNum() VirtPageNum {
	if !a.Aligned() {
		panic(fmt.Sprintf("virtual address %v is not page-aligned", a))
	}
	return a.Floor()
}

// Canonical returns true if bits 63 through 39 of a all equal bit 38.
func (a VirtAddr) Canonical() bool {
	hi := int64(a) >> (VAWidth - 1)
	return hi == 0 || hi == -1
}

// String implements fmt.Stringer.String.
func (a VirtAddr) String() string {
	return fmt.Sprintf("VA:%#x", uint64(a))
}

// Addr returns the address of the first byte of page v.
func (v VirtPageNum) Addr() VirtAddr {
	return VirtAddr(uint64(v) << PageShift)
}

// Indexes splits v into its three page table indexes, root level first.
func (v VirtPageNum) Indexes() [Levels]uint64 {
	vpn := uint64(v)
	var idx [Levels]uint64
	for i := Levels - 1; i >= 0; i-- {
		idx[i] = vpn & (EntriesPerTable - 1)
		vpn >>= LevelBits
	}
	return idx
}

// String implements fmt.Stringer.String.
func (v VirtPageNum) String() string {
	return fmt.Sprintf("VPN:%#x", uint64(v))
}

// VPNRange is the half-open range of virtual pages [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange returns the range [start, end).
//
// Precondition: start <= end.
func NewVPNRange(start, end VirtPageNum) VPNRange {
	if start > end {
		panic(fmt.Sprintf("start %v > end %v", start, end))
	}
	return VPNRange{Start: start, End: end}
}

// Len returns the number of pages in r.
func (r VPNRange) Len() uint64 {
	return uint64(r.End - r.Start)
}

// Contains returns true if vpn is in r.
func (r VPNRange) Contains(vpn VirtPageNum) bool {
	return r.Start <= vpn && vpn < r.End
}

// Overlaps returns true if r and o share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// All iterates over the pages of r in ascending order.
func (r VPNRange) All() iter.Seq[VirtPageNum] {
	return func(yield func(VirtPageNum) bool) {
		for vpn := r.Start; vpn < r.End; vpn++ {
			if !yield(vpn) {
				return
			}
		}
	}
}

// String implements fmt.Stringer.String.
func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}

// KernelStackPosition returns the [bottom, top) virtual address range of the
// kernel stack for the task with the given pid. Stacks sit below the
// trampoline, each separated from the next by an unmapped guard page.
func KernelStackPosition(pid uint64, stackSize uint64) (bottom, top VirtAddr) {
	top = Trampoline - VirtAddr(pid*(stackSize+PageSize))
	bottom = top - VirtAddr(stackSize)
	return bottom, top
}
