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
	"slices"

	"gvisor.dev/rvkernel/pkg/pagetables"
	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// Activator is the hart state an address space is installed into.
type Activator interface {
	// SetSATP writes the address translation register.
	SetSATP(token uint64)

	// FlushTLB discards cached translations.
	FlushTLB()
}

// MemorySet is an address space: a page table plus the areas mapped into
// it, in insertion order.
//
// The trampoline page, if mapped, is not an area: it is installed directly
// into the page table and survives RecycleDataPages.
type MemorySet struct {
	alloc *pgalloc.FrameAllocator
	pt    *pagetables.PageTables
	areas []*MapArea

	// trampoline is the physical page mapped at sv39.Trampoline, valid if
	// hasTrampoline.
	trampoline    sv39.PhysPageNum
	hasTrampoline bool
}

// NewBare returns an empty address space.
func NewBare(fa *pgalloc.FrameAllocator) (*MemorySet, error) {
	pt, err := pagetables.New(fa)
	if err != nil {
		return nil, err
	}
	return &MemorySet{alloc: fa, pt: pt}, nil
}

// PageTables returns the page table of m.
func (m *MemorySet) PageTables() *pagetables.PageTables {
	return m.pt
}

// Token returns the satp value that installs m.
func (m *MemorySet) Token() uint64 {
	return m.pt.Token()
}

// Areas returns the areas of m in insertion order. The slice must not be
// modified.
func (m *MemorySet) Areas() []*MapArea {
	return m.areas
}

// Translate returns the leaf entry for vpn, or false if it is unmapped.
func (m *MemorySet) Translate(vpn sv39.VirtPageNum) (pagetables.PTE, bool) {
	return m.pt.Translate(vpn)
}

// TranslateToPPN returns the physical page vpn maps to, or false if it is
// unmapped.
func (m *MemorySet) TranslateToPPN(vpn sv39.VirtPageNum) (sv39.PhysPageNum, bool) {
	pte, ok := m.pt.Translate(vpn)
	if !ok {
		return 0, false
	}
	return pte.PPN(), true
}

// Push maps area into m and, if data is non-nil, copies data into it
// starting at the first byte of the area.
func (m *MemorySet) Push(area *MapArea, data []byte) {
	area.mapTo(m.pt, m.alloc)
	if data != nil {
		area.copyData(data)
	}
	m.areas = append(m.areas, area)
}

// InsertFramedArea maps a new Framed area covering [start, end).
//
// Precondition: the range does not overlap an existing area.
func (m *MemorySet) InsertFramedArea(start, end sv39.VirtAddr, perm MapPermission) {
	m.Push(NewMapArea(start, end, Framed, perm), nil)
}

// RemoveAreaWithStartVPN unmaps and frees the area starting at vpn. It
// returns false if there is no such area.
func (m *MemorySet) RemoveAreaWithStartVPN(vpn sv39.VirtPageNum) bool {
	i := slices.IndexFunc(m.areas, func(a *MapArea) bool {
		return a.vpnRange.Start == vpn
	})
	if i < 0 {
		return false
	}
	m.areas[i].unmapFrom(m.pt)
	m.areas = slices.Delete(m.areas, i, i+1)
	return true
}

// MapTrampoline maps the trampoline page ppn at sv39.Trampoline, readable
// and executable by the kernel only.
func (m *MemorySet) MapTrampoline(ppn sv39.PhysPageNum) {
	m.pt.Map(sv39.Trampoline.Floor(), ppn, pagetables.Read|pagetables.Execute)
	m.trampoline = ppn
	m.hasTrampoline = true
}

// Trampoline returns the physical page mapped at sv39.Trampoline.
func (m *MemorySet) Trampoline() (sv39.PhysPageNum, bool) {
	return m.trampoline, m.hasTrampoline
}

// Activate installs m into the hart and flushes its translation cache.
func (m *MemorySet) Activate(a Activator) {
	a.SetSATP(m.Token())
	a.FlushTLB()
}

// RecycleDataPages unmaps every area and frees the frames they own. The page
// table and the trampoline mapping remain.
func (m *MemorySet) RecycleDataPages() {
	for _, area := range m.areas {
		area.unmapFrom(m.pt)
	}
	m.areas = nil
}

// Release frees everything m owns, including its page table. m must not be
// used afterwards.
func (m *MemorySet) Release() {
	m.RecycleDataPages()
	m.pt.Release()
}

// FromExisting returns a copy of src: every area is duplicated with fresh
// frames and its contents copied byte for byte. The copy shares no frames
// with src.
func FromExisting(src *MemorySet) (*MemorySet, error) {
	m, err := NewBare(src.alloc)
	if err != nil {
		return nil, err
	}
	if ppn, ok := src.Trampoline(); ok {
		m.MapTrampoline(ppn)
	}
	mem := src.alloc.Mem()
	for _, area := range src.areas {
		dup := NewMapAreaFrom(area)
		m.Push(dup, nil)
		if area.mapType != Framed {
			continue
		}
		for vpn := range area.vpnRange.All() {
			srcPPN, ok := src.TranslateToPPN(vpn)
			if !ok {
				panic(fmt.Sprintf("%v of area %v is not mapped", vpn, area))
			}
			dstPPN, _ := m.TranslateToPPN(vpn)
			copy(mem.Page(dstPPN), mem.Page(srcPPN))
		}
	}
	return m, nil
}
