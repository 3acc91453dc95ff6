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

// Package pagetables implements Sv39 three-level page tables stored in
// simulated physical memory.
package pagetables

import (
	"fmt"

	"gvisor.dev/rvkernel/pkg/pgalloc"
	"gvisor.dev/rvkernel/pkg/sv39"
)

// satpModeSv39 is the MODE field of satp selecting Sv39 translation.
const satpModeSv39 = 8 << 60

// PageTables is a page table tree. It owns the frames holding its own
// tables, but not the frames its leaf entries point to.
type PageTables struct {
	mem   *pgalloc.PhysMem
	alloc *pgalloc.FrameAllocator
	root  sv39.PhysPageNum

	// frames holds every table page, root first. It is nil for views
	// returned by FromToken.
	frames []*pgalloc.FrameTracker
}

// New returns an empty page table whose tables are allocated from a.
func New(a *pgalloc.FrameAllocator) (*PageTables, error) {
	f, err := a.Alloc()
	if err != nil {
		return nil, fmt.Errorf("allocating root page table: %w", err)
	}
	return &PageTables{
		mem:    a.Mem(),
		alloc:  a,
		root:   f.PPN(),
		frames: []*pgalloc.FrameTracker{f},
	}, nil
}

// FromToken returns a read-only view of the page table that satp value
// token selects. The view owns nothing and must not be modified.
func FromToken(mem *pgalloc.PhysMem, token uint64) *PageTables {
	return &PageTables{
		mem:  mem,
		root: sv39.NewPhysPageNum(token),
	}
}

// Token returns the satp value that selects this page table.
func (p *PageTables) Token() uint64 {
	return satpModeSv39 | uint64(p.root)
}

// Mem returns the physical memory the tables live in.
func (p *PageTables) Mem() *pgalloc.PhysMem {
	return p.mem
}

// Root returns the physical page number of the root table.
func (p *PageTables) Root() sv39.PhysPageNum {
	return p.root
}

// TablePages returns the number of table pages p owns.
func (p *PageTables) TablePages() int {
	return len(p.frames)
}

// findPTE returns the leaf entry for vpn. If create is true, missing
// intermediate tables are allocated; otherwise nil is returned if any
// intermediate level is invalid.
func (p *PageTables) findPTE(vpn sv39.VirtPageNum, create bool) *PTE {
	idx := vpn.Indexes()
	ppn := p.root
	for level, i := range idx {
		pte := &ptesAt(p.mem, ppn)[i]
		if level == sv39.Levels-1 {
			return pte
		}
		if !pte.Valid() {
			if !create {
				return nil
			}
			f, err := p.alloc.Alloc()
			if err != nil {
				panic(fmt.Sprintf("allocating page table for %v: %v", vpn, err))
			}
			p.frames = append(p.frames, f)
			*pte = NewPTE(f.PPN(), Valid)
		}
		ppn = pte.PPN()
	}
	panic("unreachable")
}

// Map installs a leaf entry mapping vpn to ppn with the given flags. The V
// bit is always set.
//
// Precondition: vpn is not mapped.
func (p *PageTables) Map(vpn sv39.VirtPageNum, ppn sv39.PhysPageNum, flags PTEFlags) {
	p.checkOwner()
	pte := p.findPTE(vpn, true)
	if pte.Valid() {
		panic(fmt.Sprintf("%v is mapped before mapping", vpn))
	}
	*pte = NewPTE(ppn, flags|Valid)
}

// Unmap clears the leaf entry for vpn.
//
// Precondition: vpn is mapped.
func (p *PageTables) Unmap(vpn sv39.VirtPageNum) {
	p.checkOwner()
	pte := p.findPTE(vpn, false)
	if pte == nil || !pte.Valid() {
		panic(fmt.Sprintf("%v is invalid before unmapping", vpn))
	}
	*pte = 0
}

// Translate returns the valid leaf entry for vpn, or false if vpn is not
// mapped.
func (p *PageTables) Translate(vpn sv39.VirtPageNum) (PTE, bool) {
	pte := p.findPTE(vpn, false)
	if pte == nil || !pte.Valid() {
		return 0, false
	}
	return *pte, true
}

// TranslateVA returns the physical address va maps to, or false if it is not
// mapped.
func (p *PageTables) TranslateVA(va sv39.VirtAddr) (sv39.PhysAddr, bool) {
	pte, ok := p.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return pte.PPN().Addr() + sv39.PhysAddr(va.PageOffset()), true
}

// Release frees every table page. p must not be used afterwards.
func (p *PageTables) Release() {
	p.checkOwner()
	for _, f := range p.frames {
		f.Release()
	}
	p.frames = nil
}

func (p *PageTables) checkOwner() {
	if p.alloc == nil {
		panic("modifying a page table view")
	}
}
