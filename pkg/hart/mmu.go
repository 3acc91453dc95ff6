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

package hart

import (
	"encoding/binary"

	"gvisor.dev/rvkernel/pkg/sv39"
)

// accessType is the kind of a memory access.
type accessType int

const (
	fetch accessType = iota
	load
	store
)

// pageFault returns the page fault cause for an access of type at.
func (at accessType) pageFault() Cause {
	switch at {
	case fetch:
		return InstructionPageFault
	case load:
		return LoadPageFault
	default:
		return StorePageFault
	}
}

// accessFault returns the access fault cause for an access of type at.
func (at accessType) accessFault() Cause {
	switch at {
	case fetch:
		return InstructionFault
	case load:
		return LoadFault
	default:
		return StoreFault
	}
}

// translate translates a user access of at least one byte at va, which must
// not cross a page boundary.
func (h *Hart) translate(va uint64, at accessType) (sv39.PhysAddr, Cause, bool) {
	if !sv39.VirtAddr(va).Canonical() {
		return 0, at.pageFault(), false
	}
	v := sv39.NewVirtAddr(va)
	pte, ok := h.pt.Translate(v.Floor())
	if !ok || !pte.UserAccessible() {
		return 0, at.pageFault(), false
	}
	switch at {
	case fetch:
		ok = pte.Executable()
	case load:
		ok = pte.Readable()
	case store:
		ok = pte.Writable()
	}
	if !ok {
		return 0, at.pageFault(), false
	}
	pa := pte.PPN().Addr() + sv39.PhysAddr(v.PageOffset())
	if !h.mem.Contains(pa, 1) {
		return 0, at.accessFault(), false
	}
	return pa, 0, true
}

// access returns the physical bytes backing n bytes at va. Accesses that
// cross a page boundary return one slice per page.
func (h *Hart) access(va uint64, n int, at accessType) ([][]byte, Cause, bool) {
	var out [][]byte
	for n > 0 {
		chunk := min(n, int(sv39.PageSize-va%sv39.PageSize))
		pa, cause, ok := h.translate(va, at)
		if !ok {
			return nil, cause, false
		}
		out = append(out, h.mem.Slice(pa, uint64(chunk)))
		va += uint64(chunk)
		n -= chunk
	}
	return out, 0, true
}

// loadUint reads an n byte little endian value.
func (h *Hart) loadUint(va uint64, n int) (uint64, Cause, bool) {
	bufs, cause, ok := h.access(va, n, load)
	if !ok {
		return 0, cause, false
	}
	var b [8]byte
	off := 0
	for _, s := range bufs {
		off += copy(b[off:], s)
	}
	return binary.LittleEndian.Uint64(b[:]), 0, true
}

// storeUint writes the low n bytes of v little endian. Nothing is written
// if any byte faults.
func (h *Hart) storeUint(va uint64, n int, v uint64) (Cause, bool) {
	bufs, cause, ok := h.access(va, n, store)
	if !ok {
		return cause, false
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	off := 0
	for _, s := range bufs {
		off += copy(s, b[off:n])
	}
	return 0, true
}

// fetchInsn reads the instruction at pc.
func (h *Hart) fetchInsn(pc uint64) (uint32, Cause, bool) {
	if pc%4 != 0 {
		return 0, InstructionMisaligned, false
	}
	pa, cause, ok := h.translate(pc, fetch)
	if !ok {
		return 0, cause, false
	}
	return binary.LittleEndian.Uint32(h.mem.Slice(pa, 4)), 0, true
}
