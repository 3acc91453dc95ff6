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

package pagetables

import (
	"fmt"
	"strings"

	"gvisor.dev/rvkernel/pkg/sv39"
)

// PTEFlags are the low permission bits of a page table entry.
type PTEFlags uint8

// Page table entry flags.
const (
	Valid PTEFlags = 1 << iota
	Read
	Write
	Execute
	User
	Global
	Accessed
	Dirty
)

// String implements fmt.Stringer.String.
func (f PTEFlags) String() string {
	var b strings.Builder
	for i, c := range "VRWXUGAD" {
		if f&(1<<i) != 0 {
			b.WriteRune(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

const (
	flagBits = 8
	ppnShift = 10
	ppnMask  = 1<<sv39.PPNWidth - 1
)

// PTE is a Sv39 page table entry: the physical page number shifted left by
// ten bits, ORed with the flags.
type PTE uint64

// PTEs is one page table page.
type PTEs [sv39.EntriesPerTable]PTE

// NewPTE returns an entry mapping ppn with the given flags.
func NewPTE(ppn sv39.PhysPageNum, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<ppnShift | uint64(flags))
}

// PPN returns the physical page number the entry points to.
func (p PTE) PPN() sv39.PhysPageNum {
	return sv39.PhysPageNum(uint64(p) >> ppnShift & ppnMask)
}

// Flags returns the entry's flags.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p & (1<<flagBits - 1))
}

// Valid returns true if the V bit is set.
func (p PTE) Valid() bool {
	return p.Flags()&Valid != 0
}

// Readable returns true if the R bit is set.
func (p PTE) Readable() bool {
	return p.Flags()&Read != 0
}

// Writable returns true if the W bit is set.
func (p PTE) Writable() bool {
	return p.Flags()&Write != 0
}

// Executable returns true if the X bit is set.
func (p PTE) Executable() bool {
	return p.Flags()&Execute != 0
}

// UserAccessible returns true if the U bit is set.
func (p PTE) UserAccessible() bool {
	return p.Flags()&User != 0
}

// Leaf returns true if the entry maps a page rather than pointing at the
// next level table.
func (p PTE) Leaf() bool {
	return p.Flags()&(Read|Write|Execute) != 0
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%v %v", p.PPN(), p.Flags())
}
