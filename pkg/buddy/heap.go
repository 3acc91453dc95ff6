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

// Package buddy implements a buddy-system allocator over a fixed arena.
//
// Free blocks are kept on one list per power-of-two size class. An
// allocation takes the smallest non-empty class that fits and splits it down;
// a free merges the block with its buddy (address XOR size) for as long as
// the buddy is also free.
package buddy

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// MaxOrder is the number of size classes. Class i holds blocks of
	// 1<<i bytes.
	MaxOrder = 32

	// alignSize is the minimum block size and alignment: one link word.
	alignSize = 8
)

// ErrNoMemory is returned when no free block is large enough.
var ErrNoMemory = errors.New("buddy: no free block large enough")

// Heap is a buddy-system allocator. Addresses handed out by a Heap are
// absolute: the first byte of the arena has address base.
type Heap struct {
	arena     arena
	free      [MaxOrder]freeList
	allocated uint64
	total     uint64
}

// New returns a Heap managing data, whose first byte has address base.
func New(data []byte, base uint64) *Heap {
	h := &Heap{arena: arena{data: data, base: base}}
	h.AddToHeap(base, base+uint64(len(data)))
	return h
}

// AddToHeap adds [start, end) to the free lists.
//
// Precondition: [start, end) lies within the arena and does not overlap
// memory already managed by h.
func (h *Heap) AddToHeap(start, end uint64) {
	start = (start + alignSize - 1) &^ (alignSize - 1)
	end &^= alignSize - 1
	if start > end {
		panic(fmt.Sprintf("invalid heap range [%#x, %#x)", start, end))
	}

	for start+alignSize <= end {
		size := min(lowbit(start), prevPowerOfTwo(end-start), 1<<(MaxOrder-1))
		h.free[bits.TrailingZeros64(size)].push(h.arena, start)
		h.total += size
		start += size
	}
}

// Alloc returns the address of a block of at least size bytes aligned to
// align, or ErrNoMemory.
func (h *Heap) Alloc(size, align uint64) (uint64, error) {
	size, ok := blockSize(size, align)
	if !ok {
		return 0, ErrNoMemory
	}
	class := bits.TrailingZeros64(size)

	for i := class; i < MaxOrder; i++ {
		if h.free[i].empty() {
			continue
		}
		// Split down to the requested class.
		for j := i; j > class; j-- {
			block, ok := h.free[j].pop(h.arena)
			if !ok {
				return 0, ErrNoMemory
			}
			half := uint64(1) << (j - 1)
			h.free[j-1].push(h.arena, block+half)
			h.free[j-1].push(h.arena, block)
		}
		addr, ok := h.free[class].pop(h.arena)
		if !ok {
			return 0, ErrNoMemory
		}
		h.allocated += size
		return addr, nil
	}
	return 0, ErrNoMemory
}

// Dealloc frees the block at addr, which must have been returned by Alloc
// with the same size and align.
func (h *Heap) Dealloc(addr, size, align uint64) {
	block, ok := blockSize(size, align)
	if !ok {
		panic(fmt.Sprintf("dealloc of %#x bytes at %#x, larger than any block", size, addr))
	}
	size = block
	class := bits.TrailingZeros64(size)

	h.free[class].push(h.arena, addr)

	// Merge with free buddies.
	for class < MaxOrder-1 {
		buddy := addr ^ (uint64(1) << class)
		if !h.free[class].remove(h.arena, buddy) {
			break
		}
		// Remove the block pushed above.
		h.free[class].pop(h.arena)
		addr = min(addr, buddy)
		class++
		h.free[class].push(h.arena, addr)
	}

	h.allocated -= size
}

// Bytes returns the n bytes of the arena starting at addr.
func (h *Heap) Bytes(addr, n uint64) []byte {
	a := h.arena
	if addr < a.base || addr-a.base > uint64(len(a.data)) || n > uint64(len(a.data))-(addr-a.base) {
		panic(fmt.Sprintf("range [%#x, +%#x) outside heap arena", addr, n))
	}
	off := addr - a.base
	return a.data[off : off+n : off+n]
}

// Allocated returns the number of bytes currently handed out, counting each
// allocation at its rounded block size.
func (h *Heap) Allocated() uint64 {
	return h.allocated
}

// Total returns the number of bytes managed by h.
func (h *Heap) Total() uint64 {
	return h.total
}

// FreeBlocks returns the number of free blocks in each size class.
func (h *Heap) FreeBlocks() [MaxOrder]int {
	var n [MaxOrder]int
	for i := range h.free {
		n[i] = h.free[i].len
	}
	return n
}

// String implements fmt.Stringer.String.
func (h *Heap) String() string {
	return fmt.Sprintf("Heap{allocated: %#x, total: %#x}", h.allocated, h.total)
}

// maxBlock is the size of the largest size class.
const maxBlock = 1 << (MaxOrder - 1)

// blockSize returns the block size serving a request: the smallest power of
// two no smaller than size, align or one link word. It returns false if no
// size class is that large. align must be a power of two.
func blockSize(size, align uint64) (uint64, bool) {
	if align == 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("alignment %#x is not a power of two", align))
	}
	n := max(size, align, alignSize)
	if n > maxBlock {
		return 0, false
	}
	return nextPowerOfTwo(n), true
}

// lowbit returns the largest power of two dividing x.
func lowbit(x uint64) uint64 {
	if x == 0 {
		return 1 << 63
	}
	return x & -x
}

// prevPowerOfTwo returns the largest power of two no greater than x.
//
// Precondition: x > 0.
func prevPowerOfTwo(x uint64) uint64 {
	return 1 << (63 - bits.LeadingZeros64(x))
}

// nextPowerOfTwo returns the smallest power of two no smaller than x.
func nextPowerOfTwo(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(x-1))
}
