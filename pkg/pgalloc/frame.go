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

package pgalloc

import (
	"errors"
	"fmt"

	"gvisor.dev/rvkernel/pkg/sv39"
	"gvisor.dev/rvkernel/pkg/sync"
)

// ErrOutOfMemory is returned when no physical frame is free.
var ErrOutOfMemory = errors.New("out of physical frames")

// FrameAllocator hands out single physical pages from the range
// [start, end) of a PhysMem.
type FrameAllocator struct {
	mem   *PhysMem
	start sv39.PhysPageNum
	end   sv39.PhysPageNum
	state sync.ExclusiveCell[frameState]
}

type frameState struct {
	// used has one bit per frame in [start, end).
	used bitmap

	// hint is where the next search for a free frame begins.
	hint uint64
}

// NewFrameAllocator returns an allocator for the frames [start, end) of mem.
//
// Precondition: [start, end) lies within mem.
func NewFrameAllocator(mem *PhysMem, start, end sv39.PhysPageNum) *FrameAllocator {
	if start > end || !mem.Contains(start.Addr(), uint64(end-start)*sv39.PageSize) {
		panic(fmt.Sprintf("frame range [%v, %v) outside RAM [%v, %v)", start, end, mem.Start(), mem.End()))
	}
	a := &FrameAllocator{mem: mem, start: start, end: end}
	a.state.Borrow().used = newBitmap(uint64(end - start))
	a.state.Release()
	return a
}

// Mem returns the RAM frames are carved from.
func (a *FrameAllocator) Mem() *PhysMem {
	return a.mem
}

// Alloc returns a zeroed physical frame, or ErrOutOfMemory.
func (a *FrameAllocator) Alloc() (*FrameTracker, error) {
	s := a.state.Borrow()
	i, ok := s.used.firstZero(s.hint)
	if !ok {
		a.state.Release()
		return nil, ErrOutOfMemory
	}
	s.used.add(i)
	s.hint = i + 1
	a.state.Release()

	ppn := a.start + sv39.PhysPageNum(i)
	a.mem.ZeroPage(ppn)
	return &FrameTracker{ppn: ppn, a: a}, nil
}

// dealloc returns ppn to the pool.
//
// Precondition: ppn was allocated by a and has not been freed since.
func (a *FrameAllocator) dealloc(ppn sv39.PhysPageNum) {
	if ppn < a.start || ppn >= a.end {
		panic(fmt.Sprintf("frame %v outside pool [%v, %v)", ppn, a.start, a.end))
	}
	s := a.state.Borrow()
	defer a.state.Release()
	i := uint64(ppn - a.start)
	if !s.used.isSet(i) {
		panic(fmt.Sprintf("frame %v has not been allocated", ppn))
	}
	s.used.remove(i)
}

// Free returns the number of unallocated frames.
func (a *FrameAllocator) Free() uint64 {
	return sync.Get(&a.state, func(s *frameState) uint64 {
		return s.used.size - s.used.numOnes
	})
}

// Total returns the number of frames managed by a.
func (a *FrameAllocator) Total() uint64 {
	return uint64(a.end - a.start)
}

// FrameTracker owns one physical frame. Release returns the frame to its
// allocator.
type FrameTracker struct {
	ppn      sv39.PhysPageNum
	a        *FrameAllocator
	released bool
}

// PPN returns the frame's physical page number.
func (f *FrameTracker) PPN() sv39.PhysPageNum {
	return f.ppn
}

// Bytes returns the frame's contents.
func (f *FrameTracker) Bytes() []byte {
	return f.a.mem.Page(f.ppn)
}

// Release frees the frame.
//
// Precondition: f has not been released.
func (f *FrameTracker) Release() {
	if f.released {
		panic(fmt.Sprintf("double release of frame %v", f.ppn))
	}
	f.released = true
	f.a.dealloc(f.ppn)
}

// String implements fmt.Stringer.String.
func (f *FrameTracker) String() string {
	return fmt.Sprintf("FrameTracker:%v", f.ppn)
}
